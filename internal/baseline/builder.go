package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/topic"
)

// ErrBuildInProgress is returned when a build is requested while another run
// holds the single-flight lock.
var ErrBuildInProgress = errors.New("baseline build already in progress")

const minKeywordBatchSize = 10

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	OutputPath       string
	KeywordStatsPath string
	KeywordBatchSize int
	FetchConcurrency int
	CompanyDomain    string
}

// Builder walks the historical message corpus and aggregates one behavioral
// profile per sender. At most one build runs at a time; message fetches fan
// out with bounded concurrency while accumulation stays on the calling
// goroutine.
type Builder struct {
	source     core.GraphSource
	classifier *topic.Classifier
	miner      core.KeywordMiner
	termStore  core.TermStore
	status     *core.BuildStatus
	logger     *zap.Logger

	outputPath       string
	statsPath        string
	batchSize        int
	fetchConcurrency int
	companyDomain    string

	buildMu sync.Mutex
	stats   *termStats
	buffer  []string
}

// NewBuilder creates a builder. miner and termStore may be nil, disabling
// keyword mining and DB persistence respectively. Previously persisted keyword
// statistics are loaded up front so occurrence counts accumulate across runs.
func NewBuilder(
	source core.GraphSource,
	classifier *topic.Classifier,
	miner core.KeywordMiner,
	termStore core.TermStore,
	status *core.BuildStatus,
	opts BuilderOptions,
	logger *zap.Logger,
) *Builder {
	batchSize := opts.KeywordBatchSize
	if batchSize < minKeywordBatchSize {
		batchSize = minKeywordBatchSize
	}
	concurrency := opts.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	companyDomain := opts.CompanyDomain
	if companyDomain == "" {
		companyDomain = "company.com"
	}
	return &Builder{
		source:           source,
		classifier:       classifier,
		miner:            miner,
		termStore:        termStore,
		status:           status,
		logger:           logger,
		outputPath:       opts.OutputPath,
		statsPath:        opts.KeywordStatsPath,
		batchSize:        batchSize,
		fetchConcurrency: concurrency,
		companyDomain:    companyDomain,
		stats:            loadTermStats(opts.KeywordStatsPath),
	}
}

// Status exposes the shared build progress record.
func (b *Builder) Status() *core.BuildStatus {
	return b.status
}

// Build runs a full baseline build over the last days of history. A second
// call while one is running returns ErrBuildInProgress immediately, it never
// queues.
func (b *Builder) Build(ctx context.Context, days int) (*core.BaselineSnapshot, error) {
	if !b.buildMu.TryLock() {
		return nil, ErrBuildInProgress
	}
	defer b.buildMu.Unlock()

	b.status.Start()
	snapshot, err := b.run(ctx, days)
	if err != nil {
		b.status.Fail(err)
		b.logger.Error("Baseline build failed", zap.Error(err))
		return nil, err
	}
	b.status.Complete()
	b.logger.Info("Baseline build completed",
		zap.Int("users", snapshot.Meta.UserCount),
		zap.Int("messages", snapshot.Meta.MessageCount))
	return snapshot, nil
}

func (b *Builder) run(ctx context.Context, days int) (*core.BaselineSnapshot, error) {
	cutoff := core.ReferenceNow.AddDate(0, 0, -days)
	cutoffISO := cutoff.UTC().Format(time.RFC3339)
	b.logger.Info("Starting baseline build", zap.String("cutoff", cutoffISO))

	users, err := b.source.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	usersByID := make(map[string]core.GraphUser, len(users))
	senders := make(map[string]*senderAccumulator, len(users))
	for _, user := range users {
		if user.ID == "" {
			continue
		}
		usersByID[user.ID] = user
		senders[user.ID] = newSenderAccumulator()
	}

	seen := make(map[string]bool)
	for _, user := range users {
		if user.ID == "" {
			continue
		}
		if err := b.processUser(ctx, user.ID, cutoffISO, usersByID, senders, seen); err != nil {
			return nil, err
		}
	}

	if err := b.flushKeywordBuffer(ctx); err != nil {
		return nil, err
	}

	snapshot := b.finalize(usersByID, senders, days)
	if err := writeSnapshot(b.outputPath, snapshot); err != nil {
		return nil, fmt.Errorf("writing baseline: %w", err)
	}
	if err := b.stats.write(b.statsPath, days, snapshot.Meta.MessageCount, b.batchSize); err != nil {
		return nil, fmt.Errorf("writing keyword stats: %w", err)
	}
	return snapshot, nil
}

func (b *Builder) processUser(
	ctx context.Context,
	userID, cutoffISO string,
	usersByID map[string]core.GraphUser,
	senders map[string]*senderAccumulator,
	seen map[string]bool,
) error {
	chats, err := b.source.ListUserChats(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing chats for %s: %w", userID, err)
	}
	b.status.AddUser()
	b.logger.Info("Processing user", zap.String("user_id", userID), zap.Int("chats", len(chats)))

	// Fetch every chat's messages concurrently, then fold them in
	// sequentially so the accumulators stay single-owner.
	fetched := make([][]core.Message, len(chats))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.fetchConcurrency)
	for i, chat := range chats {
		if chat.ID == "" || len(memberIDs(chat)) == 0 {
			continue
		}
		group.Go(func() error {
			messages, err := b.source.ListChatMessagesSince(groupCtx, chat.ID, cutoffISO)
			if err != nil {
				return fmt.Errorf("listing messages for chat %s: %w", chat.ID, err)
			}
			fetched[i] = messages
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, chat := range chats {
		members := memberIDs(chat)
		for _, message := range fetched[i] {
			miningText, err := b.processMessage(message, members, usersByID, senders, seen)
			if err != nil {
				b.logger.Warn("Skipping malformed message",
					zap.String("chat_id", chat.ID),
					zap.Error(err))
				continue
			}
			if miningText != "" {
				if err := b.enqueueForMining(ctx, miningText); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (b *Builder) processMessage(
	message core.Message,
	members []string,
	usersByID map[string]core.GraphUser,
	senders map[string]*senderAccumulator,
	seen map[string]bool,
) (string, error) {
	if message.ID == "" {
		return "", errors.New("missing message id")
	}
	if seen[message.ID] {
		return "", nil
	}

	senderID := message.From.User.ID
	accumulator, ok := senders[senderID]
	if !ok {
		return "", fmt.Errorf("unknown sender %q", senderID)
	}

	created, err := time.Parse(time.RFC3339, message.CreatedDateTime)
	if err != nil {
		return "", fmt.Errorf("invalid createdDateTime %q", message.CreatedDateTime)
	}
	created = created.UTC()

	recipients := make([]string, 0, len(members))
	for _, id := range members {
		if id == senderID {
			continue
		}
		if _, known := usersByID[id]; known {
			recipients = append(recipients, id)
		}
	}

	accumulator.messageCount++
	b.status.AddMessage()

	accumulator.hourHistogram[created.Hour()]++
	if weekday := created.Weekday(); weekday == time.Saturday || weekday == time.Sunday {
		accumulator.weekendMessages++
	}
	accumulator.recipientCounts = append(accumulator.recipientCounts, len(recipients))

	kind := core.DetectAttachmentKind(message.Attachments)
	accumulator.attachmentTypes[kind]++
	if len(message.Attachments) > 0 {
		accumulator.attachmentMessages++
	}

	attachmentNames := make([]string, 0, len(message.Attachments))
	for _, item := range message.Attachments {
		attachmentNames = append(attachmentNames, item.Name)
	}
	topicName := b.classifier.Classify(message.Body.Content, attachmentNames)
	accumulator.topicHistogram[topicName]++

	for _, recipientID := range recipients {
		accumulator.knownParticipants[recipientID] = true
		accumulator.addTopicRecipient(topicName, recipientID)

		if domain := b.externalDomain(usersByID[recipientID]); domain != "" {
			accumulator.knownExternalDomains[domain] = true
			accumulator.addTopicExternalDomain(topicName, domain)
		}
	}

	seen[message.ID] = true
	return miningText(message.Body.Content, attachmentNames), nil
}

func (b *Builder) enqueueForMining(ctx context.Context, text string) error {
	if b.miner == nil {
		return nil
	}
	b.buffer = append(b.buffer, text)
	if len(b.buffer) >= b.batchSize {
		return b.flushKeywordBuffer(ctx)
	}
	return nil
}

// flushKeywordBuffer sends the pending batch to the miner and merges the
// result into the running statistics and, when configured, the term store.
// Miner failures surface as empty results, never as errors.
func (b *Builder) flushKeywordBuffer(ctx context.Context) error {
	if b.miner == nil || len(b.buffer) == 0 {
		return nil
	}
	batch := b.buffer
	b.buffer = nil

	mined := b.miner.Extract(ctx, batch)
	if len(mined) == 0 {
		return nil
	}
	b.stats.merge(mined)

	if b.termStore != nil {
		if err := b.termStore.Increment(ctx, minedToTopicTerms(mined)); err != nil {
			return fmt.Errorf("persisting mined terms: %w", err)
		}
	}
	return nil
}

func (b *Builder) finalize(
	usersByID map[string]core.GraphUser,
	senders map[string]*senderAccumulator,
	days int,
) *core.BaselineSnapshot {
	profiles := make(map[string]*core.SenderProfile, len(senders))
	for senderID, accumulator := range senders {
		profiles[senderID] = accumulator.finalize()
	}
	return &core.BaselineSnapshot{
		Meta: core.BaselineMeta{
			Days:         days,
			NowFixed:     core.ReferenceNow.Format(time.RFC3339),
			GeneratedAt:  time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
			UserCount:    len(usersByID),
			MessageCount: b.status.MessagesProcessed(),
		},
		Users: profiles,
	}
}

func writeSnapshot(path string, snapshot *core.BaselineSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func memberIDs(chat core.Chat) []string {
	ids := make([]string, 0, len(chat.Members))
	for _, member := range chat.Members {
		if member.UserID != "" {
			ids = append(ids, member.UserID)
		}
	}
	return ids
}

func miningText(body string, attachmentNames []string) string {
	text := body
	for _, name := range attachmentNames {
		if name == "" {
			continue
		}
		if text != "" {
			text += " "
		}
		text += name
	}
	return text
}

// externalDomain returns the recipient's domain when it lies outside the
// company, or "external" for guests without a resolvable address.
func (b *Builder) externalDomain(user core.GraphUser) string {
	domain := ""
	if email := user.Address(); email != "" {
		if at := strings.IndexByte(email, '@'); at >= 0 {
			domain = strings.ToLower(email[at+1:])
		}
	}
	if user.UserType == "Guest" || (domain != "" && domain != b.companyDomain) {
		if domain == "" {
			return "external"
		}
		return domain
	}
	return ""
}
