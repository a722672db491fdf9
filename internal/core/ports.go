package core

import (
	"context"
)

// GraphUser is one user record from the historical message source.
type GraphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	UserType          string `json:"userType"`
}

// Address returns the best-known email address for the user.
func (u GraphUser) Address() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

// ChatMember is one membership entry of a chat.
type ChatMember struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Chat is one conversation a user belongs to.
type Chat struct {
	ID      string       `json:"id"`
	Members []ChatMember `json:"members"`
}

// MessageUser identifies the author of a message.
type MessageUser struct {
	ID string `json:"id"`
}

// MessageFrom wraps the author of a message, matching the wire shape.
type MessageFrom struct {
	User MessageUser `json:"user"`
}

// MessageBody carries the textual content of a message.
type MessageBody struct {
	Content string `json:"content"`
}

// Message is one historical chat message.
type Message struct {
	ID              string       `json:"id"`
	CreatedDateTime string       `json:"createdDateTime"`
	From            MessageFrom  `json:"from"`
	Body            MessageBody  `json:"body"`
	Attachments     []Attachment `json:"attachments"`
}

// GraphSource enumerates the historical communication records the baseline is
// built from. Implementations follow pagination to completion and retry
// transient failures internally; a returned error is terminal for the build.
type GraphSource interface {
	ListUsers(ctx context.Context) ([]GraphUser, error)
	ListUserChats(ctx context.Context, userID string) ([]Chat, error)
	ListChatMessagesSince(ctx context.Context, chatID, cutoffISO string) ([]Message, error)
}

// TermCounts holds mined occurrence counts for one topic, split by term kind.
type TermCounts struct {
	Keywords map[string]int `json:"keywords"`
	Phrases  map[string]int `json:"phrases"`
}

// MinedTerms maps topic name to mined term counts.
type MinedTerms map[string]TermCounts

// KeywordMiner extracts keyword and phrase frequencies from a batch of raw
// message texts. Mining is best-effort: implementations return an empty map on
// any failure instead of an error, so a broken miner never fails a build.
type KeywordMiner interface {
	Extract(ctx context.Context, messages []string) MinedTerms
}

// Term types persisted by the TermStore.
const (
	TermTypeKeyword = "keyword"
	TermTypePhrase  = "phrase"
)

// Reasons a reviewed term was marked ignored.
const (
	IgnoreReasonNone         = 0
	IgnoreReasonAddedToRules = 1
	IgnoreReasonSuppressed   = 2
)

// TermEntry is the persisted state of one mined term.
type TermEntry struct {
	Occurrences     int  `json:"occurrences"`
	Ignored         bool `json:"ignored"`
	ReasonForIgnore int  `json:"reasonForIgnore"`
}

// TopicTerms groups the term entries of one topic by kind.
type TopicTerms struct {
	Keywords map[string]TermEntry `json:"keywords"`
	Phrases  map[string]TermEntry `json:"phrases"`
}

// KeywordMeta describes a keyword snapshot export.
type KeywordMeta struct {
	GeneratedAt  string `json:"generated_at"`
	Days         int    `json:"days"`
	MessageCount int    `json:"message_count"`
	BatchSize    int    `json:"batch_size"`
}

// KeywordSnapshot is the persisted keyword statistics document.
type KeywordSnapshot struct {
	Meta   KeywordMeta           `json:"meta"`
	Topics map[string]TopicTerms `json:"topics"`
}

// ReviewItem is one human review action over a mined term.
type ReviewItem struct {
	Topic    string `json:"topic"`
	Term     string `json:"term"`
	TermType string `json:"termType"`
	Action   string `json:"action"`
}

// Suggestion is one non-ignored term offered for review.
type Suggestion struct {
	Term  string `json:"term"`
	Type  string `json:"type"`
	Score int    `json:"score"`
}

// TermStore persists keyword term statistics across builder runs. Occurrence
// counts merge additively; ignore decisions are set only by review and survive
// re-imports.
type TermStore interface {
	InitSchema(ctx context.Context) error
	ImportSnapshotIfEmpty(ctx context.Context, snapshot *KeywordSnapshot) error
	Increment(ctx context.Context, topics map[string]TopicTerms) error
	ApplyIgnoreFlags(ctx context.Context, topics map[string]TopicTerms) error
	ApplyReview(ctx context.Context, items []ReviewItem) (int, error)
	ListTopics(ctx context.Context) ([]string, error)
	ListSuggestions(ctx context.Context, topic string) ([]Suggestion, error)
	ExportSnapshot(ctx context.Context, days, messageCount, batchSize int) (*KeywordSnapshot, error)
	Close() error
}

// ExplainSignals is the redacted subset of scoring signals shared with the
// explanation collaborator. Raw message text never leaves the process.
type ExplainSignals struct {
	SensitiveTopic            bool   `json:"sensitive_topic"`
	HasAttachment             bool   `json:"has_attachment"`
	AttachmentKind            string `json:"attachment_kind"`
	HasExternalRecipient      bool   `json:"has_external_recipient"`
	AfterHours                bool   `json:"after_hours"`
	UnexpectedRecipientsCount int    `json:"unexpected_recipients_count"`
}

// ExplainCandidate is a confusion candidate stripped to name-level fields.
type ExplainCandidate struct {
	SelectedRecipientName        string  `json:"selectedRecipientName"`
	SelectedRecipientEmailDomain string  `json:"selectedRecipientEmailDomain"`
	SimilarKnownRecipientName    string  `json:"similarKnownRecipientName"`
	Similarity                   float64 `json:"similarity"`
}

// ExplainRequest is the payload sent to the explanation collaborator.
type ExplainRequest struct {
	Decision            string             `json:"decision"`
	Score               int                `json:"score"`
	Topic               string             `json:"topic"`
	Reasons             []string           `json:"reasons"`
	Signals             ExplainSignals     `json:"signals"`
	ConfusionCandidates []ExplainCandidate `json:"confusion_candidates"`
	RecommendedActions  []string           `json:"recommended_actions"`
}

// Explanation is a natural-language account of a scoring decision.
type Explanation struct {
	Explanation string `json:"explanation"`
	UserPrompt  string `json:"user_prompt"`
}

// Explainer produces a human-readable explanation for a non-ALLOW decision.
// An error or nil result means the caller should fall back to the
// deterministic template.
type Explainer interface {
	Explain(ctx context.Context, req *ExplainRequest) (*Explanation, error)
}
