package core

import (
	"sync"
	"time"
)

// Decision is the graded outcome of a pre-send check.
const (
	DecisionAllow = "ALLOW"
	DecisionWarn  = "WARN"
	DecisionBlock = "BLOCK"
)

// Attachment kind buckets used by both the builder histograms and the scorer.
const (
	AttachmentNone  = "none"
	AttachmentLink  = "link"
	AttachmentZip   = "zip"
	AttachmentXlsx  = "xlsx"
	AttachmentPdf   = "pdf"
	AttachmentOther = "other"
)

// AttachmentKinds lists every histogram bucket in serialization order.
var AttachmentKinds = []string{
	AttachmentNone,
	AttachmentLink,
	AttachmentZip,
	AttachmentXlsx,
	AttachmentPdf,
	AttachmentOther,
}

// ReferenceNow is the fixed evaluation instant used when a draft carries no
// timestamp and as the anchor for the builder's historical window. Keeping it
// fixed makes builds and scoring runs reproducible against recorded data.
var ReferenceNow = time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

// Recipient is a single to/cc/bcc entry of a draft. UserID may be empty when
// the client only knows a bare address.
type Recipient struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email"`
}

// Attachment describes one attachment of a draft.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	IsLink      bool   `json:"isLink"`
}

// Draft is a proposed outbound message submitted for a pre-send check.
type Draft struct {
	SenderUserID string       `json:"senderUserId"`
	To           []Recipient  `json:"to"`
	CC           []Recipient  `json:"cc"`
	BCC          []Recipient  `json:"bcc"`
	MessageText  string       `json:"messageText"`
	Attachments  []Attachment `json:"attachments"`
	Now          *time.Time   `json:"now,omitempty"`
}

// AllRecipients returns to, cc and bcc entries in submission order.
func (d *Draft) AllRecipients() []Recipient {
	out := make([]Recipient, 0, len(d.To)+len(d.CC)+len(d.BCC))
	out = append(out, d.To...)
	out = append(out, d.CC...)
	out = append(out, d.BCC...)
	return out
}

// EvaluatedAt resolves the draft's evaluation instant.
func (d *Draft) EvaluatedAt() time.Time {
	if d.Now != nil {
		return d.Now.UTC()
	}
	return ReferenceNow
}

// SenderProfile is the behavioral baseline aggregated for one sender.
// Histogram maps are zero-filled over their fixed key sets so consumers never
// have to distinguish absent from zero.
type SenderProfile struct {
	KnownParticipants         []string                  `json:"known_participants"`
	KnownExternalDomains      []string                  `json:"known_external_domains"`
	HourHistogram             map[string]int            `json:"hour_histogram"`
	WeekendRate               float64                   `json:"weekend_rate"`
	RecipientMean             float64                   `json:"recipient_mean"`
	RecipientStd              float64                   `json:"recipient_std"`
	AttachmentRate            float64                   `json:"attachment_rate"`
	AttachmentTypes           map[string]int            `json:"attachment_types"`
	TopicHistogram            map[string]int            `json:"topic_histogram"`
	RareTopics                []string                  `json:"rare_topics"`
	TopicRecipientCounts      map[string]map[string]int `json:"topic_recipient_counts"`
	TopicExternalDomainCounts map[string]map[string]int `json:"topic_external_domain_counts"`
}

// KnownParticipantSet returns the known participants as a lookup set.
func (p *SenderProfile) KnownParticipantSet() map[string]bool {
	set := make(map[string]bool, len(p.KnownParticipants))
	for _, id := range p.KnownParticipants {
		set[id] = true
	}
	return set
}

// KnownExternalDomainSet returns the known external domains as a lookup set.
func (p *SenderProfile) KnownExternalDomainSet() map[string]bool {
	set := make(map[string]bool, len(p.KnownExternalDomains))
	for _, domain := range p.KnownExternalDomains {
		set[domain] = true
	}
	return set
}

// TopicRecipientCount reports how often the sender addressed recipientID under
// topic. Missing maps count as zero.
func (p *SenderProfile) TopicRecipientCount(topic, recipientID string) int {
	if p.TopicRecipientCounts == nil {
		return 0
	}
	return p.TopicRecipientCounts[topic][recipientID]
}

// TopicExternalDomainCount reports how often domain was seen for topic.
func (p *SenderProfile) TopicExternalDomainCount(topic, domain string) int {
	if p.TopicExternalDomainCounts == nil {
		return 0
	}
	return p.TopicExternalDomainCounts[topic][domain]
}

// BaselineMeta describes how a baseline snapshot was produced.
type BaselineMeta struct {
	BaseURL      string `json:"base_url,omitempty"`
	Days         int    `json:"days"`
	NowFixed     string `json:"now_fixed"`
	GeneratedAt  string `json:"generated_at"`
	UserCount    int    `json:"user_count"`
	MessageCount int    `json:"message_count"`
}

// BaselineSnapshot is the full persisted baseline document.
type BaselineSnapshot struct {
	Meta  BaselineMeta              `json:"meta"`
	Users map[string]*SenderProfile `json:"users"`
}

// ConfusionCandidate pairs an unexpected recipient with the known contact
// whose display name it most resembles.
type ConfusionCandidate struct {
	SelectedRecipientID       string  `json:"selectedRecipientId"`
	SelectedRecipientName     string  `json:"selectedRecipientName"`
	SimilarKnownRecipientID   string  `json:"similarKnownRecipientId"`
	SimilarKnownRecipientName string  `json:"similarKnownRecipientName"`
	Similarity                float64 `json:"similarity"`
}

// RecipientCounts breaks the draft's recipient total down by list.
type RecipientCounts struct {
	ToCount         int `json:"to_count"`
	CcCount         int `json:"cc_count"`
	BccCount        int `json:"bcc_count"`
	TotalRecipients int `json:"total_recipients"`
}

// Signals is the structured observation bag attached to every scoring result.
type Signals struct {
	Topic                     string          `json:"topic"`
	SensitiveTopic            bool            `json:"sensitive_topic"`
	HasAttachment             bool            `json:"has_attachment"`
	AttachmentKind            string          `json:"attachment_kind"`
	RecipientCounts           RecipientCounts `json:"recipient_counts"`
	HasExternalRecipient      bool            `json:"has_external_recipient"`
	ExternalDomains           []string        `json:"external_domains"`
	AfterHours                bool            `json:"after_hours"`
	IsWeekend                 bool            `json:"is_weekend"`
	UnexpectedRecipientsCount int             `json:"unexpected_recipients_count"`
	ConfusionDetected         bool            `json:"confusion_detected"`
	ConfusionCandidatesCount  int             `json:"confusion_candidates_count"`
	UnusualRecipientCount     bool            `json:"unusual_recipient_count"`
	RareTopicForSender        bool            `json:"rare_topic_for_sender"`
	UserPrompt                string          `json:"user_prompt,omitempty"`
}

// ScoringResult is the complete outcome of a pre-send check. It is pure
// output and owns no shared state.
type ScoringResult struct {
	Decision            string               `json:"decision"`
	Score               int                  `json:"score"`
	Topic               string               `json:"topic"`
	Reasons             []string             `json:"reasons"`
	Signals             Signals              `json:"signals"`
	ConfusionCandidates []ConfusionCandidate `json:"confusion_candidates"`
}

// UserRecord is one resolved identity from the directory.
type UserRecord struct {
	UserID      string
	DisplayName string
	Email       string
	Domain      string
	UserType    string
}

// Build states reported by BuildStatus.
const (
	BuildStateIdle      = "idle"
	BuildStateRunning   = "running"
	BuildStateCompleted = "completed"
	BuildStateFailed    = "failed"
)

// BuildStatusSnapshot is a point-in-time copy of a build's progress.
type BuildStatusSnapshot struct {
	State             string `json:"state"`
	UsersProcessed    int    `json:"users_processed"`
	MessagesProcessed int    `json:"messages_processed"`
	Error             string `json:"error,omitempty"`
}

// BuildStatus tracks the progress of the baseline build so concurrent callers
// can poll it while the build mutates it incrementally.
type BuildStatus struct {
	mu                sync.Mutex
	state             string
	usersProcessed    int
	messagesProcessed int
	err               string
}

// NewBuildStatus returns an idle status record.
func NewBuildStatus() *BuildStatus {
	return &BuildStatus{state: BuildStateIdle}
}

// Start resets counters and marks the build running.
func (s *BuildStatus) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = BuildStateRunning
	s.usersProcessed = 0
	s.messagesProcessed = 0
	s.err = ""
}

// Complete marks the build completed.
func (s *BuildStatus) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = BuildStateCompleted
}

// Fail marks the build failed with the captured error message.
func (s *BuildStatus) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = BuildStateFailed
	if err != nil {
		s.err = err.Error()
	}
}

// AddUser increments the processed-user counter.
func (s *BuildStatus) AddUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usersProcessed++
}

// AddMessage increments the processed-message counter.
func (s *BuildStatus) AddMessage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesProcessed++
}

// MessagesProcessed reports the current message counter.
func (s *BuildStatus) MessagesProcessed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesProcessed
}

// Running reports whether a build is in flight.
func (s *BuildStatus) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == BuildStateRunning
}

// Snapshot returns a copy safe to serialize.
func (s *BuildStatus) Snapshot() BuildStatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BuildStatusSnapshot{
		State:             s.state,
		UsersProcessed:    s.usersProcessed,
		MessagesProcessed: s.messagesProcessed,
		Error:             s.err,
	}
}
