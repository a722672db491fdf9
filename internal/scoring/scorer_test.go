package scoring

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/directory"
	"github.com/mikey/misdelivery-guard/internal/topic"
)

const scorerRulesJSON = `{
	"normal_threshold": 2,
	"topics": {
		"finance": {"single_keywords": ["invoice", "payment"], "phrases": ["wire transfer"]},
		"technical": {"single_keywords": ["deploy", "rollback"], "phrases": []}
	}
}`

type staticLister struct {
	users []core.GraphUser
}

func (s *staticLister) ListUsers(ctx context.Context) ([]core.GraphUser, error) {
	return s.users, nil
}

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	rules, err := topic.ParseRules([]byte(scorerRulesJSON))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	classifier := topic.NewClassifier(rules, topic.PolicyTotalSignal)

	dir := directory.New(&staticLister{users: []core.GraphUser{
		{ID: "u1", DisplayName: "Anita Desai", Mail: "anita.desai@company.com"},
		{ID: "u2", DisplayName: "Rahul Verma", Mail: "rahul.verma@company.com"},
		{ID: "u3", DisplayName: "Priya Menon", Mail: "priya.menon@company.com"},
		{ID: "u9", DisplayName: "Rahul Varma", Mail: "rahul.varma@partner.io", UserType: "Guest"},
	}}, zap.NewNop())
	if err := dir.Reload(context.Background()); err != nil {
		t.Fatalf("directory reload: %v", err)
	}

	return NewScorer(classifier, dir, "company.com", zap.NewNop())
}

func knownSenderProfile() *core.SenderProfile {
	return &core.SenderProfile{
		KnownParticipants:    []string{"u2", "u3"},
		KnownExternalDomains: []string{},
		RecipientMean:        1.5,
		RecipientStd:         0.5,
		TopicRecipientCounts: map[string]map[string]int{
			"finance": {"u2": 5},
		},
		TopicExternalDomainCounts: map[string]map[string]int{},
		RareTopics:                []string{},
	}
}

func at(value string) *time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestRoutineDraftToKnownRecipientAllows(t *testing.T) {
	scorer := newTestScorer(t)
	draft := &core.Draft{
		SenderUserID: "u1",
		To:           []core.Recipient{{UserID: "u2", Email: "rahul.verma@company.com"}},
		MessageText:  "lunch at noon?",
		Now:          at("2026-02-10T12:00:00Z"),
	}

	result := scorer.Evaluate(draft, knownSenderProfile())

	if result.Decision != core.DecisionAllow {
		t.Errorf("Decision = %q, want ALLOW", result.Decision)
	}
	if result.Score != 0 {
		t.Errorf("Score = %d, want 0", result.Score)
	}
	if len(result.Reasons) != 0 {
		t.Errorf("Reasons = %v, want none", result.Reasons)
	}
	if result.Topic != topic.TopicNormal {
		t.Errorf("Topic = %q, want normal", result.Topic)
	}
}

func TestMissingBaselineFloorsScoreAtWarn(t *testing.T) {
	scorer := newTestScorer(t)
	draft := &core.Draft{
		SenderUserID: "ghost",
		To:           []core.Recipient{{UserID: "u2", Email: "rahul.verma@company.com"}},
		MessageText:  "hello",
		Now:          at("2026-02-10T12:00:00Z"),
	}

	result := scorer.Evaluate(draft, nil)

	if result.Decision != core.DecisionWarn {
		t.Errorf("Decision = %q, want WARN", result.Decision)
	}
	if result.Score != 55 {
		t.Errorf("Score = %d, want 55", result.Score)
	}
	if len(result.Reasons) != 1 || result.Reasons[0] != "no_baseline" {
		t.Errorf("Reasons = %v, want [no_baseline]", result.Reasons)
	}
}

func TestSensitiveTopicToNewExternalDomainBlocks(t *testing.T) {
	scorer := newTestScorer(t)
	draft := &core.Draft{
		SenderUserID: "u1",
		To:           []core.Recipient{{Email: "contact@rivals.example"}},
		MessageText:  "invoice for the wire transfer payment",
		Now:          at("2026-02-10T12:00:00Z"),
	}

	result := scorer.Evaluate(draft, knownSenderProfile())

	// recipient_unusual_for_topic 20 + sensitive_topic_to_external 35 +
	// new_external_domain_for_sender 20 + new_external_domain_for_topic 20.
	if result.Score != 95 {
		t.Errorf("Score = %d, want 95", result.Score)
	}
	if result.Decision != core.DecisionBlock {
		t.Errorf("Decision = %q, want BLOCK", result.Decision)
	}
	if result.Topic != "finance" {
		t.Errorf("Topic = %q, want finance", result.Topic)
	}
	wantReasons := []string{
		"recipient_unusual_for_topic",
		"sensitive_topic_to_external",
		"new_external_domain_for_sender",
		"new_external_domain_for_topic",
	}
	if len(result.Reasons) != len(wantReasons) {
		t.Fatalf("Reasons = %v, want %v", result.Reasons, wantReasons)
	}
	for i, want := range wantReasons {
		if result.Reasons[i] != want {
			t.Errorf("Reasons[%d] = %q, want %q", i, result.Reasons[i], want)
		}
	}
	if len(result.Signals.ExternalDomains) != 1 || result.Signals.ExternalDomains[0] != "rivals.example" {
		t.Errorf("ExternalDomains = %v", result.Signals.ExternalDomains)
	}
}

func TestNameConfusionAtExactBlockBoundary(t *testing.T) {
	scorer := newTestScorer(t)
	// Sender regularly talks technical topics with partner.io, so the domain
	// signals stay quiet; the lookalike recipient and the late hour do not.
	profile := &core.SenderProfile{
		KnownParticipants:    []string{"u2"},
		KnownExternalDomains: []string{"partner.io"},
		RecipientMean:        2,
		RecipientStd:         1,
		TopicExternalDomainCounts: map[string]map[string]int{
			"technical": {"partner.io": 5},
		},
	}
	draft := &core.Draft{
		SenderUserID: "u1",
		To:           []core.Recipient{{UserID: "u9", Email: "rahul.varma@partner.io"}},
		MessageText:  "deploy then rollback if needed",
		Now:          at("2026-02-10T22:00:00Z"),
	}

	result := scorer.Evaluate(draft, profile)

	// name_confusion_possible 55 + recipient_unusual_for_topic 20 +
	// after_hours_external 10 = 85, the exact BLOCK boundary.
	if result.Score != 85 {
		t.Errorf("Score = %d, want 85", result.Score)
	}
	if result.Decision != core.DecisionBlock {
		t.Errorf("Decision = %q, want BLOCK", result.Decision)
	}
	if len(result.ConfusionCandidates) != 1 {
		t.Fatalf("ConfusionCandidates = %v", result.ConfusionCandidates)
	}
	candidate := result.ConfusionCandidates[0]
	if candidate.SelectedRecipientID != "u9" || candidate.SimilarKnownRecipientID != "u2" {
		t.Errorf("candidate = %+v", candidate)
	}
	if candidate.Similarity < 0.90 {
		t.Errorf("Similarity = %v, want >= 0.90", candidate.Similarity)
	}
	if !result.Signals.AfterHours {
		t.Error("AfterHours signal not set")
	}
}

func TestSensitiveAttachmentToLookalikeExternalContactBlocks(t *testing.T) {
	scorer := newTestScorer(t)
	// A finance draft with an attachment, sent to an external lookalike of a
	// known colleague: every major risk signal fires on the same message.
	draft := &core.Draft{
		SenderUserID: "u1",
		To:           []core.Recipient{{UserID: "u9", Email: "rahul.varma@partner.io"}},
		MessageText:  "invoice payment details as discussed",
		Attachments:  []core.Attachment{{Name: "invoice.pdf"}},
		Now:          at("2026-02-10T12:00:00Z"),
	}

	result := scorer.Evaluate(draft, knownSenderProfile())

	if result.Decision != core.DecisionBlock {
		t.Errorf("Decision = %q, want BLOCK", result.Decision)
	}
	// name_confusion_possible 55 + recipient_unusual_for_topic 20 +
	// sensitive_topic_with_attachment 20 + sensitive_topic_to_external 35 +
	// new_external_domain_for_sender 20 + new_external_domain_for_topic 20.
	if result.Score != 170 {
		t.Errorf("Score = %d, want 170", result.Score)
	}
	wantReasons := []string{
		"name_confusion_possible",
		"recipient_unusual_for_topic",
		"sensitive_topic_with_attachment",
		"sensitive_topic_to_external",
		"new_external_domain_for_sender",
		"new_external_domain_for_topic",
	}
	if len(result.Reasons) != len(wantReasons) {
		t.Fatalf("Reasons = %v, want %v", result.Reasons, wantReasons)
	}
	for i, want := range wantReasons {
		if result.Reasons[i] != want {
			t.Errorf("Reasons[%d] = %q, want %q", i, result.Reasons[i], want)
		}
	}
	if len(result.ConfusionCandidates) != 1 {
		t.Fatalf("ConfusionCandidates = %v", result.ConfusionCandidates)
	}
	candidate := result.ConfusionCandidates[0]
	if candidate.SelectedRecipientID != "u9" || candidate.SimilarKnownRecipientID != "u2" {
		t.Errorf("candidate = %+v", candidate)
	}
	if !result.Signals.SensitiveTopic {
		t.Error("SensitiveTopic signal not set")
	}
	if result.Signals.AttachmentKind != core.AttachmentPdf {
		t.Errorf("AttachmentKind = %q, want pdf", result.Signals.AttachmentKind)
	}
	if len(result.Signals.ExternalDomains) != 1 || result.Signals.ExternalDomains[0] != "partner.io" {
		t.Errorf("ExternalDomains = %v, want [partner.io]", result.Signals.ExternalDomains)
	}
}

func TestInternalSensitiveDraftStaysBelowWarn(t *testing.T) {
	scorer := newTestScorer(t)
	draft := &core.Draft{
		SenderUserID: "u1",
		To:           []core.Recipient{{UserID: "u3", Email: "priya.menon@company.com"}},
		MessageText:  "invoice payment attached",
		Attachments:  []core.Attachment{{Name: "invoice.pdf"}},
		Now:          at("2026-02-10T12:00:00Z"),
	}

	result := scorer.Evaluate(draft, knownSenderProfile())

	// recipient_unusual_for_topic 20 + sensitive_topic_with_attachment 20 = 40.
	if result.Score != 40 {
		t.Errorf("Score = %d, want 40", result.Score)
	}
	if result.Decision != core.DecisionAllow {
		t.Errorf("Decision = %q, want ALLOW (54 and below allow)", result.Decision)
	}
	if result.Signals.AttachmentKind != core.AttachmentPdf {
		t.Errorf("AttachmentKind = %q, want pdf", result.Signals.AttachmentKind)
	}
}

func TestUnusualRecipientCountSignal(t *testing.T) {
	scorer := newTestScorer(t)
	profile := knownSenderProfile()
	profile.RecipientStd = 0

	draft := &core.Draft{
		SenderUserID: "u1",
		To: []core.Recipient{
			{UserID: "u2", Email: "rahul.verma@company.com"},
			{UserID: "u3", Email: "priya.menon@company.com"},
		},
		CC:          []core.Recipient{{Email: "anita.desai@company.com"}},
		BCC:         []core.Recipient{{Email: "ravi@company.com"}},
		MessageText: "minutes attached",
		Now:         at("2026-02-10T12:00:00Z"),
	}

	result := scorer.Evaluate(draft, profile)

	// 4 recipients > mean 1.5 + 2 with zero stddev.
	if !result.Signals.UnusualRecipientCount {
		t.Error("UnusualRecipientCount not set")
	}
	if result.Score != 10 {
		t.Errorf("Score = %d, want 10", result.Score)
	}
	counts := result.Signals.RecipientCounts
	if counts.ToCount != 2 || counts.CcCount != 1 || counts.BccCount != 1 || counts.TotalRecipients != 4 {
		t.Errorf("RecipientCounts = %+v", counts)
	}
}

func TestWeekendAndRareTopicSignals(t *testing.T) {
	scorer := newTestScorer(t)
	profile := knownSenderProfile()
	profile.RareTopics = []string{"finance"}
	profile.TopicRecipientCounts = map[string]map[string]int{"finance": {"u2": 5}}

	draft := &core.Draft{
		SenderUserID: "u1",
		To:           []core.Recipient{{UserID: "u2", Email: "rahul.verma@company.com"}},
		MessageText:  "invoice payment",
		Now:          at("2026-02-14T12:00:00Z"),
	}

	result := scorer.Evaluate(draft, profile)

	if !result.Signals.IsWeekend {
		t.Error("IsWeekend not set for a Saturday draft")
	}
	if !result.Signals.RareTopicForSender {
		t.Error("RareTopicForSender not set")
	}
	if result.Decision != core.DecisionAllow {
		t.Errorf("Decision = %q, want ALLOW (weekend and rarity are informational)", result.Decision)
	}
}

func TestBareEmailRecipientResolution(t *testing.T) {
	scorer := newTestScorer(t)
	draft := &core.Draft{
		SenderUserID: "u1",
		To:           []core.Recipient{{Email: "Sam.Carter@Partner.IO"}},
		MessageText:  "hello",
		Now:          at("2026-02-10T12:00:00Z"),
	}

	result := scorer.Evaluate(draft, knownSenderProfile())

	if !result.Signals.HasExternalRecipient {
		t.Error("bare external email not flagged external")
	}
	if len(result.Signals.ExternalDomains) != 1 || result.Signals.ExternalDomains[0] != "partner.io" {
		t.Errorf("ExternalDomains = %v, want [partner.io]", result.Signals.ExternalDomains)
	}
}
