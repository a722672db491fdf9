package explain

import (
	"strings"
	"testing"

	"github.com/mikey/misdelivery-guard/internal/core"
)

func TestFallbackLimitsToTwoLines(t *testing.T) {
	explanation, prompt := Fallback([]string{
		"name_confusion_possible",
		"sensitive_topic_to_external",
		"after_hours_external",
	})

	if !strings.Contains(explanation, "autocomplete mistake") {
		t.Errorf("first reason missing: %q", explanation)
	}
	if !strings.Contains(explanation, "external recipient") {
		t.Errorf("second reason missing: %q", explanation)
	}
	if strings.Contains(explanation, "After-hours") {
		t.Errorf("third reason should be dropped: %q", explanation)
	}
	if !strings.HasSuffix(explanation, "Please confirm recipients before sending.") {
		t.Errorf("confirmation suffix missing: %q", explanation)
	}
	if prompt != "Please confirm recipients and attachments before sending." {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestFallbackUnknownReasonsUseGenericLine(t *testing.T) {
	explanation, _ := Fallback([]string{"mystery_reason"})
	if !strings.HasPrefix(explanation, "Potential delivery risk was detected.") {
		t.Errorf("explanation = %q", explanation)
	}
}

func TestFallbackDeduplicatesRepeatedReasons(t *testing.T) {
	explanation, _ := Fallback([]string{"no_baseline", "no_baseline", "after_hours_external"})
	if strings.Count(explanation, "No historical baseline") != 1 {
		t.Errorf("duplicate line in %q", explanation)
	}
	if !strings.Contains(explanation, "After-hours") {
		t.Errorf("second distinct reason missing: %q", explanation)
	}
}

func TestBuildRequestRedactsResult(t *testing.T) {
	result := &core.ScoringResult{
		Decision: core.DecisionBlock,
		Score:    90,
		Topic:    "finance",
		Reasons:  []string{"name_confusion_possible", "sensitive_topic_to_external"},
		Signals: core.Signals{
			Topic:                     "finance",
			SensitiveTopic:            true,
			HasAttachment:             true,
			AttachmentKind:            core.AttachmentPdf,
			HasExternalRecipient:      true,
			AfterHours:                false,
			UnexpectedRecipientsCount: 1,
			ExternalDomains:           []string{"partner.io"},
		},
		ConfusionCandidates: []core.ConfusionCandidate{{
			SelectedRecipientID:       "u9",
			SelectedRecipientName:     "Rahul Varma",
			SimilarKnownRecipientID:   "u2",
			SimilarKnownRecipientName: "Rahul Verma",
			Similarity:                0.93,
		}},
	}

	req := BuildRequest(result)

	if req.Decision != core.DecisionBlock || req.Score != 90 || req.Topic != "finance" {
		t.Errorf("header fields = %+v", req)
	}
	if !req.Signals.SensitiveTopic || !req.Signals.HasExternalRecipient || req.Signals.UnexpectedRecipientsCount != 1 {
		t.Errorf("signals = %+v", req.Signals)
	}
	if len(req.ConfusionCandidates) != 1 {
		t.Fatalf("candidates = %v", req.ConfusionCandidates)
	}
	candidate := req.ConfusionCandidates[0]
	if candidate.SelectedRecipientName != "Rahul Varma" || candidate.SimilarKnownRecipientName != "Rahul Verma" {
		t.Errorf("candidate = %+v", candidate)
	}
	if candidate.SelectedRecipientEmailDomain != "unknown" {
		t.Errorf("domain = %q, want unknown", candidate.SelectedRecipientEmailDomain)
	}
	if len(req.RecommendedActions) != 3 {
		t.Errorf("actions = %v", req.RecommendedActions)
	}
}
