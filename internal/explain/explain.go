// Package explain turns scoring reason codes into user-facing text. The
// deterministic templates here are the floor; an optional language-model
// collaborator may replace them, never the other way around.
package explain

import "github.com/mikey/misdelivery-guard/internal/core"

// AllowExplanation is the fixed sentence for drafts with no blocking signals.
const AllowExplanation = "No strong misdelivery signals detected for this draft."

// confirmPrompt is always appended so the user is asked to act, whatever the
// individual signals said.
const (
	confirmSuffix  = "Please confirm recipients before sending."
	fallbackPrompt = "Please confirm recipients and attachments before sending."
	genericLine    = "Potential delivery risk was detected."
)

// maxFallbackLines caps how many reason sentences the template stitches
// together; past two, more text stops helping the user decide.
const maxFallbackLines = 2

var reasonText = map[string]string{
	"name_confusion_possible":         "Possible autocomplete mistake: recipient name is similar to a frequent contact.",
	"sensitive_topic_with_attachment": "Sensitive topic + attachment increases risk.",
	"sensitive_topic_to_external":     "Sensitive topic with external recipient.",
	"new_external_domain_for_sender":  "Recipient domain is unusual for the sender.",
	"recipient_unusual_for_topic":     "Recipient is unusual for this topic based on prior behavior.",
	"new_external_domain_for_topic":   "External domain is unusual for this topic.",
	"after_hours_external":            "After-hours external sending can increase mistakes.",
	"unusual_recipient_count":         "Recipient count is higher than sender's normal pattern.",
	"no_baseline":                     "No historical baseline was available for this sender.",
}

// Fallback renders the deterministic explanation for a non-ALLOW decision.
func Fallback(reasons []string) (explanation, userPrompt string) {
	var lines []string
	for _, reason := range reasons {
		mapped, ok := reasonText[reason]
		if !ok || contains(lines, mapped) {
			continue
		}
		lines = append(lines, mapped)
		if len(lines) >= maxFallbackLines {
			break
		}
	}
	if len(lines) == 0 {
		lines = append(lines, genericLine)
	}

	text := ""
	for _, line := range lines {
		text += line + " "
	}
	return text + confirmSuffix, fallbackPrompt
}

// recommendedActions accompany every collaborator request so generated text
// stays anchored to concrete next steps.
var recommendedActions = []string{
	"Confirm the recipient identity",
	"Check autocomplete selection",
	"Remove attachments if not intended",
}

// BuildRequest reduces a scoring result to the redacted payload shared with
// the explanation collaborator. Message text and recipient addresses are
// deliberately absent; only name-level and boolean signals leave the process.
func BuildRequest(result *core.ScoringResult) *core.ExplainRequest {
	candidates := make([]core.ExplainCandidate, 0, len(result.ConfusionCandidates))
	for _, item := range result.ConfusionCandidates {
		candidates = append(candidates, core.ExplainCandidate{
			SelectedRecipientName:        item.SelectedRecipientName,
			SelectedRecipientEmailDomain: "unknown",
			SimilarKnownRecipientName:    item.SimilarKnownRecipientName,
			Similarity:                   item.Similarity,
		})
	}

	return &core.ExplainRequest{
		Decision: result.Decision,
		Score:    result.Score,
		Topic:    result.Topic,
		Reasons:  result.Reasons,
		Signals: core.ExplainSignals{
			SensitiveTopic:            result.Signals.SensitiveTopic,
			HasAttachment:             result.Signals.HasAttachment,
			AttachmentKind:            result.Signals.AttachmentKind,
			HasExternalRecipient:      result.Signals.HasExternalRecipient,
			AfterHours:                result.Signals.AfterHours,
			UnexpectedRecipientsCount: result.Signals.UnexpectedRecipientsCount,
		},
		ConfusionCandidates: candidates,
		RecommendedActions:  append([]string(nil), recommendedActions...),
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
