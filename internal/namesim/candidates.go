package namesim

import (
	"sort"

	"github.com/mikey/misdelivery-guard/internal/core"
)

// maxCandidates caps how many confusion candidates a single check reports.
const maxCandidates = 3

// Selected is an unexpected recipient as picked in the draft. ID may be empty
// for bare-email recipients.
type Selected struct {
	ID          string
	DisplayName string
}

// FindConfusionCandidates matches every unexpected recipient against the
// sender's known contacts, keeps the best match per recipient at or above the
// similarity threshold, and returns the top matches overall by descending
// similarity.
func FindConfusionCandidates(unexpected []Selected, known []core.UserRecord) []core.ConfusionCandidate {
	candidates := make([]core.ConfusionCandidate, 0, len(unexpected))

	for _, selected := range unexpected {
		if selected.DisplayName == "" {
			continue
		}

		var best *core.ConfusionCandidate
		for _, contact := range known {
			if selected.ID != "" && contact.UserID == selected.ID {
				continue
			}
			similarity := Similarity(selected.DisplayName, contact.DisplayName)
			if similarity < SimilarityThreshold {
				continue
			}
			if best == nil || similarity > best.Similarity {
				selectedID := selected.ID
				if selectedID == "" {
					selectedID = "unknown"
				}
				best = &core.ConfusionCandidate{
					SelectedRecipientID:       selectedID,
					SelectedRecipientName:     selected.DisplayName,
					SimilarKnownRecipientID:   contact.UserID,
					SimilarKnownRecipientName: contact.DisplayName,
					Similarity:                similarity,
				}
			}
		}
		if best != nil {
			candidates = append(candidates, *best)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates
}
