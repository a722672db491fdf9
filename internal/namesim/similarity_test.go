package namesim

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mikey/misdelivery-guard/internal/core"
)

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{
		{"Rahul Verma", "Rahul Sharma"},
		{"Rahul Verma", "Priya Menon"},
		{"", "Rahul Verma"},
		{"Rahul Verma", "Rahul Verma"},
		{"A", "Z"},
		{"  spaced   out  name ", "spaced out name"},
	}
	for _, pair := range pairs {
		got := Similarity(pair[0], pair[1])
		if got < 0.0 || got > 1.0 {
			t.Errorf("Similarity(%q, %q) = %v, out of [0,1]", pair[0], pair[1], got)
		}
		if rev := Similarity(pair[1], pair[0]); rev != got {
			t.Errorf("Similarity(%q, %q) = %v, reversed %v; want symmetric", pair[0], pair[1], got, rev)
		}
	}
}

func TestSimilarityKnownPairs(t *testing.T) {
	cases := []struct {
		a, b    string
		atLeast float64
		below   float64
	}{
		{"Rahul Verma", "Rahul Sharma", 0.90, 0},
		{"Rahul Verma", "Rahul Varma", 0.93, 0},
		{"Rahul Verma", "Verma Rahul", 0.93, 0},
		{"Rahul Verma", "Priya Menon", 0, 0.90},
		{"Ananya Rao", "Ananya Roy", 0.93, 0},
		{"", "", 0, 0.01},
		{"   ", "Rahul Verma", 0, 0.01},
	}
	for _, tc := range cases {
		got := Similarity(tc.a, tc.b)
		if tc.atLeast > 0 && got < tc.atLeast {
			t.Errorf("Similarity(%q, %q) = %v, want >= %v", tc.a, tc.b, got, tc.atLeast)
		}
		if tc.below > 0 && got >= tc.below {
			t.Errorf("Similarity(%q, %q) = %v, want < %v", tc.a, tc.b, got, tc.below)
		}
	}
}

func TestSimilarityIdentical(t *testing.T) {
	if got := Similarity("Rahul Verma", "rahul  verma"); got != 1.0 {
		t.Errorf("Similarity = %v, want 1.0", got)
	}
}

func TestSimilarityHeuristicsOnlyRaise(t *testing.T) {
	// Shared first token with close last names: the forced floor must not
	// undercut the base ratio.
	a, b := "Rahul Verma", "Rahul Vermaa"
	base := ratio(normalize(a), normalize(b))
	if got := Similarity(a, b); got < base-1e-9 {
		t.Errorf("Similarity(%q, %q) = %v, below base ratio %v", a, b, got, base)
	}
}

func TestRatioRounding(t *testing.T) {
	// 4 matched runes over combined length 6.
	if got := Similarity("abc", "abd"); got != 0.6667 {
		t.Errorf("Similarity(abc, abd) = %v, want 0.6667", got)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"verma", "varma", 1},
		{"verma", "sharma", 3},
		{"kitten", "sitting", 3},
	}
	for _, tc := range cases {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestFindConfusionCandidates(t *testing.T) {
	known := []core.UserRecord{
		{UserID: "u1", DisplayName: "Rahul Verma"},
		{UserID: "u2", DisplayName: "Priya Menon"},
		{UserID: "u3", DisplayName: "Ananya Rao"},
	}

	got := FindConfusionCandidates([]Selected{
		{ID: "x1", DisplayName: "Rahul Varma"},
		{ID: "x2", DisplayName: "Completely Different"},
		{ID: "", DisplayName: "Ananya Roy"},
		{ID: "x3", DisplayName: ""},
	}, known)

	want := []core.ConfusionCandidate{
		{
			SelectedRecipientID:       "x1",
			SelectedRecipientName:     "Rahul Varma",
			SimilarKnownRecipientID:   "u1",
			SimilarKnownRecipientName: "Rahul Verma",
			Similarity:                Similarity("Rahul Varma", "Rahul Verma"),
		},
		{
			SelectedRecipientID:       "unknown",
			SelectedRecipientName:     "Ananya Roy",
			SimilarKnownRecipientID:   "u3",
			SimilarKnownRecipientName: "Ananya Rao",
			Similarity:                Similarity("Ananya Roy", "Ananya Rao"),
		},
	}
	// Highest similarity first.
	if want[1].Similarity > want[0].Similarity {
		want[0], want[1] = want[1], want[0]
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FindConfusionCandidates mismatch (-want +got):\n%s", diff)
	}
}

func TestFindConfusionCandidatesSkipsSelf(t *testing.T) {
	known := []core.UserRecord{{UserID: "u1", DisplayName: "Rahul Verma"}}
	got := FindConfusionCandidates([]Selected{{ID: "u1", DisplayName: "Rahul Verma"}}, known)
	if len(got) != 0 {
		t.Errorf("expected no candidates for self match, got %v", got)
	}
}

func TestFindConfusionCandidatesCapsAtThree(t *testing.T) {
	known := []core.UserRecord{
		{UserID: "k1", DisplayName: "Asha Nair"},
		{UserID: "k2", DisplayName: "Vikram Singh"},
		{UserID: "k3", DisplayName: "Meera Iyer"},
		{UserID: "k4", DisplayName: "Rohan Das"},
	}
	selected := []Selected{
		{ID: "s1", DisplayName: "Asha Nayr"},
		{ID: "s2", DisplayName: "Vikram Singhh"},
		{ID: "s3", DisplayName: "Meera Iyar"},
		{ID: "s4", DisplayName: "Rohan Dass"},
	}
	got := FindConfusionCandidates(selected, known)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Similarity > got[i-1].Similarity {
			t.Errorf("candidates not sorted by descending similarity: %v", got)
		}
	}
}
