package baseline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mikey/misdelivery-guard/internal/core"
)

func TestWriteRanksTermsWithinEachGroup(t *testing.T) {
	stats := newTermStats()
	stats.increment("finance", core.TermTypeKeyword, "reconciliation", 5)
	stats.increment("finance", core.TermTypeKeyword, "audit", 2)
	stats.increment("finance", core.TermTypeKeyword, "budget", 2)
	stats.increment("finance", core.TermTypePhrase, "wire transfer", 3)
	stats.increment("finance", core.TermTypePhrase, "purchase order", 1)

	path := filepath.Join(t.TempDir(), "keyword_stats.json")
	if err := stats.write(path, 35, 100, 50); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	encoded := string(raw)

	// Terms appear ranked by descending occurrences, ties by term name.
	for _, pair := range [][2]string{
		{`"reconciliation"`, `"audit"`},
		{`"audit"`, `"budget"`},
		{`"wire transfer"`, `"purchase order"`},
	} {
		first := strings.Index(encoded, pair[0])
		second := strings.Index(encoded, pair[1])
		if first < 0 || second < 0 || first > second {
			t.Errorf("%s should precede %s in persisted stats", pair[0], pair[1])
		}
	}

	// The ranked file reads back into the same counts.
	reloaded := loadTermStats(path)
	if got := reloaded.topics["finance"].Keywords["reconciliation"].Occurrences; got != 5 {
		t.Errorf("reconciliation occurrences = %d, want 5", got)
	}
	if got := reloaded.topics["finance"].Phrases["wire transfer"].Occurrences; got != 3 {
		t.Errorf("wire transfer occurrences = %d, want 3", got)
	}
}
