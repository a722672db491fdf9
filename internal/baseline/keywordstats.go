package baseline

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/mikey/misdelivery-guard/internal/core"
)

// termStats accumulates mined keyword statistics across builder runs. Counts
// merge additively with whatever a previous run persisted; ignore decisions
// are made by review and survive every merge.
type termStats struct {
	topics map[string]core.TopicTerms
}

func newTermStats() *termStats {
	return &termStats{topics: make(map[string]core.TopicTerms)}
}

// loadTermStats reads a previously written keyword snapshot. A missing or
// malformed file yields empty stats.
func loadTermStats(path string) *termStats {
	stats := newTermStats()
	raw, err := os.ReadFile(path)
	if err != nil {
		return stats
	}
	var snapshot core.KeywordSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return stats
	}
	for topicName, terms := range snapshot.Topics {
		for term, entry := range terms.Keywords {
			stats.set(topicName, core.TermTypeKeyword, term, sanitizeEntry(entry))
		}
		for term, entry := range terms.Phrases {
			stats.set(topicName, core.TermTypePhrase, term, sanitizeEntry(entry))
		}
	}
	return stats
}

func sanitizeEntry(entry core.TermEntry) core.TermEntry {
	if entry.Occurrences < 0 {
		entry.Occurrences = 0
	}
	switch entry.ReasonForIgnore {
	case core.IgnoreReasonNone, core.IgnoreReasonAddedToRules, core.IgnoreReasonSuppressed:
	default:
		entry.ReasonForIgnore = core.IgnoreReasonNone
	}
	return entry
}

func (s *termStats) set(topicName, kind, term string, entry core.TermEntry) {
	topicName = strings.ToLower(strings.TrimSpace(topicName))
	term = strings.ToLower(strings.TrimSpace(term))
	if topicName == "" || term == "" {
		return
	}
	bucket := s.bucket(topicName, kind)
	bucket[term] = entry
}

// increment adds delta to a term's occurrence count, creating the entry when
// it is new. Non-positive deltas and blank names are dropped.
func (s *termStats) increment(topicName, kind, term string, delta int) {
	topicName = strings.ToLower(strings.TrimSpace(topicName))
	term = strings.ToLower(strings.TrimSpace(term))
	if topicName == "" || term == "" || delta <= 0 {
		return
	}
	bucket := s.bucket(topicName, kind)
	entry := bucket[term]
	entry.Occurrences += delta
	bucket[term] = entry
}

func (s *termStats) bucket(topicName, kind string) map[string]core.TermEntry {
	terms, ok := s.topics[topicName]
	if !ok {
		terms = core.TopicTerms{
			Keywords: make(map[string]core.TermEntry),
			Phrases:  make(map[string]core.TermEntry),
		}
		s.topics[topicName] = terms
	}
	if kind == core.TermTypePhrase {
		return terms.Phrases
	}
	return terms.Keywords
}

// merge folds a miner batch result into the stats.
func (s *termStats) merge(mined core.MinedTerms) {
	for topicName, counts := range mined {
		for term, count := range counts.Keywords {
			s.increment(topicName, core.TermTypeKeyword, term, count)
		}
		for term, count := range counts.Phrases {
			s.increment(topicName, core.TermTypePhrase, term, count)
		}
	}
}

func (s *termStats) snapshot(days, messageCount, batchSize int) *core.KeywordSnapshot {
	topics := make(map[string]core.TopicTerms, len(s.topics))
	for topicName, terms := range s.topics {
		topics[topicName] = core.TopicTerms{
			Keywords: copyTermMap(terms.Keywords),
			Phrases:  copyTermMap(terms.Phrases),
		}
	}
	return &core.KeywordSnapshot{
		Meta: core.KeywordMeta{
			GeneratedAt:  time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
			Days:         days,
			MessageCount: messageCount,
			BatchSize:    batchSize,
		},
		Topics: topics,
	}
}

func (s *termStats) write(path string, days, messageCount, batchSize int) error {
	data, err := json.MarshalIndent(s.snapshot(days, messageCount, batchSize), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// minedToTopicTerms converts a miner batch result into the delta shape the
// term store's Increment expects.
func minedToTopicTerms(mined core.MinedTerms) map[string]core.TopicTerms {
	out := make(map[string]core.TopicTerms, len(mined))
	for topicName, counts := range mined {
		terms := core.TopicTerms{
			Keywords: make(map[string]core.TermEntry, len(counts.Keywords)),
			Phrases:  make(map[string]core.TermEntry, len(counts.Phrases)),
		}
		for term, count := range counts.Keywords {
			terms.Keywords[term] = core.TermEntry{Occurrences: count}
		}
		for term, count := range counts.Phrases {
			terms.Phrases[term] = core.TermEntry{Occurrences: count}
		}
		out[topicName] = terms
	}
	return out
}

func copyTermMap(src map[string]core.TermEntry) map[string]core.TermEntry {
	out := make(map[string]core.TermEntry, len(src))
	for term, entry := range src {
		out[term] = entry
	}
	return out
}
