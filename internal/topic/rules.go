// Package topic assigns a coarse content category to message text by scoring
// configured keyword and phrase patterns.
package topic

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// TopicNormal is the sentinel returned when no topic accumulates enough signal.
const TopicNormal = "normal"

// SensitiveTopics carry elevated disclosure risk when sent externally or with
// attachments.
var SensitiveTopics = map[string]bool{
	"hr_compensation":     true,
	"finance":             true,
	"legal":               true,
	"customer_data":       true,
	"credentials_secrets": true,
}

// Term kinds accepted by the rule set.
const (
	TermKindKeyword = "keyword"
	TermKindPhrase  = "phrase"
)

// Pattern weights: single keywords count once, phrases carry double weight.
const (
	weightKeyword = 1
	weightPhrase  = 2
)

type patternMeta struct {
	topic  string
	weight int
}

// Rules is a parsed, validated topic rule set with its derived pattern table
// and multi-pattern matcher. A Rules value is immutable after construction;
// reloads and review additions build a fresh value.
type Rules struct {
	NormalThreshold int
	Topics          map[string]TopicTerms

	patterns []string
	meta     []patternMeta
	matcher  *ahocorasick.Matcher
}

// TopicTerms lists the configured patterns of one topic.
type TopicTerms struct {
	SingleKeywords []string `json:"single_keywords"`
	Phrases        []string `json:"phrases"`
}

type rulesFile struct {
	NormalThreshold *int                  `json:"normal_threshold"`
	Topics          map[string]TopicTerms `json:"topics"`
}

// LoadRules reads and validates a topic rule file. Invalid configuration is a
// hard error: classification must refuse to run rather than guess.
func LoadRules(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topic rules %s: %w", path, err)
	}
	return ParseRules(raw)
}

// ParseRules validates a raw rule document and builds the pattern table.
func ParseRules(raw []byte) (*Rules, error) {
	var file rulesFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("topic rules must be a JSON object: %w", err)
	}

	threshold := 2
	if file.NormalThreshold != nil {
		threshold = *file.NormalThreshold
	}
	if threshold < 1 {
		return nil, fmt.Errorf("normal_threshold must be >= 1, got %d", threshold)
	}
	if len(file.Topics) == 0 {
		return nil, fmt.Errorf("topics must be a non-empty object")
	}

	rules := &Rules{
		NormalThreshold: threshold,
		Topics:          make(map[string]TopicTerms, len(file.Topics)),
	}
	for name, terms := range file.Topics {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("topic name must not be empty")
		}
		cleaned := TopicTerms{
			SingleKeywords: cleanTerms(terms.SingleKeywords),
			Phrases:        cleanTerms(terms.Phrases),
		}
		rules.Topics[name] = cleaned
	}

	rules.rebuild()
	return rules, nil
}

// WithTerm returns a copy of the rule set with term appended to topic,
// creating the topic when absent. Duplicate terms are a no-op.
func (r *Rules) WithTerm(topicName, term, kind string) *Rules {
	cleaned := strings.ToLower(strings.TrimSpace(term))
	topicName = strings.ToLower(strings.TrimSpace(topicName))
	if cleaned == "" || topicName == "" {
		return r
	}

	next := &Rules{
		NormalThreshold: r.NormalThreshold,
		Topics:          make(map[string]TopicTerms, len(r.Topics)+1),
	}
	for name, terms := range r.Topics {
		next.Topics[name] = TopicTerms{
			SingleKeywords: append([]string(nil), terms.SingleKeywords...),
			Phrases:        append([]string(nil), terms.Phrases...),
		}
	}

	terms := next.Topics[topicName]
	if kind == TermKindPhrase {
		if containsTerm(terms.Phrases, cleaned) {
			return r
		}
		terms.Phrases = append(terms.Phrases, cleaned)
	} else {
		if containsTerm(terms.SingleKeywords, cleaned) {
			return r
		}
		terms.SingleKeywords = append(terms.SingleKeywords, cleaned)
	}
	next.Topics[topicName] = terms

	next.rebuild()
	return next
}

// MarshalJSON serializes the rule set back into its file format so review
// additions can be persisted.
func (r *Rules) MarshalJSON() ([]byte, error) {
	return json.Marshal(rulesFile{
		NormalThreshold: &r.NormalThreshold,
		Topics:          r.Topics,
	})
}

// TopicNames returns the configured topic names in lexical order.
func (r *Rules) TopicNames() []string {
	names := make([]string, 0, len(r.Topics))
	for name := range r.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rebuild derives the pattern table and automaton from the topic terms.
// Patterns are sorted so matcher hit indices are stable across builds.
func (r *Rules) rebuild() {
	seen := make(map[string]patternMeta)
	for _, name := range r.TopicNames() {
		terms := r.Topics[name]
		for _, keyword := range terms.SingleKeywords {
			seen[keyword] = patternMeta{topic: name, weight: weightKeyword}
		}
		for _, phrase := range terms.Phrases {
			seen[phrase] = patternMeta{topic: name, weight: weightPhrase}
		}
	}

	patterns := make([]string, 0, len(seen))
	for pattern := range seen {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)

	meta := make([]patternMeta, len(patterns))
	for i, pattern := range patterns {
		meta[i] = seen[pattern]
	}

	r.patterns = patterns
	r.meta = meta
	if len(patterns) > 0 {
		r.matcher = ahocorasick.NewStringMatcher(patterns)
	} else {
		r.matcher = nil
	}
}

func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		cleaned := strings.ToLower(strings.TrimSpace(term))
		if cleaned == "" {
			continue
		}
		if !containsTerm(out, cleaned) {
			out = append(out, cleaned)
		}
	}
	return out
}

func containsTerm(terms []string, term string) bool {
	for _, existing := range terms {
		if existing == term {
			return true
		}
	}
	return false
}
