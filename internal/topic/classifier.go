package topic

import (
	"sort"
	"strings"
	"sync/atomic"
)

// Policy decides when the best-scoring topic is accepted over "normal".
type Policy string

const (
	// PolicyThreshold accepts the best topic only when its own score meets
	// the configured normal_threshold.
	PolicyThreshold Policy = "threshold"
	// PolicyTotalSignal accepts the best topic when it scores at least 2 on
	// its own, or when the summed signal across all topics reaches 2.
	PolicyTotalSignal Policy = "total_signal"
)

// ParsePolicy maps a config string to a Policy, defaulting to threshold.
func ParsePolicy(value string) Policy {
	if Policy(value) == PolicyTotalSignal {
		return PolicyTotalSignal
	}
	return PolicyThreshold
}

// Classifier assigns exactly one topic label to free text plus attachment
// names. It is safe for concurrent use; rule swaps are atomic. Classifiers
// derived through WithPolicy share one live rule set.
type Classifier struct {
	rules      *atomic.Pointer[Rules]
	policy     Policy
	linearScan bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLinearScan disables the automaton and scans every pattern with a
// substring search. Functionally identical, used when the automaton cannot be
// built and by tests pinning parity between the two paths.
func WithLinearScan() Option {
	return func(c *Classifier) { c.linearScan = true }
}

// NewClassifier creates a classifier over an already validated rule set.
func NewClassifier(rules *Rules, policy Policy, opts ...Option) *Classifier {
	c := &Classifier{rules: new(atomic.Pointer[Rules]), policy: policy}
	c.rules.Store(rules)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithPolicy returns a classifier applying a different accept policy over the
// same live rule set. Rule swaps and review additions made through either
// classifier are visible to both.
func (c *Classifier) WithPolicy(policy Policy) *Classifier {
	return &Classifier{rules: c.rules, policy: policy, linearScan: c.linearScan}
}

// Rules returns the currently active rule set.
func (c *Classifier) Rules() *Rules {
	return c.rules.Load()
}

// SwapRules atomically replaces the active rule set. In-flight Classify calls
// observe either the old or the new rules, never a mix.
func (c *Classifier) SwapRules(rules *Rules) {
	c.rules.Store(rules)
}

// AddTerm appends a reviewed term to the live rule set.
func (c *Classifier) AddTerm(topicName, term, kind string) {
	for {
		current := c.rules.Load()
		next := current.WithTerm(topicName, term, kind)
		if next == current {
			return
		}
		if c.rules.CompareAndSwap(current, next) {
			return
		}
	}
}

// Classify returns the configured topic that best matches the text and
// attachment names, or "normal" when the accept policy rejects the best
// score. Ties between equally scored topics resolve to the lexically first
// topic name.
func (c *Classifier) Classify(messageText string, attachmentNames []string) string {
	rules := c.rules.Load()
	text := strings.ToLower(messageText + " " + strings.Join(attachmentNames, " "))

	scores := make(map[string]int, len(rules.Topics))
	total := 0
	for _, idx := range c.matchedPatterns(rules, text) {
		meta := rules.meta[idx]
		scores[meta.topic] += meta.weight
		total += meta.weight
	}

	bestTopic := ""
	bestScore := 0
	for _, name := range rules.TopicNames() {
		if score := scores[name]; score > bestScore {
			bestTopic = name
			bestScore = score
		}
	}
	if bestTopic == "" {
		return TopicNormal
	}

	switch c.policy {
	case PolicyTotalSignal:
		if bestScore >= 2 || total >= 2 {
			return bestTopic
		}
	default:
		if bestScore >= rules.NormalThreshold {
			return bestTopic
		}
	}
	return TopicNormal
}

// matchedPatterns returns the indices of distinct patterns present in text.
func (c *Classifier) matchedPatterns(rules *Rules, text string) []int {
	if !c.linearScan && rules.matcher != nil {
		hits := rules.matcher.Match([]byte(text))
		sort.Ints(hits)
		return hits
	}

	var hits []int
	for i, pattern := range rules.patterns {
		if strings.Contains(text, pattern) {
			hits = append(hits, i)
		}
	}
	return hits
}
