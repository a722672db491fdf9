package baseline

import (
	"math"
	"sort"
	"strconv"

	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/topic"
)

// senderAccumulator collects raw per-sender counts while the builder walks the
// message history. It is owned by a single goroutine; finalize turns it into a
// serializable SenderProfile.
type senderAccumulator struct {
	knownParticipants         map[string]bool
	knownExternalDomains      map[string]bool
	hourHistogram             map[int]int
	weekendMessages           int
	messageCount              int
	recipientCounts           []int
	attachmentMessages        int
	attachmentTypes           map[string]int
	topicHistogram            map[string]int
	topicRecipientCounts      map[string]map[string]int
	topicExternalDomainCounts map[string]map[string]int
}

func newSenderAccumulator() *senderAccumulator {
	return &senderAccumulator{
		knownParticipants:         make(map[string]bool),
		knownExternalDomains:      make(map[string]bool),
		hourHistogram:             make(map[int]int),
		attachmentTypes:           make(map[string]int),
		topicHistogram:            make(map[string]int),
		topicRecipientCounts:      make(map[string]map[string]int),
		topicExternalDomainCounts: make(map[string]map[string]int),
	}
}

func (a *senderAccumulator) addTopicRecipient(topicName, recipientID string) {
	counts := a.topicRecipientCounts[topicName]
	if counts == nil {
		counts = make(map[string]int)
		a.topicRecipientCounts[topicName] = counts
	}
	counts[recipientID]++
}

func (a *senderAccumulator) addTopicExternalDomain(topicName, domain string) {
	counts := a.topicExternalDomainCounts[topicName]
	if counts == nil {
		counts = make(map[string]int)
		a.topicExternalDomainCounts[topicName] = counts
	}
	counts[domain]++
}

// finalize converts the raw counts into a profile with stable, zero-filled
// histograms and six-decimal rates.
func (a *senderAccumulator) finalize() *core.SenderProfile {
	total := a.messageCount

	hourHistogram := make(map[string]int, 24)
	for hour := 0; hour < 24; hour++ {
		hourHistogram[strconv.Itoa(hour)] = a.hourHistogram[hour]
	}

	attachmentTypes := make(map[string]int, len(core.AttachmentKinds))
	for _, kind := range core.AttachmentKinds {
		attachmentTypes[kind] = a.attachmentTypes[kind]
	}

	var rareTopics []string
	if total > 0 {
		for topicName, count := range a.topicHistogram {
			if topicName != topic.TopicNormal && float64(count)/float64(total) < 0.02 {
				rareTopics = append(rareTopics, topicName)
			}
		}
	}
	sort.Strings(rareTopics)
	if rareTopics == nil {
		rareTopics = []string{}
	}

	weekendRate := 0.0
	attachmentRate := 0.0
	if total > 0 {
		weekendRate = float64(a.weekendMessages) / float64(total)
		attachmentRate = float64(a.attachmentMessages) / float64(total)
	}

	return &core.SenderProfile{
		KnownParticipants:         sortedKeys(a.knownParticipants),
		KnownExternalDomains:      sortedKeys(a.knownExternalDomains),
		HourHistogram:             hourHistogram,
		WeekendRate:               round6(weekendRate),
		RecipientMean:             round6(mean(a.recipientCounts)),
		RecipientStd:              round6(populationStddev(a.recipientCounts)),
		AttachmentRate:            round6(attachmentRate),
		AttachmentTypes:           attachmentTypes,
		TopicHistogram:            copyCounts(a.topicHistogram),
		RareTopics:                rareTopics,
		TopicRecipientCounts:      copyNestedCounts(a.topicRecipientCounts),
		TopicExternalDomainCounts: copyNestedCounts(a.topicExternalDomainCounts),
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func copyCounts(src map[string]int) map[string]int {
	out := make(map[string]int, len(src))
	for key, value := range src {
		out[key] = value
	}
	return out
}

func copyNestedCounts(src map[string]map[string]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(src))
	for key, value := range src {
		out[key] = copyCounts(value)
	}
	return out
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0.0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// populationStddev matches statistics over the full population, not a sample.
// A single observation has no spread.
func populationStddev(values []int) float64 {
	if len(values) < 2 {
		return 0.0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := float64(v) - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}

func round6(value float64) float64 {
	return math.Round(value*1e6) / 1e6
}
