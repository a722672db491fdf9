// Package scoring evaluates a draft message against the sender's behavioral
// baseline and produces a graded pre-send decision.
package scoring

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/directory"
	"github.com/mikey/misdelivery-guard/internal/namesim"
	"github.com/mikey/misdelivery-guard/internal/topic"
)

// minTopicCount is how often a recipient or domain must appear under a topic
// before it counts as expected for that topic.
const minTopicCount = 2

// Decision thresholds. The boundaries are inclusive: a score of exactly 55 is
// a WARN, 85 a BLOCK.
const (
	blockThreshold = 85
	warnThreshold  = 55
)

// noBaselineFloor is the minimum score for senders without a baseline.
const noBaselineFloor = 55

// Signal weights, applied additively in evaluation order.
const (
	weightNameConfusion        = 55
	weightRecipientUnusual     = 20
	weightSensitiveAttachment  = 20
	weightSensitiveExternal    = 35
	weightNewDomainForSender   = 20
	weightNewDomainForTopic    = 20
	weightAfterHoursExternal   = 10
	weightUnusualRecipientFlow = 10
)

// Scorer grades drafts. It reads shared state (baseline store, directory,
// classifier) through snapshot accessors only, so concurrent checks never
// block each other.
type Scorer struct {
	classifier    *topic.Classifier
	directory     *directory.Directory
	companyDomain string
	logger        *zap.Logger
}

// NewScorer creates a scorer. companyDomain falls back to "company.com".
func NewScorer(classifier *topic.Classifier, dir *directory.Directory, companyDomain string, logger *zap.Logger) *Scorer {
	if companyDomain == "" {
		companyDomain = "company.com"
	}
	return &Scorer{
		classifier:    classifier,
		directory:     dir,
		companyDomain: strings.ToLower(companyDomain),
		logger:        logger,
	}
}

type resolvedRecipient struct {
	userID      string
	displayName string
	domain      string
	userType    string
	isExternal  bool
}

// Evaluate scores a draft against the sender's profile. profile may be nil
// when the sender has no baseline; that is itself a risk signal, never an
// error.
func (s *Scorer) Evaluate(draft *core.Draft, profile *core.SenderProfile) *core.ScoringResult {
	now := draft.EvaluatedAt()

	attachmentNames := make([]string, 0, len(draft.Attachments))
	for _, item := range draft.Attachments {
		attachmentNames = append(attachmentNames, item.Name)
	}
	topicName := s.classifier.Classify(draft.MessageText, attachmentNames)
	hasAttachment := len(draft.Attachments) > 0
	attachmentKind := core.DetectAttachmentKind(draft.Attachments)

	allRecipients := draft.AllRecipients()
	resolved := make([]resolvedRecipient, len(allRecipients))
	for i, recipient := range allRecipients {
		resolved[i] = s.resolveRecipient(recipient)
	}

	externalDomains := distinctExternalDomains(resolved)
	hasExternal := len(externalDomains) > 0

	var knownParticipants map[string]bool
	if profile != nil {
		knownParticipants = profile.KnownParticipantSet()
	}

	var unexpected []resolvedRecipient
	unexpectedByTopic := false
	for _, record := range resolved {
		expectedBySender := record.userID != "" && knownParticipants[record.userID]
		expectedByTopic := record.userID != "" && profile != nil &&
			profile.TopicRecipientCount(topicName, record.userID) >= minTopicCount

		if !expectedBySender || (topicName != topic.TopicNormal && !expectedByTopic) {
			unexpected = append(unexpected, record)
		}
		if topicName != topic.TopicNormal && !expectedByTopic {
			unexpectedByTopic = true
		}
	}

	confusionCandidates := s.findConfusion(unexpected, profile)
	confusionDetected := len(confusionCandidates) > 0

	totalRecipients := len(allRecipients)
	unusualRecipientCount := false
	if profile != nil {
		if profile.RecipientStd > 0 {
			unusualRecipientCount = float64(totalRecipients) > profile.RecipientMean+2.0*profile.RecipientStd
		} else {
			unusualRecipientCount = float64(totalRecipients) > profile.RecipientMean+2.0
		}
	}

	rareTopic := false
	if profile != nil {
		for _, rare := range profile.RareTopics {
			if rare == topicName {
				rareTopic = true
				break
			}
		}
	}

	score := 0
	var reasons []string
	addReason := func(reason string) {
		for _, existing := range reasons {
			if existing == reason {
				return
			}
		}
		reasons = append(reasons, reason)
	}

	if profile == nil {
		if score < noBaselineFloor {
			score = noBaselineFloor
		}
		addReason("no_baseline")
	}

	if confusionDetected {
		score += weightNameConfusion
		addReason("name_confusion_possible")
	}

	if topicName != topic.TopicNormal && unexpectedByTopic {
		score += weightRecipientUnusual
		addReason("recipient_unusual_for_topic")
	}

	sensitiveTopic := topic.SensitiveTopics[topicName]
	if sensitiveTopic && hasAttachment {
		score += weightSensitiveAttachment
		addReason("sensitive_topic_with_attachment")
	}
	if sensitiveTopic && hasExternal {
		score += weightSensitiveExternal
		addReason("sensitive_topic_to_external")
	}

	if hasExternal && profile != nil {
		knownDomains := profile.KnownExternalDomainSet()
		for _, domain := range externalDomains {
			if !knownDomains[domain] {
				score += weightNewDomainForSender
				addReason("new_external_domain_for_sender")
				break
			}
		}
		if topicName != topic.TopicNormal {
			for _, domain := range externalDomains {
				if profile.TopicExternalDomainCount(topicName, domain) < minTopicCount {
					score += weightNewDomainForTopic
					addReason("new_external_domain_for_topic")
					break
				}
			}
		}
	}

	afterHours := now.Hour() < 8 || now.Hour() > 19
	weekday := now.Weekday()
	isWeekend := weekday == time.Saturday || weekday == time.Sunday

	if afterHours && hasExternal {
		score += weightAfterHoursExternal
		addReason("after_hours_external")
	}
	if unusualRecipientCount {
		score += weightUnusualRecipientFlow
		addReason("unusual_recipient_count")
	}

	decision := core.DecisionAllow
	switch {
	case score >= blockThreshold:
		decision = core.DecisionBlock
	case score >= warnThreshold:
		decision = core.DecisionWarn
	}

	if reasons == nil {
		reasons = []string{}
	}
	if confusionCandidates == nil {
		confusionCandidates = []core.ConfusionCandidate{}
	}

	result := &core.ScoringResult{
		Decision: decision,
		Score:    score,
		Topic:    topicName,
		Reasons:  reasons,
		Signals: core.Signals{
			Topic:          topicName,
			SensitiveTopic: sensitiveTopic,
			HasAttachment:  hasAttachment,
			AttachmentKind: attachmentKind,
			RecipientCounts: core.RecipientCounts{
				ToCount:         len(draft.To),
				CcCount:         len(draft.CC),
				BccCount:        len(draft.BCC),
				TotalRecipients: totalRecipients,
			},
			HasExternalRecipient:      hasExternal,
			ExternalDomains:           externalDomains,
			AfterHours:                afterHours,
			IsWeekend:                 isWeekend,
			UnexpectedRecipientsCount: len(unexpected),
			ConfusionDetected:         confusionDetected,
			ConfusionCandidatesCount:  len(confusionCandidates),
			UnusualRecipientCount:     unusualRecipientCount,
			RareTopicForSender:        rareTopic,
		},
		ConfusionCandidates: confusionCandidates,
	}

	s.logger.Debug("Draft evaluated",
		zap.String("sender", draft.SenderUserID),
		zap.String("decision", decision),
		zap.Int("score", score),
		zap.String("topic", topicName),
		zap.Strings("reasons", reasons))
	return result
}

// resolveRecipient prefers the directory record when the recipient carries a
// user id; bare emails are derived locally with the local part standing in
// for the display name.
func (s *Scorer) resolveRecipient(recipient core.Recipient) resolvedRecipient {
	if recipient.UserID != "" {
		if record, ok := s.directory.Get(recipient.UserID); ok {
			return resolvedRecipient{
				userID:      record.UserID,
				displayName: record.DisplayName,
				domain:      record.Domain,
				userType:    record.UserType,
				isExternal:  s.isExternal(record.Domain, record.UserType),
			}
		}
	}

	domain := ""
	displayName := recipient.Email
	if at := strings.IndexByte(recipient.Email, '@'); at >= 0 {
		domain = strings.ToLower(recipient.Email[at+1:])
		displayName = recipient.Email[:at]
	}
	userType := "Member"
	external := domain != "" && domain != s.companyDomain
	if external {
		userType = "Guest"
	}
	return resolvedRecipient{
		userID:      recipient.UserID,
		displayName: displayName,
		domain:      domain,
		userType:    userType,
		isExternal:  external,
	}
}

func (s *Scorer) isExternal(domain, userType string) bool {
	return userType == "Guest" || (domain != "" && domain != s.companyDomain)
}

// findConfusion matches unexpected recipients against the sender's known
// contacts resolved through the directory.
func (s *Scorer) findConfusion(unexpected []resolvedRecipient, profile *core.SenderProfile) []core.ConfusionCandidate {
	if profile == nil || len(unexpected) == 0 {
		return nil
	}
	known := s.directory.Records(profile.KnownParticipants)
	if len(known) == 0 {
		return nil
	}

	selected := make([]namesim.Selected, len(unexpected))
	for i, record := range unexpected {
		selected[i] = namesim.Selected{ID: record.userID, DisplayName: record.displayName}
	}
	return namesim.FindConfusionCandidates(selected, known)
}

func distinctExternalDomains(resolved []resolvedRecipient) []string {
	set := make(map[string]bool)
	for _, record := range resolved {
		if record.isExternal && record.domain != "" {
			set[record.domain] = true
		}
	}
	domains := make([]string, 0, len(set))
	for domain := range set {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return domains
}
