// Package keywords persists mined term statistics in SQL so occurrence counts
// accumulate across builder runs and review decisions outlive restarts.
package keywords

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
)

// dialect isolates the SQL that differs between backends. Everything else is
// shared by SQLStore.
type dialect struct {
	createTable string
	createIndex string
	increment   string
	review      string
	applyIgnore string
}

// SQLStore implements core.TermStore over database/sql with a
// backend-specific dialect.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

// InitSchema creates the keyword_terms table and its review index.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.createTable); err != nil {
		return fmt.Errorf("failed to create keyword_terms table: %w", err)
	}
	// MySQL declares its index inline in the CREATE TABLE.
	if s.dialect.createIndex != "" {
		if _, err := s.db.ExecContext(ctx, s.dialect.createIndex); err != nil {
			return fmt.Errorf("failed to create keyword_terms index: %w", err)
		}
	}
	return nil
}

// ImportSnapshotIfEmpty bootstraps the table from a keyword snapshot, but only
// when no rows exist yet: a populated store is the source of truth and must
// not be double counted. Ignore flags from the snapshot are re-applied after
// the counts land.
func (s *SQLStore) ImportSnapshotIfEmpty(ctx context.Context, snapshot *core.KeywordSnapshot) error {
	if snapshot == nil || len(snapshot.Topics) == 0 {
		return nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM keyword_terms").Scan(&count); err != nil {
		return fmt.Errorf("failed to count keyword terms: %w", err)
	}
	if count > 0 {
		return nil
	}

	if err := s.Increment(ctx, snapshot.Topics); err != nil {
		return err
	}
	return s.ApplyIgnoreFlags(ctx, snapshot.Topics)
}

// Increment adds each entry's occurrence count to the stored total, inserting
// rows for terms seen for the first time. Blank names and non-positive counts
// are skipped.
func (s *SQLStore) Increment(ctx context.Context, topics map[string]core.TopicTerms) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = forEachTerm(topics, func(topic, termType, term string, entry core.TermEntry) error {
		if entry.Occurrences <= 0 {
			return nil
		}
		_, execErr := tx.ExecContext(ctx, s.dialect.increment, topic, termType, term, entry.Occurrences)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to increment keyword terms: %w", err)
	}
	return tx.Commit()
}

// ApplyIgnoreFlags marks already-stored terms ignored according to the given
// entries. Entries that are not ignored are left untouched.
func (s *SQLStore) ApplyIgnoreFlags(ctx context.Context, topics map[string]core.TopicTerms) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = forEachTerm(topics, func(topic, termType, term string, entry core.TermEntry) error {
		if !entry.Ignored {
			return nil
		}
		reason := entry.ReasonForIgnore
		if reason != core.IgnoreReasonAddedToRules && reason != core.IgnoreReasonSuppressed {
			reason = core.IgnoreReasonNone
		}
		_, execErr := tx.ExecContext(ctx, s.dialect.applyIgnore, reason, topic, termType, term)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to apply ignore flags: %w", err)
	}
	return tx.Commit()
}

// ApplyReview records review decisions. Both actions mark the term ignored so
// it drops out of future suggestion lists; the reason distinguishes terms
// promoted into the rules from terms suppressed outright.
func (s *SQLStore) ApplyReview(ctx context.Context, items []core.ReviewItem) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updated := 0
	for _, item := range items {
		topic := strings.ToLower(strings.TrimSpace(item.Topic))
		term := strings.ToLower(strings.TrimSpace(item.Term))
		if topic == "" || term == "" {
			continue
		}
		termType := core.TermTypeKeyword
		if item.TermType == core.TermTypePhrase {
			termType = core.TermTypePhrase
		}
		reason := core.IgnoreReasonSuppressed
		if item.Action == "add" {
			reason = core.IgnoreReasonAddedToRules
		}
		if _, err := tx.ExecContext(ctx, s.dialect.review, topic, termType, term, reason); err != nil {
			return 0, fmt.Errorf("failed to apply review for %s/%s: %w", topic, term, err)
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return updated, nil
}

// ListTopics returns every topic with stored terms, in lexical order.
func (s *SQLStore) ListTopics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT topic FROM keyword_terms ORDER BY topic")
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	topics := []string{}
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

// ListSuggestions returns the topic's non-ignored terms ranked by occurrence
// count, ties broken by term.
func (s *SQLStore) ListSuggestions(ctx context.Context, topic string) ([]core.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT term_type, term, occurrences
		FROM keyword_terms
		WHERE topic = ? AND ignored = FALSE
		ORDER BY occurrences DESC, term ASC
	`, strings.ToLower(strings.TrimSpace(topic)))
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	suggestions := []core.Suggestion{}
	for rows.Next() {
		var suggestion core.Suggestion
		if err := rows.Scan(&suggestion.Type, &suggestion.Term, &suggestion.Score); err != nil {
			return nil, err
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, rows.Err()
}

// ExportSnapshot dumps the whole table into the keyword snapshot shape, terms
// ordered by descending occurrences within each topic and kind.
func (s *SQLStore) ExportSnapshot(ctx context.Context, days, messageCount, batchSize int) (*core.KeywordSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, term_type, term, occurrences, ignored, reason_for_ignore
		FROM keyword_terms
		ORDER BY topic ASC, term_type ASC, occurrences DESC, term ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to export keyword terms: %w", err)
	}
	defer rows.Close()

	topics := make(map[string]core.TopicTerms)
	for rows.Next() {
		var (
			topic, termType, term string
			entry                 core.TermEntry
		)
		if err := rows.Scan(&topic, &termType, &term, &entry.Occurrences, &entry.Ignored, &entry.ReasonForIgnore); err != nil {
			return nil, err
		}
		terms, ok := topics[topic]
		if !ok {
			terms = core.TopicTerms{
				Keywords: make(map[string]core.TermEntry),
				Phrases:  make(map[string]core.TermEntry),
			}
			topics[topic] = terms
		}
		if termType == core.TermTypePhrase {
			terms.Phrases[term] = entry
		} else {
			terms.Keywords[term] = entry
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &core.KeywordSnapshot{
		Meta: core.KeywordMeta{
			GeneratedAt:  time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
			Days:         days,
			MessageCount: messageCount,
			BatchSize:    batchSize,
		},
		Topics: topics,
	}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// forEachTerm walks a topic payload in (keyword, phrase) order, normalizing
// topic and term names and skipping blanks.
func forEachTerm(topics map[string]core.TopicTerms, fn func(topic, termType, term string, entry core.TermEntry) error) error {
	for topic, terms := range topics {
		cleanTopic := strings.ToLower(strings.TrimSpace(topic))
		if cleanTopic == "" {
			continue
		}
		for term, entry := range terms.Keywords {
			cleanTerm := strings.ToLower(strings.TrimSpace(term))
			if cleanTerm == "" {
				continue
			}
			if err := fn(cleanTopic, core.TermTypeKeyword, cleanTerm, entry); err != nil {
				return err
			}
		}
		for term, entry := range terms.Phrases {
			cleanTerm := strings.ToLower(strings.TrimSpace(term))
			if cleanTerm == "" {
				continue
			}
			if err := fn(cleanTopic, core.TermTypePhrase, cleanTerm, entry); err != nil {
				return err
			}
		}
	}
	return nil
}
