package keywords

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var sqliteDialect = dialect{
	createTable: `
		CREATE TABLE IF NOT EXISTS keyword_terms (
			topic TEXT NOT NULL,
			term_type TEXT NOT NULL CHECK (term_type IN ('keyword','phrase')),
			term TEXT NOT NULL,
			occurrences INTEGER NOT NULL DEFAULT 0,
			ignored BOOLEAN NOT NULL DEFAULT FALSE,
			reason_for_ignore INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (topic, term_type, term)
		)
	`,
	createIndex: `
		CREATE INDEX IF NOT EXISTS idx_keyword_terms_topic_ignored ON keyword_terms(topic, ignored)
	`,
	increment: `
		INSERT INTO keyword_terms (topic, term_type, term, occurrences, ignored, reason_for_ignore)
		VALUES (?, ?, ?, ?, FALSE, 0)
		ON CONFLICT (topic, term_type, term)
		DO UPDATE SET
			occurrences = occurrences + excluded.occurrences,
			updated_at = CURRENT_TIMESTAMP
	`,
	review: `
		INSERT INTO keyword_terms (topic, term_type, term, occurrences, ignored, reason_for_ignore)
		VALUES (?, ?, ?, 0, TRUE, ?)
		ON CONFLICT (topic, term_type, term)
		DO UPDATE SET
			ignored = TRUE,
			reason_for_ignore = excluded.reason_for_ignore,
			updated_at = CURRENT_TIMESTAMP
	`,
	applyIgnore: `
		UPDATE keyword_terms
		SET ignored = TRUE,
			reason_for_ignore = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE topic = ? AND term_type = ? AND term = ?
	`,
}

// NewSQLiteStore opens a SQLite-backed term store at dbPath.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return &SQLStore{db: db, dialect: sqliteDialect, logger: logger}, nil
}
