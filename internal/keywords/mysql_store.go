package keywords

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQL needs bounded key columns for the composite primary key.
var mysqlDialect = dialect{
	createTable: `
		CREATE TABLE IF NOT EXISTS keyword_terms (
			topic VARCHAR(128) NOT NULL,
			term_type VARCHAR(16) NOT NULL,
			term VARCHAR(255) NOT NULL,
			occurrences BIGINT NOT NULL DEFAULT 0,
			ignored BOOLEAN NOT NULL DEFAULT FALSE,
			reason_for_ignore TINYINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (topic, term_type, term),
			INDEX idx_keyword_terms_topic_ignored (topic, ignored)
		)
	`,
	increment: `
		INSERT INTO keyword_terms (topic, term_type, term, occurrences, ignored, reason_for_ignore)
		VALUES (?, ?, ?, ?, FALSE, 0)
		ON DUPLICATE KEY UPDATE
			occurrences = occurrences + VALUES(occurrences)
	`,
	review: `
		INSERT INTO keyword_terms (topic, term_type, term, occurrences, ignored, reason_for_ignore)
		VALUES (?, ?, ?, 0, TRUE, ?)
		ON DUPLICATE KEY UPDATE
			ignored = TRUE,
			reason_for_ignore = VALUES(reason_for_ignore)
	`,
	applyIgnore: `
		UPDATE keyword_terms
		SET ignored = TRUE,
			reason_for_ignore = ?
		WHERE topic = ? AND term_type = ? AND term = ?
	`,
}

// NewMySQLStore opens a MySQL-backed term store.
func NewMySQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return &SQLStore{db: db, dialect: mysqlDialect, logger: logger}, nil
}
