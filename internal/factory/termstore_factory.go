package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/config"
	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/keywords"
)

// TermStoreFactory creates keyword term stores.
type TermStoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewTermStoreFactory creates a new term store factory.
func NewTermStoreFactory(cfg *config.Config, logger *zap.Logger) *TermStoreFactory {
	return &TermStoreFactory{cfg: cfg, logger: logger}
}

// CreateTermStore creates the configured term store backend.
func (f *TermStoreFactory) CreateTermStore() (core.TermStore, error) {
	backend := f.cfg.GetString("keywords.store")

	switch backend {
	case "sqlite":
		return keywords.NewSQLiteStore(f.cfg.GetString("keywords.sqlite_path"), f.logger)
	case "mysql":
		return keywords.NewMySQLStore(f.cfg.GetString("keywords.mysql_dsn"), f.logger)
	default:
		return nil, fmt.Errorf("unsupported keyword store backend: %s", backend)
	}
}
