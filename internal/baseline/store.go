package baseline

import (
	"encoding/json"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
)

// Store serves the latest baseline snapshot to the scorer. Reload parses the
// whole document and swaps it in atomically, so concurrent readers always see
// a complete snapshot.
type Store struct {
	path     string
	snapshot atomic.Pointer[core.BaselineSnapshot]
	logger   *zap.Logger
}

// NewStore creates a store over the baseline file at path. The store starts
// empty; call Reload to populate it.
func NewStore(path string, logger *zap.Logger) *Store {
	s := &Store{path: path, logger: logger}
	s.snapshot.Store(emptySnapshot())
	return s
}

// Reload replaces the cached snapshot with the file's current content.
// A missing or malformed file swaps in an empty snapshot rather than
// failing: a sender without a baseline is a scoring signal, not an error.
func (s *Store) Reload() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("Baseline file unavailable, serving empty snapshot",
			zap.String("path", s.path),
			zap.Error(err))
		s.snapshot.Store(emptySnapshot())
		return
	}

	var snapshot core.BaselineSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		s.logger.Error("Baseline file malformed, serving empty snapshot",
			zap.String("path", s.path),
			zap.Error(err))
		s.snapshot.Store(emptySnapshot())
		return
	}
	if snapshot.Users == nil {
		snapshot.Users = make(map[string]*core.SenderProfile)
	}

	s.snapshot.Store(&snapshot)
	s.logger.Info("Baseline snapshot loaded",
		zap.String("path", s.path),
		zap.Int("users", len(snapshot.Users)))
}

// GetSenderProfile returns the profile for senderID, or nil when the sender
// has no baseline.
func (s *Store) GetSenderProfile(senderID string) *core.SenderProfile {
	return s.snapshot.Load().Users[senderID]
}

// UserCount reports how many senders the current snapshot covers.
func (s *Store) UserCount() int {
	return len(s.snapshot.Load().Users)
}

// Meta returns the current snapshot's build metadata.
func (s *Store) Meta() core.BaselineMeta {
	return s.snapshot.Load().Meta
}

func emptySnapshot() *core.BaselineSnapshot {
	return &core.BaselineSnapshot{Users: make(map[string]*core.SenderProfile)}
}
