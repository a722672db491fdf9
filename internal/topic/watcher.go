package topic

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the topic rule file into a classifier when it changes on
// disk. A reload that fails to parse keeps the previous rules active.
type Watcher struct {
	watcher    *fsnotify.Watcher
	classifier *Classifier
	path       string
	logger     *zap.Logger
}

// NewWatcher creates a file watcher for the rule file backing classifier.
func NewWatcher(classifier *Classifier, path string, logger *zap.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	return &Watcher{
		watcher:    watcher,
		classifier: classifier,
		path:       path,
		logger:     logger,
	}, nil
}

// Run blocks until ctx is cancelled, swapping in fresh rules after each write.
// Writes are debounced so editors that truncate-then-write trigger one reload.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Topic rule watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Error("Topic rule reload failed, keeping previous rules",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}
	w.classifier.SwapRules(rules)
	w.logger.Info("Topic rules reloaded",
		zap.String("path", w.path),
		zap.Int("topics", len(rules.Topics)))
}
