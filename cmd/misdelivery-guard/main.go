package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/adapters/smtpgate"
	"github.com/mikey/misdelivery-guard/internal/baseline"
	"github.com/mikey/misdelivery-guard/internal/config"
	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/di"
	"github.com/mikey/misdelivery-guard/internal/directory"
	"github.com/mikey/misdelivery-guard/internal/server"
	"github.com/mikey/misdelivery-guard/internal/topic"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	httpServer *server.Server,
	gate *smtpgate.Gate,
	store *baseline.Store,
	dir *directory.Directory,
	termStore core.TermStore,
	classifier *topic.Classifier,
	explainer core.Explainer,
) error {
	defer logger.Sync()

	ctx := context.Background()

	// Load the persisted baseline; a missing file just means every sender
	// scores as no-baseline until the first build.
	store.Reload()

	// Populate the identity directory. The service stays up on failure and
	// can be refreshed later via /v1/users/reload.
	if err := dir.Reload(ctx); err != nil {
		logger.Warn("Initial identity directory load failed", zap.Error(err))
	}

	// Prepare the keyword term store and seed it from the stats file when the
	// table is still empty.
	if err := termStore.InitSchema(ctx); err != nil {
		logger.Fatal("Failed to initialize keyword store schema", zap.Error(err))
		return err
	}
	importKeywordStats(ctx, termStore, cfg.GetString("keywords.stats_path"), logger)

	// Watch the topic rule file for live edits
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if cfg.GetBool("topics.watch") {
		watcher, err := topic.NewWatcher(classifier, cfg.GetString("topics.rules_path"), logger)
		if err != nil {
			logger.Warn("Topic rule watching disabled", zap.Error(err))
		} else {
			go watcher.Run(watchCtx)
		}
	}

	// Start the HTTP server
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	// Start the SMTP gate when enabled
	gateEnabled := cfg.GetBool("smtp_gate.enabled")
	if gateEnabled {
		if err := gate.Start(); err != nil {
			logger.Fatal("Failed to start SMTP gate", zap.Error(err))
			return err
		}
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Shutting down...")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop HTTP server", zap.Error(err))
	}
	if gateEnabled {
		if err := gate.Stop(); err != nil {
			logger.Error("Failed to stop SMTP gate", zap.Error(err))
		}
	}
	if err := termStore.Close(); err != nil {
		logger.Error("Failed to close keyword store", zap.Error(err))
	}
	if closer, ok := explainer.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close explainer", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

// importKeywordStats bootstraps the term store from the builder's stats file.
// The store only accepts the import while empty, so restarting never double
// counts.
func importKeywordStats(ctx context.Context, termStore core.TermStore, path string, logger *zap.Logger) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var snapshot core.KeywordSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		logger.Warn("Keyword stats file malformed, skipping import",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	if err := termStore.ImportSnapshotIfEmpty(ctx, &snapshot); err != nil {
		logger.Warn("Keyword stats import failed", zap.Error(err))
	}
}
