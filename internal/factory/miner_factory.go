package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/adapters/openai"
	"github.com/mikey/misdelivery-guard/internal/adapters/remote"
	"github.com/mikey/misdelivery-guard/internal/config"
	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/httpx"
)

// MinerFactory creates keyword miners.
type MinerFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMinerFactory creates a new miner factory.
func NewMinerFactory(cfg *config.Config, logger *zap.Logger) *MinerFactory {
	return &MinerFactory{cfg: cfg, logger: logger}
}

// CreateMiner creates the configured keyword miner. Miner "disabled" returns
// nil, meaning baseline builds skip keyword mining entirely.
func (f *MinerFactory) CreateMiner() (core.KeywordMiner, error) {
	miner := f.cfg.GetString("keywords.miner")

	switch miner {
	case "disabled", "":
		return nil, nil
	case "remote":
		timeout, err := f.cfg.GetDuration("keywords.miner_timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid miner timeout: %w", err)
		}
		client := httpx.New(httpx.Options{
			Timeout:    timeout,
			MaxRetries: f.cfg.GetInt("keywords.miner_max_retries"),
		}, f.logger)
		return remote.NewMiner(f.cfg.GetString("keywords.miner_url"), client, f.logger), nil
	case "openai":
		return openai.NewMiner(
			f.cfg.GetString("openai.api_key"),
			f.cfg.GetString("openai.model_name"),
			float32(f.cfg.GetFloat64("openai.temperature")),
			f.logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported keyword miner: %s", miner)
	}
}
