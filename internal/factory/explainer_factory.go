// Package factory builds the configurable collaborators: the explanation
// client, the keyword miner and the keyword term store.
package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/adapters/bedrock"
	"github.com/mikey/misdelivery-guard/internal/adapters/gemini"
	"github.com/mikey/misdelivery-guard/internal/adapters/openai"
	"github.com/mikey/misdelivery-guard/internal/adapters/remote"
	"github.com/mikey/misdelivery-guard/internal/config"
	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/httpx"
)

// ExplainerFactory creates explanation clients.
type ExplainerFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewExplainerFactory creates a new explainer factory.
func NewExplainerFactory(cfg *config.Config, logger *zap.Logger) *ExplainerFactory {
	return &ExplainerFactory{cfg: cfg, logger: logger}
}

// CreateExplainer creates the configured explanation client. Provider "none"
// returns nil, meaning the deterministic fallback template is always used.
func (f *ExplainerFactory) CreateExplainer() (core.Explainer, error) {
	provider := f.cfg.GetString("explainer.provider")

	switch provider {
	case "none", "":
		return nil, nil
	case "remote":
		timeout, err := f.cfg.GetDuration("explainer.timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid explainer timeout: %w", err)
		}
		client := httpx.New(httpx.Options{
			Timeout:    timeout,
			MaxRetries: f.cfg.GetInt("explainer.max_retries"),
		}, f.logger)
		return remote.NewExplainer(f.cfg.GetString("explainer.url"), client, f.logger), nil
	case "openai":
		return openai.NewExplainer(
			f.cfg.GetString("openai.api_key"),
			f.cfg.GetString("openai.model_name"),
			float32(f.cfg.GetFloat64("openai.temperature")),
			f.logger,
		), nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.cfg.GetString("bedrock.region")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return bedrock.NewExplainer(
			bedrockruntime.NewFromConfig(awsCfg),
			f.cfg.GetString("bedrock.model_id"),
			f.cfg.GetInt("bedrock.max_tokens"),
			float32(f.cfg.GetFloat64("bedrock.temperature")),
			f.logger,
		), nil
	case "gemini":
		return gemini.NewExplainer(
			f.cfg.GetString("gemini.api_key"),
			f.cfg.GetString("gemini.model_name"),
			f.cfg.GetInt("gemini.max_tokens"),
			float32(f.cfg.GetFloat64("gemini.temperature")),
			f.logger,
		)
	default:
		return nil, fmt.Errorf("unsupported explainer provider: %s", provider)
	}
}
