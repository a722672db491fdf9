// Package di wires the service's object graph.
package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/adapters/smtpgate"
	"github.com/mikey/misdelivery-guard/internal/baseline"
	"github.com/mikey/misdelivery-guard/internal/config"
	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/directory"
	"github.com/mikey/misdelivery-guard/internal/factory"
	"github.com/mikey/misdelivery-guard/internal/graph"
	"github.com/mikey/misdelivery-guard/internal/httpx"
	"github.com/mikey/misdelivery-guard/internal/logging"
	"github.com/mikey/misdelivery-guard/internal/scoring"
	"github.com/mikey/misdelivery-guard/internal/server"
	"github.com/mikey/misdelivery-guard/internal/topic"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewExplainerFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMinerFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewTermStoreFactory); err != nil {
		return nil, err
	}

	// Register explainer
	if err := container.Provide(func(f *factory.ExplainerFactory) (core.Explainer, error) {
		return f.CreateExplainer()
	}); err != nil {
		return nil, err
	}

	// Register keyword miner
	if err := container.Provide(func(f *factory.MinerFactory) (core.KeywordMiner, error) {
		return f.CreateMiner()
	}); err != nil {
		return nil, err
	}

	// Register keyword term store
	if err := container.Provide(func(f *factory.TermStoreFactory) (core.TermStore, error) {
		return f.CreateTermStore()
	}); err != nil {
		return nil, err
	}

	// Register graph client
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*graph.Client, error) {
		timeout, err := cfg.GetDuration("graph.timeout")
		if err != nil {
			return nil, err
		}
		client := httpx.New(httpx.Options{
			Timeout:    timeout,
			MaxRetries: cfg.GetInt("graph.max_retries"),
		}, logger)
		return graph.NewClient(cfg.GetString("graph.base_url"), client, logger), nil
	}); err != nil {
		return nil, err
	}

	// Register topic classifier (scorer policy)
	if err := container.Provide(func(cfg *config.Config) (*topic.Classifier, error) {
		rules, err := topic.LoadRules(cfg.GetString("topics.rules_path"))
		if err != nil {
			return nil, err
		}
		policy := topic.ParsePolicy(cfg.GetString("topics.scorer_policy"))
		return topic.NewClassifier(rules, policy), nil
	}); err != nil {
		return nil, err
	}

	// Register identity directory
	if err := container.Provide(func(client *graph.Client, logger *zap.Logger) *directory.Directory {
		return directory.New(client, logger)
	}); err != nil {
		return nil, err
	}

	// Register baseline store
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *baseline.Store {
		return baseline.NewStore(cfg.GetString("baseline.path"), logger)
	}); err != nil {
		return nil, err
	}

	// Register build status
	if err := container.Provide(core.NewBuildStatus); err != nil {
		return nil, err
	}

	// Register baseline builder. History is classified under the builder
	// policy, a view over the scorer classifier's live rule set.
	if err := container.Provide(func(
		client *graph.Client,
		classifier *topic.Classifier,
		miner core.KeywordMiner,
		termStore core.TermStore,
		status *core.BuildStatus,
		cfg *config.Config,
		logger *zap.Logger,
	) *baseline.Builder {
		builderClassifier := classifier.WithPolicy(topic.ParsePolicy(cfg.GetString("topics.builder_policy")))
		return baseline.NewBuilder(client, builderClassifier, miner, termStore, status, baseline.BuilderOptions{
			OutputPath:       cfg.GetString("baseline.path"),
			KeywordStatsPath: cfg.GetString("keywords.stats_path"),
			KeywordBatchSize: cfg.GetInt("keywords.batch_size"),
			FetchConcurrency: cfg.GetInt("baseline.fetch_concurrency"),
			CompanyDomain:    cfg.GetString("identity.company_domain"),
		}, logger)
	}); err != nil {
		return nil, err
	}

	// Register scorer
	if err := container.Provide(func(
		classifier *topic.Classifier,
		dir *directory.Directory,
		cfg *config.Config,
		logger *zap.Logger,
	) *scoring.Scorer {
		return scoring.NewScorer(classifier, dir, cfg.GetString("identity.company_domain"), logger)
	}); err != nil {
		return nil, err
	}

	// Register check service
	if err := container.Provide(server.NewService); err != nil {
		return nil, err
	}

	// Register HTTP server
	if err := container.Provide(func(
		service *server.Service,
		builder *baseline.Builder,
		store *baseline.Store,
		dir *directory.Directory,
		termStore core.TermStore,
		classifier *topic.Classifier,
		cfg *config.Config,
		logger *zap.Logger,
	) *server.Server {
		return server.New(service, builder, store, dir, termStore, classifier, server.Options{
			ListenAddr:  cfg.GetString("server.listen_address"),
			RulesPath:   cfg.GetString("topics.rules_path"),
			DefaultDays: cfg.GetInt("baseline.days"),
		}, logger)
	}); err != nil {
		return nil, err
	}

	// Register SMTP gate
	if err := container.Provide(func(
		service *server.Service,
		dir *directory.Directory,
		cfg *config.Config,
		logger *zap.Logger,
	) *smtpgate.Gate {
		return smtpgate.NewGate(service, dir, smtpgate.Options{
			ListenAddr:      cfg.GetString("smtp_gate.listen_address"),
			BlockEnabled:    cfg.GetBool("smtp_gate.block_on_block_decision"),
			UpstreamAddr:    cfg.GetString("smtp_gate.upstream.host"),
			UpstreamPort:    cfg.GetInt("smtp_gate.upstream.port"),
			UpstreamEnabled: cfg.GetBool("smtp_gate.upstream.enabled"),
			DecisionHeader:  cfg.GetString("smtp_gate.headers.decision"),
			ScoreHeader:     cfg.GetString("smtp_gate.headers.score"),
			ReasonHeader:    cfg.GetString("smtp_gate.headers.reasons"),
		}, logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}
