package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/baseline"
	"github.com/mikey/misdelivery-guard/internal/config"
	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/factory"
	"github.com/mikey/misdelivery-guard/internal/graph"
	"github.com/mikey/misdelivery-guard/internal/httpx"
	"github.com/mikey/misdelivery-guard/internal/logging"
	"github.com/mikey/misdelivery-guard/internal/topic"
)

var (
	// Source flags
	baseURL    = flag.String("base-url", "http://127.0.0.1:8000", "Historical message source base URL")
	days       = flag.Int("days", 35, "How many days of history to aggregate")
	maxRetries = flag.Int("max-retries", 4, "HTTP retry attempts against the source")
	timeout    = flag.String("timeout", "15s", "Per-request timeout against the source")

	// Output flags
	outPath   = flag.String("out", "./baseline.json", "Baseline snapshot output path")
	statsPath = flag.String("keyword-stats", "./keyword_stats.json", "Keyword statistics output path")

	// Classification flags
	rulesPath = flag.String("rules", "./configs/topic_keywords.json", "Topic rule file")
	policy    = flag.String("topic-policy", "threshold", "Topic accept policy (threshold, total_signal)")

	// Aggregation flags
	concurrency   = flag.Int("concurrency", 4, "Concurrent message fetches per user")
	companyDomain = flag.String("company-domain", "company.com", "Internal email domain")

	// Keyword mining flags
	miner          = flag.String("miner", "disabled", "Keyword miner (disabled, remote, openai)")
	minerURL       = flag.String("miner-url", "http://127.0.0.1:8030", "Remote miner base URL")
	batchSize      = flag.Int("batch-size", 200, "Messages per mining batch")
	keywordStore   = flag.String("keyword-store", "none", "Keyword term store (none, sqlite, mysql)")
	sqlitePath     = flag.String("sqlite-path", "/data/keyword_terms.db", "SQLite path for the term store")
	mysqlDSN       = flag.String("mysql-dsn", "", "MySQL DSN for the term store")
	openaiAPIKey   = flag.String("openai-api-key", "", "API key for the OpenAI miner")
	openaiModel    = flag.String("openai-model", "gpt-4o-mini", "Model name for the OpenAI miner")

	// Logging flags
	verbose = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog = flag.Bool("json-log", false, "Output logs in JSON format")
)

func main() {
	flag.Parse()

	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	rules, err := topic.LoadRules(*rulesPath)
	if err != nil {
		logger.Fatal("Failed to load topic rules", zap.Error(err))
	}
	classifier := topic.NewClassifier(rules, topic.ParsePolicy(*policy))

	cfg := createConfigFromFlags()

	requestTimeout, err := cfg.GetDuration("graph.timeout")
	if err != nil {
		logger.Fatal("Invalid timeout", zap.Error(err))
	}
	client := graph.NewClient(*baseURL, httpx.New(httpx.Options{
		Timeout:    requestTimeout,
		MaxRetries: *maxRetries,
	}, logger), logger)

	keywordMiner, err := factory.NewMinerFactory(cfg, logger).CreateMiner()
	if err != nil {
		logger.Fatal("Failed to create keyword miner", zap.Error(err))
	}

	var termStore core.TermStore
	if *keywordStore != "none" {
		termStore, err = factory.NewTermStoreFactory(cfg, logger).CreateTermStore()
		if err != nil {
			logger.Fatal("Failed to create keyword store", zap.Error(err))
		}
		defer termStore.Close()
		if err := termStore.InitSchema(context.Background()); err != nil {
			logger.Fatal("Failed to initialize keyword store schema", zap.Error(err))
		}
	}

	builder := baseline.NewBuilder(client, classifier, keywordMiner, termStore, core.NewBuildStatus(), baseline.BuilderOptions{
		OutputPath:       *outPath,
		KeywordStatsPath: *statsPath,
		KeywordBatchSize: *batchSize,
		FetchConcurrency: *concurrency,
		CompanyDomain:    *companyDomain,
	}, logger)

	snapshot, err := builder.Build(context.Background(), *days)
	if err != nil {
		logger.Fatal("Baseline build failed", zap.Error(err))
	}

	fmt.Printf("Baseline written to %s: %d users, %d messages over %d days\n",
		*outPath, snapshot.Meta.UserCount, snapshot.Meta.MessageCount, snapshot.Meta.Days)
}

// createConfigFromFlags maps the command line flags onto the configuration
// keys the factories read.
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	v.Set("graph.base_url", *baseURL)
	v.Set("graph.timeout", *timeout)
	v.Set("graph.max_retries", *maxRetries)

	v.Set("keywords.miner", *miner)
	v.Set("keywords.miner_url", *minerURL)
	v.Set("keywords.batch_size", *batchSize)
	v.Set("keywords.store", *keywordStore)
	v.Set("keywords.sqlite_path", *sqlitePath)
	v.Set("keywords.mysql_dsn", *mysqlDSN)

	v.Set("openai.api_key", *openaiAPIKey)
	v.Set("openai.model_name", *openaiModel)

	return config.NewFromViper(v)
}
