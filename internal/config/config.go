package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/misdelivery-guard/")
	v.AddConfigPath("$HOME/.misdelivery-guard")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("MISDELIVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_address", "0.0.0.0:8020")

	// Historical message source defaults
	v.SetDefault("graph.base_url", "http://127.0.0.1:8000")
	v.SetDefault("graph.timeout", "15s")
	v.SetDefault("graph.max_retries", 4)

	// Company identity defaults
	v.SetDefault("identity.company_domain", "company.com")

	// Baseline defaults
	v.SetDefault("baseline.path", "./baseline.json")
	v.SetDefault("baseline.days", 35)
	v.SetDefault("baseline.fetch_concurrency", 4)

	// Topic rule defaults
	v.SetDefault("topics.rules_path", "./configs/topic_keywords.json")
	v.SetDefault("topics.builder_policy", "threshold")
	v.SetDefault("topics.scorer_policy", "total_signal")
	v.SetDefault("topics.watch", true)

	// Keyword mining defaults
	v.SetDefault("keywords.miner", "disabled")
	v.SetDefault("keywords.miner_url", "http://127.0.0.1:8030")
	v.SetDefault("keywords.miner_timeout", "3s")
	v.SetDefault("keywords.miner_max_retries", 3)
	v.SetDefault("keywords.batch_size", 200)
	v.SetDefault("keywords.stats_path", "./keyword_stats.json")
	v.SetDefault("keywords.store", "sqlite")
	v.SetDefault("keywords.sqlite_path", "/data/keyword_terms.db")
	v.SetDefault("keywords.mysql_dsn", "user:password@tcp(localhost:3306)/misdelivery")

	// Explainer defaults
	v.SetDefault("explainer.provider", "none")
	v.SetDefault("explainer.url", "http://127.0.0.1:8030")
	v.SetDefault("explainer.timeout", "1500ms")
	v.SetDefault("explainer.max_retries", 1)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 400)
	v.SetDefault("openai.temperature", 0.0)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 400)
	v.SetDefault("bedrock.temperature", 0.0)
	v.SetDefault("bedrock.top_p", 0.9)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 400)
	v.SetDefault("gemini.temperature", 0.0)
	v.SetDefault("gemini.top_p", 0.9)

	// SMTP gate defaults
	v.SetDefault("smtp_gate.enabled", false)
	v.SetDefault("smtp_gate.listen_address", "0.0.0.0:10025")
	v.SetDefault("smtp_gate.block_on_block_decision", true)
	v.SetDefault("smtp_gate.headers.decision", "X-Misdelivery-Decision")
	v.SetDefault("smtp_gate.headers.score", "X-Misdelivery-Score")
	v.SetDefault("smtp_gate.headers.reasons", "X-Misdelivery-Reasons")
	v.SetDefault("smtp_gate.upstream.enabled", false)
	v.SetDefault("smtp_gate.upstream.host", "127.0.0.1")
	v.SetDefault("smtp_gate.upstream.port", 10026)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
