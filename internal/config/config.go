// Package config loads the refinery configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultReadTimeout is the default HTTP read timeout.
	DefaultReadTimeout = 10 * time.Second
	// DefaultWriteTimeout is the default HTTP write timeout.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultClusterTTL is how long cluster records live in the store.
	DefaultClusterTTL = 7 * 24 * time.Hour
	// DefaultMaxCostUSD is the default LLM spend ceiling per call.
	DefaultMaxCostUSD = 0.10
)

// Config is the top-level configuration for both the API and worker processes.
type Config struct {
	Debug  bool         `yaml:"debug"` // Controls log level and format
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	LLM    LLMConfig    `yaml:"llm"`
	Worker WorkerConfig `yaml:"worker"`
	Output OutputConfig `yaml:"output"`
}

// ServerConfig configures the HTTP API process.
type ServerConfig struct {
	Address      string        `yaml:"address"`       // e.g. ":8080"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // Default: 30s
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// RedisConfig configures the shared key-value store and job queue.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	ClusterTTL time.Duration `yaml:"cluster_ttl"` // Default: 7 days
}

// LLMConfig selects the provider and sets the cost guard ceiling.
type LLMConfig struct {
	Provider        string  `yaml:"provider"` // openai, anthropic, ollama
	Model           string  `yaml:"model"`    // Empty = provider default
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	OllamaBaseURL   string  `yaml:"ollama_base_url"`
	MaxTokens       int     `yaml:"max_tokens"`   // Completion cap, default 3000
	MaxCostUSD      float64 `yaml:"max_cost_usd"` // Cost guard ceiling
}

// WorkerConfig configures the background worker pool.
type WorkerConfig struct {
	Concurrency      int           `yaml:"concurrency"`       // Default: 4
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`     // Default: 60s
	CleanTimeout     time.Duration `yaml:"clean_timeout"`     // Default: 120s
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"` // Default: 300s
}

// OutputConfig configures the durable Markdown output directory.
type OutputConfig struct {
	Dir string `yaml:"dir"` // Default: ./output
}

// Validate checks required fields. Defaults are applied beforehand by Load.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("llm.provider must be openai, anthropic, or ollama, got %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "openai" && c.LLM.OpenAIAPIKey == "" {
		return errors.New("llm.openai_api_key is required when llm.provider is openai")
	}
	if c.LLM.Provider == "anthropic" && c.LLM.AnthropicAPIKey == "" {
		return errors.New("llm.anthropic_api_key is required when llm.provider is anthropic")
	}
	if c.LLM.MaxCostUSD < 0 {
		return fmt.Errorf("llm.max_cost_usd must not be negative, got %v", c.LLM.MaxCostUSD)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	return nil
}

// setDefaults fills in default values for unset fields.
func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Redis.ClusterTTL == 0 {
		cfg.Redis.ClusterTTL = DefaultClusterTTL
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.OllamaBaseURL == "" {
		cfg.LLM.OllamaBaseURL = "http://localhost:11434"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 3000
	}
	if cfg.LLM.MaxCostUSD == 0 {
		cfg.LLM.MaxCostUSD = DefaultMaxCostUSD
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.FetchTimeout == 0 {
		cfg.Worker.FetchTimeout = 60 * time.Second
	}
	if cfg.Worker.CleanTimeout == 0 {
		cfg.Worker.CleanTimeout = 120 * time.Second
	}
	if cfg.Worker.SynthesisTimeout == 0 {
		cfg.Worker.SynthesisTimeout = 300 * time.Second
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "./output"
	}
}

// overrideWithEnvVars overrides configuration with environment variables.
func overrideWithEnvVars(cfg *Config) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIAPIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.AnthropicAPIKey = key
	}
	if base := os.Getenv("OLLAMA_BASE_URL"); base != "" {
		cfg.LLM.OllamaBaseURL = base
	}
	if limit := os.Getenv("MAX_COST_LIMIT"); limit != "" {
		if v, err := strconv.ParseFloat(limit, 64); err == nil {
			cfg.LLM.MaxCostUSD = v
		}
	}
	if dir := os.Getenv("OUTPUT_DIR"); dir != "" {
		cfg.Output.Dir = dir
	}
	if appDebug := os.Getenv("APP_DEBUG"); appDebug != "" {
		cfg.Debug = parseBool(appDebug)
	}
	if port := os.Getenv("REFINERY_PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Missing file is fine, the service can run on env vars alone.
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
