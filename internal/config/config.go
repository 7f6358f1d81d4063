// Package config loads application configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/litgrid/paperminer/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the extraction database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds Anthropic API settings. Key is read from the
// environment (PAPERMINER_ANTHROPIC_KEY), never from the config file.
type AnthropicConfig struct {
	Key   string `yaml:"-" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings. Key is read from the environment
// (PAPERMINER_OPENAI_KEY), never from the config file.
type OpenAIConfig struct {
	Key     string `yaml:"-" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ProvidersConfig selects the primary provider and the optional fallback.
type ProvidersConfig struct {
	Primary  string `yaml:"primary" mapstructure:"primary"`
	Fallback string `yaml:"fallback" mapstructure:"fallback"`
}

// ExtractConfig configures extraction call behavior.
type ExtractConfig struct {
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// RetryConfig configures retry behavior for transient provider failures.
type RetryConfig struct {
	MaxAttempts  int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs  int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs   int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	JitterFactor float64 `yaml:"jitter_factor" mapstructure:"jitter_factor"`
}

// ToResilience converts to the resilience package's retry config.
func (c RetryConfig) ToResilience() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelayMs > 0 {
		cfg.BaseDelay = time.Duration(c.BaseDelayMs) * time.Millisecond
	}
	if c.MaxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(c.MaxDelayMs) * time.Millisecond
	}
	if c.JitterFactor > 0 {
		cfg.JitterFactor = c.JitterFactor
	}
	return cfg
}

// CircuitConfig configures the per-provider circuit breakers.
type CircuitConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int  `yaml:"success_threshold" mapstructure:"success_threshold"`
	CooldownSecs     int  `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// ToResilience converts to the resilience package's breaker config.
func (c CircuitConfig) ToResilience() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.Disabled = !c.Enabled
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.SuccessThreshold > 0 {
		cfg.SuccessThreshold = c.SuccessThreshold
	}
	if c.CooldownSecs > 0 {
		cfg.Cooldown = time.Duration(c.CooldownSecs) * time.Second
	}
	return cfg
}

// BudgetConfig configures cost limits in USD. Zero means unlimited.
type BudgetConfig struct {
	DailyLimitUSD float64 `yaml:"daily_limit_usd" mapstructure:"daily_limit_usd"`
	TotalLimitUSD float64 `yaml:"total_limit_usd" mapstructure:"total_limit_usd"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentPapers int `yaml:"max_concurrent_papers" mapstructure:"max_concurrent_papers"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures alerting thresholds and the webhook sink.
type MonitoringConfig struct {
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	BudgetWarnFraction float64 `yaml:"budget_warn_fraction" mapstructure:"budget_warn_fraction"`
	DLQDepthThreshold  int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	CheckIntervalSecs  int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PAPERMINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "paperminer.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("providers.primary", "anthropic")
	v.SetDefault("providers.fallback", "openai")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("monitoring.webhook_url", "")

	// API keys come from the environment only; registering empty defaults
	// makes AutomaticEnv pick them up during Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("openai.key", "")
	v.SetDefault("extract.max_tokens", 4096)
	v.SetDefault("extract.temperature", 0.0)
	v.SetDefault("extract.timeout_secs", 120)
	v.SetDefault("extract.requests_per_minute", 0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.jitter_factor", 0.25)
	v.SetDefault("circuit.enabled", true)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.success_threshold", 2)
	v.SetDefault("circuit.cooldown_secs", 60)
	v.SetDefault("batch.max_concurrent_papers", 5)
	v.SetDefault("monitoring.budget_warn_fraction", 0.8)
	v.SetDefault("monitoring.dlq_depth_threshold", 25)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields a command depends on are present and in
// range. mode is "extract", "batch", or "serve".
func (c *Config) Validate(mode string) error {
	switch mode {
	case "extract", "batch", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var missing []string

	switch c.Providers.Primary {
	case "anthropic":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required (set PAPERMINER_ANTHROPIC_KEY)")
		}
	case "openai":
		if c.OpenAI.Key == "" {
			missing = append(missing, "openai.key is required (set PAPERMINER_OPENAI_KEY)")
		}
	case "":
		missing = append(missing, "providers.primary is required")
	default:
		missing = append(missing, fmt.Sprintf("providers.primary %q is not a known provider", c.Providers.Primary))
	}

	switch c.Providers.Fallback {
	case "", c.Providers.Primary:
	case "anthropic":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required for the fallback (set PAPERMINER_ANTHROPIC_KEY)")
		}
	case "openai":
		if c.OpenAI.Key == "" {
			missing = append(missing, "openai.key is required for the fallback (set PAPERMINER_OPENAI_KEY)")
		}
	default:
		missing = append(missing, fmt.Sprintf("providers.fallback %q is not a known provider", c.Providers.Fallback))
	}

	if c.Store.Path == "" {
		missing = append(missing, "store.path is required")
	}
	if c.Budget.DailyLimitUSD < 0 || c.Budget.TotalLimitUSD < 0 {
		missing = append(missing, "budget limits must be >= 0")
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		missing = append(missing, "retry.jitter_factor must be between 0 and 1")
	}

	if mode == "batch" {
		if c.Batch.MaxConcurrentPapers < 1 || c.Batch.MaxConcurrentPapers > 50 {
			missing = append(missing, "batch.max_concurrent_papers must be between 1 and 50")
		}
	}
	if mode == "serve" {
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
