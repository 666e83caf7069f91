package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the analysis API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AnalysisConfig selects the model provider and the local call limits.
type AnalysisConfig struct {
	Provider           string  `yaml:"provider" mapstructure:"provider"`
	GeminiKey          string  `yaml:"gemini_api_key" mapstructure:"gemini_api_key"`
	GeminiModel        string  `yaml:"gemini_model" mapstructure:"gemini_model"`
	GeminiBaseURL      string  `yaml:"gemini_base_url" mapstructure:"gemini_base_url"`
	AnthropicKey       string  `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	AnthropicModel     string  `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	MaxTokens          int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateLimitRPS       float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst     int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	DailyQuota         int     `yaml:"daily_quota" mapstructure:"daily_quota"`
	RequestTimeoutSecs int     `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	QuotaMarker        string  `yaml:"quota_marker" mapstructure:"quota_marker"`
}

// BreakerConfig tunes the circuit breaker around provider calls.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// DataConfig points at the record fixtures served by the API.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// PipelineConfig configures the enrichment client.
type PipelineConfig struct {
	APIBaseURL     string        `yaml:"api_base_url" mapstructure:"api_base_url"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	StagesFile     string        `yaml:"stages_file" mapstructure:"stages_file"`
	QuotaMarker    string        `yaml:"quota_marker" mapstructure:"quota_marker"`
}

// StoreConfig configures the run journal backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MonitoringConfig configures journal-based alerting in serve mode.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QuotaFailureThreshold int     `yaml:"quota_failure_threshold" mapstructure:"quota_failure_threshold"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("analysis.gemini_api_key", "ENRICH_ANALYSIS_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("analysis.anthropic_api_key", "ENRICH_ANALYSIS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:3001"})
	v.SetDefault("analysis.provider", "gemini")
	v.SetDefault("analysis.gemini_model", "gemini-2.0-flash")
	v.SetDefault("analysis.gemini_base_url", "")
	v.SetDefault("analysis.anthropic_model", "claude-haiku-4-5-20251001")
	v.SetDefault("analysis.max_tokens", 1024)
	v.SetDefault("analysis.rate_limit_rps", 0)
	v.SetDefault("analysis.rate_limit_burst", 1)
	v.SetDefault("analysis.daily_quota", 0)
	v.SetDefault("analysis.request_timeout_secs", 60)
	v.SetDefault("analysis.quota_marker", "API_QUOTA_EXCEEDED")
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 30)
	v.SetDefault("data.dir", "data")
	v.SetDefault("pipeline.api_base_url", "http://localhost:8000")
	v.SetDefault("pipeline.retry_backoff", "5s")
	v.SetDefault("pipeline.request_timeout", "90s")
	v.SetDefault("pipeline.stages_file", "")
	v.SetDefault("pipeline.quota_marker", "API_QUOTA_EXCEEDED")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enrich.db")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.quota_failure_threshold", 1)

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

// Validate checks that the settings needed by the given command are present.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		switch c.Analysis.Provider {
		case "gemini", "":
			if c.Analysis.GeminiKey == "" {
				errs = append(errs, "analysis.gemini_api_key is required (or GEMINI_API_KEY)")
			}
		case "anthropic":
			if c.Analysis.AnthropicKey == "" {
				errs = append(errs, "analysis.anthropic_api_key is required (or ANTHROPIC_API_KEY)")
			}
		case "mock":
		default:
			errs = append(errs, "analysis.provider must be gemini, anthropic or mock")
		}
	case "enrich":
		if c.Pipeline.APIBaseURL == "" {
			errs = append(errs, "pipeline.api_base_url is required")
		}
		if c.Pipeline.RetryBackoff < 0 {
			errs = append(errs, "pipeline.retry_backoff must not be negative")
		}
	}
	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
