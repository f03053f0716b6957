package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	DeepSeek    DeepSeekConfig    `yaml:"deepseek" mapstructure:"deepseek"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`
	Campaign    CampaignConfig    `yaml:"campaign" mapstructure:"campaign"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig     `yaml:"circuit" mapstructure:"circuit"`
	Schedule    ScheduleConfig    `yaml:"schedule" mapstructure:"schedule"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LLMConfig selects the completion provider used by the analysis stages.
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "deepseek" or "anthropic"
}

// DeepSeekConfig holds DeepSeek API settings.
type DeepSeekConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicConfig holds Anthropic API settings for the fallback provider.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures the batch orchestrator.
type PipelineConfig struct {
	// WindowDays bounds candidate selection to recently published posts.
	WindowDays int `yaml:"window_days" mapstructure:"window_days"`
	// CandidateMultiplier caps the raw scan at multiplier × maxPosts.
	CandidateMultiplier int `yaml:"candidate_multiplier" mapstructure:"candidate_multiplier"`
	// DefaultMaxPosts is used when a request does not specify a batch size.
	DefaultMaxPosts int `yaml:"default_max_posts" mapstructure:"default_max_posts"`
	// BudgetSecs is the soft wall-clock budget per batch invocation. The
	// orchestrator stops between items once exceeded and reports the rest
	// as remaining.
	BudgetSecs int `yaml:"budget_secs" mapstructure:"budget_secs"`
	// CallsPerMinute rate-limits LLM calls across the batch.
	CallsPerMinute int `yaml:"calls_per_minute" mapstructure:"calls_per_minute"`
	// MaxContentChars truncates post content embedded in prompts.
	MaxContentChars int `yaml:"max_content_chars" mapstructure:"max_content_chars"`
}

// CalibrationConfig configures the calibration refresher defaults.
type CalibrationConfig struct {
	LookbackDays int     `yaml:"lookback_days" mapstructure:"lookback_days"`
	MinRiskScore float64 `yaml:"min_risk_score" mapstructure:"min_risk_score"`
}

// CampaignConfig configures the campaign detector.
type CampaignConfig struct {
	// ReachPerPost is the linear factor for the reach estimate.
	ReachPerPost int `yaml:"reach_per_post" mapstructure:"reach_per_post"`
	// TimeRangeDays is the default detection window.
	TimeRangeDays int `yaml:"time_range_days" mapstructure:"time_range_days"`
}

// RetryConfig configures LLM call retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the LLM circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ScheduleConfig holds cron expressions for the scheduler command.
type ScheduleConfig struct {
	PipelineCron    string `yaml:"pipeline_cron" mapstructure:"pipeline_cron"`
	CalibrationCron string `yaml:"calibration_cron" mapstructure:"calibration_cron"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures ops metrics collection and webhook alerting.
type MonitoringConfig struct {
	// WebhookURL receives alert payloads. Alerting is disabled when empty.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	// CheckIntervalSecs is how often the background checker evaluates alerts.
	CheckIntervalSecs int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// LookbackWindowHours bounds the metrics window.
	LookbackWindowHours int `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	// FailureRateThreshold is the LLM call failure rate (0..1) above which an
	// alert fires.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// CostThresholdUSD alerts when spend within the window exceeds it. Zero
	// disables the check.
	CostThresholdUSD float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	// BacklogThreshold alerts when more than this many posts in the window
	// still await a quick screen. Zero disables the check.
	BacklogThreshold int `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("llm.provider", "deepseek")
	v.SetDefault("deepseek.base_url", "https://api.deepseek.com")
	v.SetDefault("deepseek.model", "deepseek-chat")
	v.SetDefault("deepseek.max_tokens", 2048)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("pipeline.window_days", 7)
	v.SetDefault("pipeline.candidate_multiplier", 3)
	v.SetDefault("pipeline.default_max_posts", 20)
	v.SetDefault("pipeline.budget_secs", 300)
	v.SetDefault("pipeline.calls_per_minute", 30)
	v.SetDefault("pipeline.max_content_chars", 4000)
	v.SetDefault("calibration.lookback_days", 30)
	v.SetDefault("calibration.min_risk_score", 0)
	v.SetDefault("campaign.reach_per_post", 1500)
	v.SetDefault("campaign.time_range_days", 7)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("schedule.pipeline_cron", "*/15 * * * *")
	v.SetDefault("schedule.calibration_cron", "0 */6 * * *")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
	v.SetDefault("monitoring.backlog_threshold", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Config file is optional; env and defaults are enough to run.
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
