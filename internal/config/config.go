package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"rank-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Retention RetentionConfig `mapstructure:"retention"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN runs
// the service without durable persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// MonitorConfig governs polling cadence and cycle behaviour.
type MonitorConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	Concurrency       int           `mapstructure:"concurrency"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	FailureAlertAfter int           `mapstructure:"failure_alert_after"`
}

// FetcherConfig covers SERP data access.
type FetcherConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Login           string        `mapstructure:"login"`
	Password        string        `mapstructure:"password"`
	LocationCode    int           `mapstructure:"location_code"`
	LanguageCode    string        `mapstructure:"language_code"`
	Depth           int           `mapstructure:"depth"`
	CompetitorLimit int           `mapstructure:"competitor_limit"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// RetryConfig tunes transient-failure retries on SERP fetches.
type RetryConfig struct {
	Attempts     int           `mapstructure:"attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	JitterFactor float64       `mapstructure:"jitter_factor"`
}

// AnalysisConfig governs the volatility window.
type AnalysisConfig struct {
	Window     time.Duration `mapstructure:"window"`
	MinSamples int           `mapstructure:"min_samples"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	DropThreshold       int            `mapstructure:"drop_threshold"`
	GainThreshold       int            `mapstructure:"gain_threshold"`
	VolatilityThreshold float64        `mapstructure:"volatility_threshold"`
	Cooldown            time.Duration  `mapstructure:"cooldown"`
	EscalationMargin    float64        `mapstructure:"escalation_margin"`
	Telegram            TelegramConfig `mapstructure:"telegram"`
	Webhook             WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig routes alerts to an HTTP endpoint.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// RetentionConfig bounds historical data kept in memory and in the
// database.
type RetentionConfig struct {
	History time.Duration `mapstructure:"history"`
}

// ServerConfig governs the HTTP and WebSocket listener.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rankwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitor.interval", "60s")
	v.SetDefault("monitor.concurrency", 5)
	v.SetDefault("monitor.fetch_timeout", "30s")
	v.SetDefault("monitor.failure_alert_after", 3)

	v.SetDefault("fetcher.base_url", "https://api.dataforseo.com")
	v.SetDefault("fetcher.location_code", 2840)
	v.SetDefault("fetcher.language_code", "en")
	v.SetDefault("fetcher.depth", 100)
	v.SetDefault("fetcher.competitor_limit", 5)
	v.SetDefault("fetcher.request_timeout", "30s")
	v.SetDefault("fetcher.user_agent", "rankwatch/1.0")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_factor", 0.1)

	v.SetDefault("analysis.window", "24h")
	v.SetDefault("analysis.min_samples", 10)

	v.SetDefault("alerting.drop_threshold", 3)
	v.SetDefault("alerting.gain_threshold", 3)
	v.SetDefault("alerting.volatility_threshold", 0.3)
	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.escalation_margin", 0.5)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.webhook.enabled", false)

	v.SetDefault("retention.history", "720h")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than zero")
	}
	if c.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be greater than zero")
	}
	if c.Monitor.FetchTimeout <= 0 {
		return fmt.Errorf("monitor.fetch_timeout must be greater than zero")
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be greater than zero")
	}
	if c.Analysis.MinSamples <= 0 {
		return fmt.Errorf("analysis.min_samples must be greater than zero")
	}
	if c.Alerting.DropThreshold <= 0 || c.Alerting.GainThreshold <= 0 {
		return fmt.Errorf("alerting thresholds must be greater than zero")
	}
	if c.Alerting.VolatilityThreshold < 0 {
		return fmt.Errorf("alerting.volatility_threshold cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url must be set when the webhook channel is enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
