package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"fraudwatch/internal/fraud"
	"fraudwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Detection DetectionConfig `mapstructure:"detection"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// SourceConfig selects and parameterises the snapshot source.
type SourceConfig struct {
	Kind           string        `mapstructure:"kind"`
	BaseURL        string        `mapstructure:"base_url"`
	Path           string        `mapstructure:"path"`
	Token          string        `mapstructure:"token"`
	UserAgent      string        `mapstructure:"user_agent"`
	File           string        `mapstructure:"file"`
	Window         time.Duration `mapstructure:"window"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Source kinds.
const (
	SourceHTTP     = "http"
	SourcePostgres = "postgres"
	SourceFile     = "file"
)

// DetectionConfig holds the engine thresholds and worker fan-out.
type DetectionConfig struct {
	HighFrequencyThreshold int    `mapstructure:"high_frequency_threshold"`
	// ThresholdAmount is a decimal string; quote it in YAML to keep every digit.
	ThresholdAmount        string `mapstructure:"threshold_amount"`
	Workers                int    `mapstructure:"workers"`
}

// AlertingConfig defines alert routing for high-severity flags.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"`
	Cooldown    time.Duration  `mapstructure:"cooldown"`
	MaxFlags    int            `mapstructure:"max_flags"`
	Channels    []string       `mapstructure:"channels"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	RefreshRate     float64       `mapstructure:"refresh_rate"`
	RefreshBurst    int           `mapstructure:"refresh_burst"`
}

// CacheConfig configures publication of the latest bundle to Redis.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Dir         string `mapstructure:"dir"`
	ChartWidth  int    `mapstructure:"chart_width"`
	ChartHeight int    `mapstructure:"chart_height"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRAUDWATCH")
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
	v.SetDefault("app.name", "fraudwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66726175))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("source.kind", SourceHTTP)
	v.SetDefault("source.path", "/fraud-analytics/transactions")
	v.SetDefault("source.user_agent", "fraudwatch/1.0")
	v.SetDefault("source.window", "24h")
	v.SetDefault("source.request_timeout", "30s")

	v.SetDefault("detection.high_frequency_threshold", 5)
	v.SetDefault("detection.threshold_amount", "95000")
	v.SetDefault("detection.workers", 0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_severity", "HIGH")
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.max_flags", 20)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", int64(32<<20))
	v.SetDefault("server.refresh_rate", 0.2)
	v.SetDefault("server.refresh_burst", 2)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.key", "fraudwatch:analytics:latest")
	v.SetDefault("cache.ttl", "15m")

	v.SetDefault("export.dir", "export")
	v.SetDefault("export.chart_width", 1280)
	v.SetDefault("export.chart_height", 720)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	switch c.Source.Kind {
	case SourceHTTP:
	case SourcePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for source.kind=postgres")
		}
	case SourceFile:
		if c.Source.File == "" {
			return fmt.Errorf("source.file is required for source.kind=file")
		}
	default:
		return fmt.Errorf("source.kind must be one of http, postgres, file; got %q", c.Source.Kind)
	}
	if c.Source.Window <= 0 {
		return fmt.Errorf("source.window must be greater than zero")
	}
	if c.Detection.HighFrequencyThreshold < 0 {
		return fmt.Errorf("detection.high_frequency_threshold cannot be negative")
	}
	if _, err := c.Detection.thresholdAmount(); err != nil {
		return err
	}
	switch strings.ToUpper(c.Alerting.MinSeverity) {
	case "LOW", "MEDIUM", "HIGH":
	default:
		return fmt.Errorf("alerting.min_severity must be LOW, MEDIUM or HIGH")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Cache.Enabled && c.Cache.Key == "" {
		return fmt.Errorf("cache.key is required when cache is enabled")
	}
	return nil
}

func (d DetectionConfig) thresholdAmount() (decimal.Decimal, error) {
	raw := strings.TrimSpace(d.ThresholdAmount)
	if raw == "" {
		return decimal.NewFromInt(fraud.DefaultThresholdAmount), nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("detection.threshold_amount must be a decimal number: %w", err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("detection.threshold_amount cannot be negative")
	}
	return amount, nil
}

// DetectionOptions converts the configured thresholds for the engine. An
// unparsable amount, already rejected by Validate, falls back to the default.
func (c *Config) DetectionOptions() fraud.Options {
	amount, err := c.Detection.thresholdAmount()
	if err != nil {
		amount = decimal.NewFromInt(fraud.DefaultThresholdAmount)
	}
	return fraud.Options{
		HighFrequencyThreshold: c.Detection.HighFrequencyThreshold,
		ThresholdAmount:        amount,
	}
}
