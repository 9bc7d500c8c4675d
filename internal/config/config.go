package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"imbalance-watch/internal/logging"
	"imbalance-watch/internal/period"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Elexon   ElexonConfig   `mapstructure:"elexon"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects the checkpoint backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLock    bool          `mapstructure:"advisory_lock"`
}

// ElexonConfig covers BMRS API access.
type ElexonConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	Attempts          int           `mapstructure:"attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// WatchConfig governs the polling cadence.
type WatchConfig struct {
	Interval        time.Duration   `mapstructure:"interval"`
	Retry           bool            `mapstructure:"retry"`
	RetryIncrements []time.Duration `mapstructure:"retry_increments"`
	Timezone        string          `mapstructure:"timezone"`
	OutputDir       string          `mapstructure:"output_dir"`
	Progress        time.Duration   `mapstructure:"progress"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	ThresholdMW float64        `mapstructure:"threshold_mw"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets rendering behaviour.
type ExportConfig struct {
	Formats            []string `mapstructure:"formats"`
	Width              int      `mapstructure:"width"`
	Height             int      `mapstructure:"height"`
	ParquetCompression string   `mapstructure:"parquet_compression"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMBALANCEWATCH")
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
	v.SetDefault("app.name", "imbalancewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", true)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock", true)

	v.SetDefault("elexon.base_url", "https://data.elexon.co.uk/bmrs/api/v1")
	v.SetDefault("elexon.request_timeout", "30s")
	v.SetDefault("elexon.attempts", 5)
	v.SetDefault("elexon.retry_delay", "2s")
	v.SetDefault("elexon.requests_per_second", 1.0)

	v.SetDefault("watch.interval", "30m")
	v.SetDefault("watch.retry", true)
	v.SetDefault("watch.retry_increments", []string{"30s", "60s", "120s"})
	v.SetDefault("watch.timezone", "Europe/Berlin")
	v.SetDefault("watch.output_dir", ".")
	v.SetDefault("watch.progress", "1m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_mw", 100.0)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.formats", []string{"png", "csv"})
	v.SetDefault("export.width", 1280)
	v.SetDefault("export.height", 720)
	v.SetDefault("export.parquet_compression", "snappy")
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
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be greater than zero")
	}
	for _, d := range c.Watch.RetryIncrements {
		if d <= 0 {
			return fmt.Errorf("watch.retry_increments must all be greater than zero")
		}
	}
	if _, err := period.LoadLocation(c.Watch.Timezone); err != nil {
		return fmt.Errorf("watch.timezone: %w", err)
	}
	if c.Elexon.Attempts <= 0 {
		return fmt.Errorf("elexon.attempts must be greater than zero")
	}
	if c.Elexon.RetryDelay < 0 {
		return fmt.Errorf("elexon.retry_delay cannot be negative")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Alerting.ThresholdMW < 0 {
		return fmt.Errorf("alerting.threshold_mw cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if len(c.Export.Formats) == 0 {
		return fmt.Errorf("export.formats must name at least one format")
	}
	return nil
}

// Location resolves watch.timezone.
func (c *Config) Location() (*time.Location, error) {
	return period.LoadLocation(c.Watch.Timezone)
}
