package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, 30*time.Minute, cfg.Watch.Interval)
	assert.True(t, cfg.Watch.Retry)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}, cfg.Watch.RetryIncrements)
	assert.Equal(t, "Europe/Berlin", cfg.Watch.Timezone)
	assert.Equal(t, 5, cfg.Elexon.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Elexon.RetryDelay)
	assert.Equal(t, []string{"png", "csv"}, cfg.Export.Formats)
	assert.Equal(t, "postgres", cfg.Database.Driver)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
watch:
  interval: 15m
  retry: false
  retry_increments: ["10s", "20s"]
  timezone: UTC
database:
  driver: sqlite
  dsn: file:watch.db
export:
  formats: [png, parquet]
`))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Watch.Interval)
	assert.False(t, cfg.Watch.Retry)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, cfg.Watch.RetryIncrements)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"png", "parquet"}, cfg.Export.Formats)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("IMBALANCEWATCH_ELEXON_ATTEMPTS", "3")
	t.Setenv("IMBALANCEWATCH_WATCH_TIMEZONE", "Europe/London")

	cfg, err := Load(writeConfig(t, "app:\n  name: env\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Elexon.Attempts)
	assert.Equal(t, "Europe/London", cfg.Watch.Timezone)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Elexon: ElexonConfig{Attempts: 1},
			Watch:  WatchConfig{Interval: time.Minute, Timezone: "UTC"},
			Export: ExportConfig{Formats: []string{"png"}},
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(*Config){
		"zero interval":     func(c *Config) { c.Watch.Interval = 0 },
		"bad increment":     func(c *Config) { c.Watch.RetryIncrements = []time.Duration{time.Second, 0} },
		"unknown timezone":  func(c *Config) { c.Watch.Timezone = "Mars/Olympus" },
		"zero attempts":     func(c *Config) { c.Elexon.Attempts = 0 },
		"unknown driver":    func(c *Config) { c.Database.Driver = "mysql" },
		"negative alert":    func(c *Config) { c.Alerting.ThresholdMW = -1 },
		"telegram no token": func(c *Config) { c.Alerting.Telegram = TelegramConfig{Enabled: true, ChatID: "1"} },
		"no formats":        func(c *Config) { c.Export.Formats = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
