package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "14:10", cfg.Scheduler.FetchTime)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RetryDelay)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, 168, cfg.HTTP.MaxWithinHours)
	assert.Equal(t, 24, cfg.HTTP.MaxDuration)
	assert.Equal(t, "east", cfg.Feed.Region)

	hour, minute, err := cfg.Scheduler.ClockTime()
	require.NoError(t, err)
	assert.Equal(t, 14, hour)
	assert.Equal(t, 10, minute)

	loc, err := cfg.Scheduler.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Copenhagen", loc.String())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
database:
  driver: memory
scheduler:
  fetch_time: "13:05"
  retry_delay: 90s
feed:
  region: west
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("PRICEAPI_RETENTION_DAYS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.RetryDelay)
	assert.Equal(t, "west", cfg.Feed.Region)
	assert.Equal(t, 7, cfg.Retention.Days)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database:  DatabaseConfig{Driver: DriverMemory},
			Feed:      FeedConfig{BaseURL: "https://example.test/"},
			Scheduler: SchedulerConfig{FetchTime: "14:10", Timezone: "UTC", RetryDelay: time.Minute},
			Retention: RetentionConfig{Days: 30},
			HTTP:      HTTPConfig{MaxWithinHours: 168, MaxDuration: 24},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}

	cases := map[string]func(*Config){
		"unknown driver":       func(c *Config) { c.Database.Driver = "mysql" },
		"postgres without dsn": func(c *Config) { c.Database.Driver = DriverPostgres },
		"bad fetch time":       func(c *Config) { c.Scheduler.FetchTime = "25:99" },
		"bad timezone":         func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
		"zero retention":       func(c *Config) { c.Retention.Days = 0 },
		"telegram no token": func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.ChatID = "1"
		},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 100}}
	assert.Equal(t, 100, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 5, cfg.ResolveMaxPoints(5))
}
