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
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 20, cfg.Detector.WindowSize)
	assert.Equal(t, 3.0, cfg.Detector.ZThreshold)
	assert.Equal(t, 0.02, cfg.Detector.MinAbsMove)
	assert.Equal(t, 60, cfg.Impulse.Lookback)
	assert.Equal(t, 30*time.Second, cfg.Impulse.PreMargin)
	assert.Equal(t, []string{"5m", "30m"}, cfg.Impulse.Horizons)
	assert.Equal(t, time.Second, cfg.Window.Interval)
	assert.Equal(t, 300*time.Second, cfg.Alignment.LateThreshold)
	require.Contains(t, cfg.Alignment.Classes, "tweet")
	assert.Equal(t, 60*time.Second, cfg.Alignment.Classes["tweet"].LateThreshold)
	assert.Equal(t, "America/New_York", cfg.Curator.Heuristics.ReleaseZone)
	assert.Equal(t, "test", cfg.App.Environment)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	t.Setenv("IMPACTCURATOR_DETECTOR_Z_THRESHOLD", "4.5")
	path := writeConfig(t, `
database:
  driver: memory
impulse:
  mode: largest
  horizons: "1m,5m"
alignment:
  classes:
    earnings:
      early_threshold: 1s
      late_threshold: 120s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 4.5, cfg.Detector.ZThreshold)
	assert.Equal(t, "largest", cfg.Impulse.Mode)
	assert.Equal(t, []string{"1m", "5m"}, cfg.Impulse.Horizons)
	require.Contains(t, cfg.Alignment.Classes, "earnings")
	assert.Equal(t, 120*time.Second, cfg.Alignment.Classes["earnings"].LateThreshold)
}

func TestValidateRejects(t *testing.T) {
	base, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"zero z threshold":       func(c *Config) { c.Detector.ZThreshold = 0 },
		"negative min move":      func(c *Config) { c.Detector.MinAbsMove = -0.1 },
		"tiny window":            func(c *Config) { c.Detector.WindowSize = 1 },
		"unknown mode":           func(c *Config) { c.Impulse.Mode = "median" },
		"negative horizon":       func(c *Config) { c.Impulse.Horizons = []string{"-5m"} },
		"window after too short": func(c *Config) { c.Window.After = time.Minute },
		"unknown driver":         func(c *Config) { c.Database.Driver = "mysql" },
		"postgres without dsn":   func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.DSN = "" },
		"negative late":          func(c *Config) { c.Alignment.LateThreshold = -time.Second },
		"bad release time":       func(c *Config) { c.Curator.Heuristics.ReleaseTime = "8.30" },
		"telegram without token": func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"history too short":      func(c *Config) { c.Scheduler.History = 10 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			c.Impulse.Horizons = append([]string(nil), base.Impulse.Horizons...)
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}

func TestResolveMaxPoints(t *testing.T) {
	c := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	assert.Equal(t, 100, c.ResolveMaxPoints(0))
	assert.Equal(t, 5, c.ResolveMaxPoints(5))
}
