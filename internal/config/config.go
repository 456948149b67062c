package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"impact-curator/internal/impulse"
	"impact-curator/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. IMPACTCURATOR_DATABASE_DSN.
const EnvPrefix = "IMPACTCURATOR"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Impulse   ImpulseConfig   `mapstructure:"impulse"`
	Window    WindowConfig    `mapstructure:"window"`
	Alignment AlignmentConfig `mapstructure:"alignment"`
	Curator   CuratorConfig   `mapstructure:"curator"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DetectorConfig tunes spike detection.
type DetectorConfig struct {
	WindowSize int     `mapstructure:"window_size"`
	ZThreshold float64 `mapstructure:"z_threshold"`
	MinAbsMove float64 `mapstructure:"min_abs_move"`
}

// ImpulseConfig tunes the impulse locator.
type ImpulseConfig struct {
	VolMultThreshold     float64       `mapstructure:"vol_mult_threshold"`
	PriceChangeThreshold float64       `mapstructure:"price_change_threshold"`
	Lookback             int           `mapstructure:"lookback"`
	PreMargin            time.Duration `mapstructure:"pre_margin"`
	SearchHorizon        time.Duration `mapstructure:"search_horizon"`
	Mode                 string        `mapstructure:"mode"`
	Horizons             []string      `mapstructure:"horizons"`
}

// WindowConfig describes the candle window fetched around a claim.
type WindowConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Before   time.Duration `mapstructure:"before"`
	After    time.Duration `mapstructure:"after"`
}

// PolicyConfig holds lag tolerances.
type PolicyConfig struct {
	EarlyThreshold time.Duration `mapstructure:"early_threshold"`
	LateThreshold  time.Duration `mapstructure:"late_threshold"`
}

// AlignmentConfig holds the default policy plus per-class overrides.
type AlignmentConfig struct {
	EarlyThreshold time.Duration           `mapstructure:"early_threshold"`
	LateThreshold  time.Duration           `mapstructure:"late_threshold"`
	Classes        map[string]PolicyConfig `mapstructure:"classes"`
}

// HeuristicsConfig drives candidate attribution for spikes.
type HeuristicsConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	ReleaseTime string   `mapstructure:"release_time"`
	ReleaseZone string   `mapstructure:"release_zone"`
	FOMCDates   []string `mapstructure:"fomc_dates"`
}

// CuratorConfig governs dataset writes.
type CuratorConfig struct {
	LockKey       int64            `mapstructure:"lock_key"`
	MinTextLength int              `mapstructure:"min_text_length"`
	Heuristics    HeuristicsConfig `mapstructure:"heuristics"`
}

// FetcherConfig captures exchange connectivity.
type FetcherConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Symbol         string        `mapstructure:"symbol"`
	SeriesInterval time.Duration `mapstructure:"series_interval"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PageLimit      int           `mapstructure:"page_limit"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SchedulerConfig governs the periodic spike scan.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	History       int           `mapstructure:"history"`
}

// AlertingConfig routes notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("app.name", "impactcurator")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "./data/impact.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("detector.window_size", 20)
	v.SetDefault("detector.z_threshold", 3.0)
	v.SetDefault("detector.min_abs_move", 0.02)

	v.SetDefault("impulse.vol_mult_threshold", 5.0)
	v.SetDefault("impulse.price_change_threshold", 0.003)
	v.SetDefault("impulse.lookback", 60)
	v.SetDefault("impulse.pre_margin", "30s")
	v.SetDefault("impulse.search_horizon", "10m")
	v.SetDefault("impulse.mode", string(impulse.ModeFirstTrigger))
	v.SetDefault("impulse.horizons", []string{"5m", "30m"})

	v.SetDefault("window.interval", "1s")
	v.SetDefault("window.before", "5m")
	v.SetDefault("window.after", "35m")

	v.SetDefault("alignment.early_threshold", "5s")
	v.SetDefault("alignment.late_threshold", "300s")
	v.SetDefault("alignment.classes", map[string]any{
		"macro": map[string]any{"early_threshold": "5s", "late_threshold": "300s"},
		"tweet": map[string]any{"early_threshold": "5s", "late_threshold": "60s"},
	})

	v.SetDefault("curator.lock_key", int64(0x696d7063))
	v.SetDefault("curator.min_text_length", 40)
	v.SetDefault("curator.heuristics.enabled", true)
	v.SetDefault("curator.heuristics.release_time", "08:30")
	v.SetDefault("curator.heuristics.release_zone", "America/New_York")
	v.SetDefault("curator.heuristics.fomc_dates", []string{})

	v.SetDefault("fetcher.base_url", "https://api.binance.com")
	v.SetDefault("fetcher.symbol", "BTCUSDT")
	v.SetDefault("fetcher.series_interval", "1h")
	v.SetDefault("fetcher.requests_per_sec", 5.0)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.timeout", "10s")
	v.SetDefault("fetcher.page_limit", 1000)
	v.SetDefault("fetcher.user_agent", "impactcurator/1.0")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.history", 500)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
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

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not one of postgres, sqlite, memory", c.Database.Driver)
	}

	if c.Detector.WindowSize < 2 {
		return fmt.Errorf("detector.window_size must be at least 2")
	}
	if c.Detector.ZThreshold <= 0 {
		return fmt.Errorf("detector.z_threshold must be greater than zero")
	}
	if c.Detector.MinAbsMove < 0 {
		return fmt.Errorf("detector.min_abs_move cannot be negative")
	}

	if c.Impulse.VolMultThreshold <= 0 {
		return fmt.Errorf("impulse.vol_mult_threshold must be greater than zero")
	}
	if c.Impulse.PriceChangeThreshold <= 0 {
		return fmt.Errorf("impulse.price_change_threshold must be greater than zero")
	}
	if c.Impulse.Lookback < 1 {
		return fmt.Errorf("impulse.lookback must be at least 1")
	}
	if c.Impulse.SearchHorizon <= 0 {
		return fmt.Errorf("impulse.search_horizon must be greater than zero")
	}
	if c.Impulse.PreMargin < 0 {
		return fmt.Errorf("impulse.pre_margin cannot be negative")
	}
	if _, err := impulse.ParseMode(c.Impulse.Mode); err != nil {
		return fmt.Errorf("impulse.mode: %w", err)
	}
	horizons, err := impulse.ParseHorizons(c.Impulse.Horizons)
	if err != nil {
		return fmt.Errorf("impulse.horizons: %w", err)
	}

	if c.Window.Interval <= 0 {
		return fmt.Errorf("window.interval must be greater than zero")
	}
	if c.Window.Before <= 0 || c.Window.Before%c.Window.Interval != 0 {
		return fmt.Errorf("window.before must be a positive multiple of window.interval")
	}
	if c.Window.After <= 0 {
		return fmt.Errorf("window.after must be greater than zero")
	}
	for _, h := range horizons {
		if c.Window.After < h.Duration {
			return fmt.Errorf("window.after (%s) is shorter than horizon %s", c.Window.After, h.Label)
		}
	}

	if c.Alignment.EarlyThreshold < 0 || c.Alignment.LateThreshold < 0 {
		return fmt.Errorf("alignment thresholds cannot be negative")
	}
	for name, p := range c.Alignment.Classes {
		if p.EarlyThreshold < 0 || p.LateThreshold < 0 {
			return fmt.Errorf("alignment.classes.%s thresholds cannot be negative", name)
		}
	}

	if c.Curator.MinTextLength < 0 {
		return fmt.Errorf("curator.min_text_length cannot be negative")
	}
	if c.Curator.Heuristics.Enabled {
		if _, err := time.Parse("15:04", c.Curator.Heuristics.ReleaseTime); err != nil {
			return fmt.Errorf("curator.heuristics.release_time must be HH:MM: %w", err)
		}
		if _, err := time.LoadLocation(c.Curator.Heuristics.ReleaseZone); err != nil {
			return fmt.Errorf("curator.heuristics.release_zone: %w", err)
		}
		for _, d := range c.Curator.Heuristics.FOMCDates {
			if _, err := time.Parse("2006-01-02", strings.TrimSpace(d)); err != nil {
				return fmt.Errorf("curator.heuristics.fomc_dates: %w", err)
			}
		}
	}

	if c.Fetcher.SeriesInterval <= 0 {
		return fmt.Errorf("fetcher.series_interval must be greater than zero")
	}
	if c.Fetcher.RequestsPerSec <= 0 {
		return fmt.Errorf("fetcher.requests_per_sec must be greater than zero")
	}
	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("fetcher.max_retries cannot be negative")
	}
	if c.Fetcher.PageLimit <= 0 {
		return fmt.Errorf("fetcher.page_limit must be greater than zero")
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.History <= c.Detector.WindowSize {
		return fmt.Errorf("scheduler.history must exceed detector.window_size")
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
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
