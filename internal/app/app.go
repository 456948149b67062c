// Package app holds the shared handle behind every CLI verb.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"impact-curator/internal/alerting"
	"impact-curator/internal/config"
	"impact-curator/internal/curator"
	"impact-curator/internal/fetcher"
	"impact-curator/internal/impulse"
	"impact-curator/internal/report"
	"impact-curator/internal/scheduler"
	"impact-curator/internal/service"
	"impact-curator/internal/storage"
	"impact-curator/internal/storage/memory"
	"impact-curator/internal/storage/sqlite"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tables and summaries.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger, Out: os.Stdout}
}

// openStore opens the configured backend. dryRun forces the in-memory store.
func (a *App) openStore(ctx context.Context, dryRun bool) (storage.Repository, error) {
	driver := a.Config.Database.Driver
	if dryRun {
		driver = config.DriverMemory
	}
	switch driver {
	case config.DriverPostgres:
		store, err := storage.Open(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(a.Config.Database.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		a.Logger.Warn().Msg("using in-memory store; nothing will persist")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}

// newSource returns a file-backed source when candlesPath is set, else the exchange client.
func (a *App) newSource(candlesPath string, batch *report.Batch) (fetcher.CandleSource, error) {
	if candlesPath == "" {
		f := a.Config.Fetcher
		return fetcher.NewKlines(fetcher.KlinesOptions{
			BaseURL:        f.BaseURL,
			Timeout:        f.Timeout,
			UserAgent:      f.UserAgent,
			RequestsPerSec: f.RequestsPerSec,
			MaxRetries:     f.MaxRetries,
			PageLimit:      f.PageLimit,
		}, a.Logger), nil
	}

	src, skipped, err := fetcher.NewStaticFromFile(candlesPath, a.Config.Fetcher.Symbol)
	if err != nil {
		return nil, err
	}
	for _, rowErr := range skipped {
		key := fmt.Sprintf("%s#%d", candlesPath, rowErr.Row)
		if batch != nil {
			batch.Fail(key, rowErr)
		}
		a.Logger.Warn().Err(rowErr.Err).Str("key", key).Msg("candle row skipped")
	}
	return src, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) newMatcher() (*curator.Matcher, error) {
	h := a.Config.Curator.Heuristics
	if !h.Enabled {
		return nil, nil
	}
	return curator.NewMatcher(curator.HeuristicConfig{
		ReleaseTime: h.ReleaseTime,
		Zone:        h.ReleaseZone,
		FOMCDates:   h.FOMCDates,
	})
}

func (a *App) newCurator(repo storage.Repository) (*curator.Curator, error) {
	matcher, err := a.newMatcher()
	if err != nil {
		return nil, err
	}
	horizons, err := impulse.ParseHorizons(a.Config.Impulse.Horizons)
	if err != nil {
		return nil, err
	}
	return curator.New(repo, curator.Options{
		LockKey:  a.Config.Curator.LockKey,
		Symbol:   a.Config.Fetcher.Symbol,
		Interval: a.Config.Fetcher.SeriesInterval,
		Matcher:  matcher,
		Horizons: horizons,
	}, a.Logger), nil
}

// pipeline bundles what a batch command needs; close releases the store.
type pipeline struct {
	repo    storage.Repository
	curator *curator.Curator
	service *service.Service
}

func (p *pipeline) close() {
	if p.repo != nil {
		_ = p.repo.Close()
	}
}

func (a *App) newPipeline(ctx context.Context, source fetcher.CandleSource, sched *scheduler.Scheduler, dryRun bool) (*pipeline, error) {
	opts, err := service.OptionsFromConfig(a.Config)
	if err != nil {
		return nil, err
	}
	repo, err := a.openStore(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	cur, err := a.newCurator(repo)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	svc := service.New(opts, source, cur, a.newNotifier(), sched, a.Logger)
	return &pipeline{repo: repo, curator: cur, service: svc}, nil
}

// finish logs the batch and fails the command when any record failed.
func (a *App) finish(batch *report.Batch) error {
	batch.Log(a.Logger)
	if !batch.HasFailures() {
		return nil
	}
	kinds := batch.CountByKind()
	parts := make([]string, 0, len(kinds))
	for kind, n := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
	}
	sort.Strings(parts)
	return fmt.Errorf("%s: %d of %d records failed (%s)", batch.Command, batch.Failed, batch.Failed+batch.Processed+batch.Skipped, strings.Join(parts, ", "))
}

func (a *App) now() time.Time {
	return time.Now().UTC()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
