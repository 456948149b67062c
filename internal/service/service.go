// Package service wires the analytic stages into the curation pipeline: spike scans,
// claim analysis, research findings and scheduled runs.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"impact-curator/internal/alerting"
	"impact-curator/internal/align"
	"impact-curator/internal/config"
	"impact-curator/internal/curator"
	"impact-curator/internal/domain"
	"impact-curator/internal/fetcher"
	"impact-curator/internal/impulse"
	"impact-curator/internal/logging"
	"impact-curator/internal/report"
	"impact-curator/internal/scheduler"
	"impact-curator/internal/spike"
)

// Options are the analytic parameters of the pipeline.
type Options struct {
	Symbol         string
	SeriesInterval time.Duration
	// History is the number of closed candles a scheduled scan inspects.
	History int

	Detector spike.Config
	Impulse  impulse.Config
	Policies align.Policies

	WindowInterval time.Duration
	WindowBefore   time.Duration
	WindowAfter    time.Duration
}

// OptionsFromConfig translates validated configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mode, err := impulse.ParseMode(cfg.Impulse.Mode)
	if err != nil {
		return Options{}, err
	}
	horizons, err := impulse.ParseHorizons(cfg.Impulse.Horizons)
	if err != nil {
		return Options{}, err
	}

	policies := align.Policies{
		Default: align.Policy{EarlyThreshold: cfg.Alignment.EarlyThreshold, LateThreshold: cfg.Alignment.LateThreshold},
		Classes: make(map[string]align.Policy, len(cfg.Alignment.Classes)),
	}
	for name, p := range cfg.Alignment.Classes {
		policies.Classes[strings.ToLower(strings.TrimSpace(name))] = align.Policy{EarlyThreshold: p.EarlyThreshold, LateThreshold: p.LateThreshold}
	}

	opts := Options{
		Symbol:         cfg.Fetcher.Symbol,
		SeriesInterval: cfg.Fetcher.SeriesInterval,
		History:        cfg.Scheduler.History,
		Detector: spike.Config{
			WindowSize: cfg.Detector.WindowSize,
			ZThreshold: cfg.Detector.ZThreshold,
			MinAbsMove: cfg.Detector.MinAbsMove,
		},
		Impulse: impulse.Config{
			VolMultThreshold:     cfg.Impulse.VolMultThreshold,
			PriceChangeThreshold: cfg.Impulse.PriceChangeThreshold,
			Lookback:             cfg.Impulse.Lookback,
			PreMargin:            cfg.Impulse.PreMargin,
			SearchHorizon:        cfg.Impulse.SearchHorizon,
			Horizons:             horizons,
			Mode:                 mode,
		},
		Policies:       policies,
		WindowInterval: cfg.Window.Interval,
		WindowBefore:   cfg.Window.Before,
		WindowAfter:    cfg.Window.After,
	}
	return opts, opts.Validate()
}

// Validate checks the analytic parameters.
func (o Options) Validate() error {
	if err := o.Detector.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := o.Impulse.Validate(); err != nil {
		return fmt.Errorf("impulse: %w", err)
	}
	if err := o.Policies.Validate(); err != nil {
		return fmt.Errorf("alignment: %w", err)
	}
	if o.WindowInterval <= 0 || o.WindowBefore <= 0 || o.WindowAfter <= 0 {
		return fmt.Errorf("window interval, before and after must be positive")
	}
	if o.WindowAfter < o.Impulse.MaxHorizon() {
		return fmt.Errorf("window after %s is shorter than horizon %s", o.WindowAfter, o.Impulse.MaxHorizon())
	}
	return nil
}

// Service orchestrates fetching, analysis, curation and alerting.
type Service struct {
	opts      Options
	source    fetcher.CandleSource
	curator   *curator.Curator
	notifier  alerting.Notifier
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
	now       func() time.Time
}

// New constructs the pipeline. notifier and sched may be nil.
func New(opts Options, source fetcher.CandleSource, cur *curator.Curator, notifier alerting.Notifier, sched *scheduler.Scheduler, logger zerolog.Logger) *Service {
	return &Service{
		opts:      opts,
		source:    source,
		curator:   cur,
		notifier:  notifier,
		scheduler: sched,
		logger:    logging.Component(logger, "service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the scheduled spike scan.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket scans the newest closed candles before bucket.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	batch := report.NewBatch("run", s.now())
	series, err := fetcher.FetchRecent(ctx, s.source, s.opts.Symbol, s.opts.SeriesInterval, s.opts.History, bucket)
	if err != nil {
		return err
	}
	_, err = s.ScanSeries(ctx, series, batch)
	if errors.Is(err, curator.ErrLockHeld) {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because curator lock is held elsewhere")
		return nil
	}
	batch.Log(s.logger)
	return err
}

// ScanRange fetches [from, to) and scans it.
func (s *Service) ScanRange(ctx context.Context, from, to time.Time, batch *report.Batch) ([]domain.Spike, error) {
	series, err := fetcher.FetchSeries(ctx, s.source, s.opts.Symbol, s.opts.SeriesInterval, from, to)
	if err != nil {
		return nil, err
	}
	return s.ScanSeries(ctx, series, batch)
}

// ScanSeries detects spikes, records the new ones and notifies about them.
func (s *Service) ScanSeries(ctx context.Context, series domain.Series, batch *report.Batch) ([]domain.Spike, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	for _, gap := range series.Gaps() {
		s.logger.Warn().Str("symbol", series.Symbol).Time("after", gap.After).Int("missing", gap.Missing).Msg("series gap")
	}

	result := spike.Scan(series, s.opts.Detector)
	s.logger.Info().Str("symbol", series.Symbol).
		Int("candles", series.Len()).
		Int("evaluated", result.Evaluated).
		Int("warmup", result.Warmup).
		Int("degenerate", result.Degenerate).
		Int("spikes", len(result.Spikes)).
		Msg("series scanned")
	if result.Degenerate > 0 {
		batch.Decide(series.Symbol, string(report.KindDegenerateStatistic), fmt.Sprintf("%d candles had zero rolling deviation", result.Degenerate))
	}

	fresh, err := s.curator.RecordSpikes(ctx, result.Spikes, batch)
	if err != nil {
		return nil, err
	}
	for _, sp := range fresh {
		s.notify(ctx, alerting.SpikeNotification(sp))
	}
	return fresh, nil
}

// Analysis is the outcome of analysing one claim before it is curated.
type Analysis struct {
	Event   domain.CuratedEvent
	Impulse impulse.Result
	Report  align.Report
}

// AnalyzeEvent fetches the window around event.ClaimedAt, locates the impulse and
// aligns it. The returned event carries the window, moves and alignment; a missing
// impulse yields UNDETERMINED, not an error.
func (s *Service) AnalyzeEvent(ctx context.Context, event domain.CuratedEvent) (Analysis, error) {
	symbol := s.opts.Symbol
	w, err := fetcher.FetchWindow(ctx, s.source, symbol, s.opts.WindowInterval, s.opts.WindowBefore, s.opts.WindowAfter, event.ClaimedAt)
	if err != nil {
		return Analysis{}, err
	}

	res, err := impulse.Locate(w, s.opts.Impulse)
	if err != nil && !errors.Is(err, impulse.ErrNoImpulseFound) {
		return Analysis{}, err
	}

	rep := align.Align(event.ClaimedAt, res, s.opts.Policies.For(event.Class))

	event.Window = w
	event.Moves = res.Moves
	event.LagSeconds = rep.LagSeconds()
	event.Classification = rep.Classification
	event.SuggestedAt = rep.SuggestedAt
	return Analysis{Event: event, Impulse: res, Report: rep}, nil
}

// AnalyzeClaims analyses each claim and merges the results into the dataset. Claims
// that fail are reported in batch; the rest are still curated.
func (s *Service) AnalyzeClaims(ctx context.Context, claims []Claim, batch *report.Batch) ([]domain.CuratedEvent, error) {
	events := make([]domain.CuratedEvent, 0, len(claims))
	for i, c := range claims {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		event, err := c.Event(s.now())
		if err != nil {
			batch.Fail(c.key(i), err)
			continue
		}
		key := event.Key().String()

		analysis, err := s.AnalyzeEvent(ctx, event)
		if err != nil {
			kind := batch.Fail(key, err)
			s.logger.Warn().Err(err).Str("key", key).Str("kind", string(kind)).Msg("claim analysis failed")
			continue
		}
		if !analysis.Impulse.Found {
			batch.Decide(key, string(report.KindNoImpulseFound), "stored as UNDETERMINED")
		}
		s.logger.Info().Str("key", key).
			Str("classification", string(analysis.Report.Classification)).
			Str("trigger", string(analysis.Impulse.Trigger)).
			Msg("claim analysed")
		events = append(events, analysis.Event)
	}

	applied, err := s.curator.Upsert(ctx, events, batch)
	if err != nil {
		return nil, err
	}
	for _, a := range applied {
		if !a.Changed() {
			continue
		}
		if note, ok := alerting.CorrectionNotification(a.Event); ok {
			s.notify(ctx, note)
		}
	}
	return events, nil
}

// ApplyFindings records external research results.
func (s *Service) ApplyFindings(ctx context.Context, findings []curator.Finding, batch *report.Batch) error {
	return s.curator.ApplyResearch(ctx, findings, batch)
}

// Correct applies a proposed timestamp correction. With reanalyze the window is
// refetched around the corrected time.
func (s *Service) Correct(ctx context.Context, key domain.EventKey, confirm, reanalyze bool) (domain.CuratedEvent, error) {
	var fn curator.Reanalyzer
	if reanalyze {
		fn = func(e domain.CuratedEvent) (domain.CuratedEvent, error) {
			analysis, err := s.AnalyzeEvent(ctx, e)
			if err != nil {
				return domain.CuratedEvent{}, err
			}
			// the corrected time is final; do not chain another proposal
			analysis.Event.SuggestedAt = nil
			return analysis.Event, nil
		}
	}
	return s.curator.ApplyCorrection(ctx, key, confirm, fn)
}

func (s *Service) notify(ctx context.Context, note alerting.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("kind", string(note.Kind)).Time("at", note.At).Msg("failed to dispatch notification")
	}
}
