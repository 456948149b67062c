package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"impact-curator/internal/domain"
	"impact-curator/internal/fetcher"
	"impact-curator/internal/report"
)

// ScanOptions configure the scan command.
type ScanOptions struct {
	From        time.Time
	To          time.Time
	CandlesPath string
	DryRun      bool
}

// Scan detects volatility spikes over a closed range and records the new ones.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	batch := report.NewBatch("scan", a.now())

	source, err := a.newSource(opts.CandlesPath, batch)
	if err != nil {
		return err
	}
	p, err := a.newPipeline(ctx, source, nil, opts.DryRun)
	if err != nil {
		return err
	}
	defer p.close()

	var fresh []domain.Spike
	if opts.CandlesPath != "" && opts.From.IsZero() && opts.To.IsZero() {
		static, ok := source.(*fetcher.Static)
		if !ok {
			return errors.New("file source expected")
		}
		series := domain.Series{Symbol: a.Config.Fetcher.Symbol, Interval: a.Config.Fetcher.SeriesInterval, Candles: static.Candles}
		fresh, err = p.service.ScanSeries(ctx, series, batch)
	} else {
		if !opts.From.Before(opts.To) {
			return errors.New("--from must be before --to")
		}
		fresh, err = p.service.ScanRange(ctx, opts.From.UTC(), opts.To.UTC(), batch)
	}
	if err != nil {
		return err
	}

	a.printSpikes(fresh)
	return a.finish(batch)
}

func (a *App) printSpikes(spikes []domain.Spike) {
	if len(spikes) == 0 {
		fmt.Fprintln(a.Out, "no new spikes")
		return
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tReturn%\tZ\tStatus\tCandidate\tConfidence")
	for _, s := range spikes {
		fmt.Fprintf(writer, "%s\t%s\t%+.3f\t%.2f\t%s\t%s\t%.2f\n",
			s.Time.UTC().Format(time.RFC3339),
			s.Symbol,
			s.ReturnPct,
			s.ZScore,
			s.Status,
			sanitizeInline(s.CandidateTitle),
			s.Confidence,
		)
	}
	writer.Flush()
}
