// Package fetcher supplies fully materialised candle series and windows from an
// exchange REST API or local files.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"impact-curator/internal/domain"
)

// CandleSource returns candles opening in [from, to), ordered by time.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, interval time.Duration, from, to time.Time) ([]domain.Candle, error)
}

// FetchSeries loads a complete series for [from, to).
func FetchSeries(ctx context.Context, src CandleSource, symbol string, interval time.Duration, from, to time.Time) (domain.Series, error) {
	candles, err := src.FetchCandles(ctx, symbol, interval, from, to)
	if err != nil {
		return domain.Series{}, fmt.Errorf("fetch %s %s candles: %w", symbol, interval, err)
	}
	series := domain.Series{Symbol: symbol, Interval: interval, Candles: candles}
	if err := series.Validate(); err != nil {
		return domain.Series{}, err
	}
	return series, nil
}

// FetchRecent loads the last n closed candles before now.
func FetchRecent(ctx context.Context, src CandleSource, symbol string, interval time.Duration, n int, now time.Time) (domain.Series, error) {
	to := now.UTC().Truncate(interval)
	from := to.Add(-time.Duration(n) * interval)
	return FetchSeries(ctx, src, symbol, interval, from, to)
}

// FetchWindow loads the window [ref-before, ref+after) where ref is the candle
// covering claimed, and resolves the reference index from timestamps.
func FetchWindow(ctx context.Context, src CandleSource, symbol string, interval, before, after time.Duration, claimed time.Time) (domain.Window, error) {
	ref := claimed.UTC().Truncate(interval)
	from := ref.Add(-before)
	to := ref.Add(after)
	candles, err := src.FetchCandles(ctx, symbol, interval, from, to)
	if err != nil {
		return domain.Window{}, fmt.Errorf("fetch window around %s: %w", claimed.UTC().Format(time.RFC3339), err)
	}
	return domain.NewWindow(symbol, interval, before, after, candles, claimed)
}
