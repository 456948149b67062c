// Package spike scans a closed price series for abnormal-return candles.
package spike

import (
	"fmt"
	"math"
	"sort"

	"impact-curator/internal/domain"
	"impact-curator/internal/stats"
)

// Config tunes spike detection.
type Config struct {
	// WindowSize is the number of preceding returns the rolling deviation uses.
	WindowSize int
	// ZThreshold is the strict lower bound on |return| / rolling std.
	ZThreshold float64
	// MinAbsMove is the strict lower bound on |return| as a fraction (0.02 = 2%).
	MinAbsMove float64
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{WindowSize: 20, ZThreshold: 3.0, MinAbsMove: 0.02}
}

// Validate rejects unusable thresholds.
func (c Config) Validate() error {
	if c.WindowSize < 2 {
		return fmt.Errorf("window size must be at least 2, got %d", c.WindowSize)
	}
	if c.ZThreshold <= 0 || math.IsNaN(c.ZThreshold) {
		return fmt.Errorf("z threshold must be positive, got %v", c.ZThreshold)
	}
	if c.MinAbsMove < 0 || math.IsNaN(c.MinAbsMove) {
		return fmt.Errorf("min abs move cannot be negative, got %v", c.MinAbsMove)
	}
	return nil
}

// Result holds detected spikes plus counters for the candles that were not scored.
type Result struct {
	Spikes []domain.Spike
	// Evaluated counts candles that received a Z-score.
	Evaluated int
	// Warmup counts candles skipped for lack of WindowSize prior returns.
	Warmup int
	// Degenerate counts candles skipped because the rolling deviation was zero.
	Degenerate int
}

// Detect returns the spikes in series ordered by Z-score descending, earlier first on ties.
func Detect(series domain.Series, cfg Config) []domain.Spike {
	return Scan(series, cfg).Spikes
}

// Scan is Detect with diagnostics. It never mutates series.
func Scan(series domain.Series, cfg Config) Result {
	returns := Returns(series.Candles)

	abs := make([]float64, len(returns))
	for i, r := range returns {
		abs[i] = math.Abs(r)
	}
	deviation := stats.TrailingStd(abs, cfg.WindowSize)

	var res Result
	for i := 1; i < len(returns); i++ {
		if math.IsNaN(returns[i]) {
			continue
		}
		std := deviation[i]
		if math.IsNaN(std) {
			res.Warmup++
			continue
		}
		if stats.Degenerate(std) {
			res.Degenerate++
			continue
		}
		res.Evaluated++

		z := abs[i] / std
		if z > cfg.ZThreshold && abs[i] > cfg.MinAbsMove {
			res.Spikes = append(res.Spikes, domain.Spike{
				Symbol:    series.Symbol,
				Time:      series.Candles[i].Time.UTC(),
				ReturnPct: returns[i] * 100,
				ZScore:    z,
				Status:    domain.SpikeNew,
			})
		}
	}

	sort.SliceStable(res.Spikes, func(a, b int) bool {
		if res.Spikes[a].ZScore != res.Spikes[b].ZScore {
			return res.Spikes[a].ZScore > res.Spikes[b].ZScore
		}
		return res.Spikes[a].Time.Before(res.Spikes[b].Time)
	})
	return res
}

// Returns computes close-to-close simple returns. Index 0, and any candle following
// a zero close, is NaN.
func Returns(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	if len(candles) > 0 {
		out[0] = math.NaN()
	}
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev.IsZero() {
			out[i] = math.NaN()
			continue
		}
		out[i] = candles[i].Close.Sub(prev).Div(prev).InexactFloat64()
	}
	return out
}
