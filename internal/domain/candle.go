// Package domain holds the shared data model: candles, price series and windows,
// volatility spikes and curated events.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar. Time is the bar open time in UTC.
type Candle struct {
	Time   time.Time       `json:"timestamp"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Series is an ordered run of candles for one symbol at a fixed nominal interval.
type Series struct {
	Symbol   string        `json:"symbol"`
	Interval time.Duration `json:"interval"`
	Candles  []Candle      `json:"candles"`
}

// Gap describes missing candles between two consecutive bars.
type Gap struct {
	// Index is the position of the candle that follows the gap.
	Index   int       `json:"index"`
	After   time.Time `json:"after"`
	Missing int       `json:"missing"`
}

// Validate checks ordering and value invariants. Gaps are allowed; off-grid
// timestamps are not.
func (s Series) Validate() error {
	return validateCandles(s.Candles, s.Interval)
}

// Gaps lists every place where consecutive candles are more than one interval apart.
func (s Series) Gaps() []Gap {
	return findGaps(s.Candles, s.Interval)
}

// Len returns the number of candles.
func (s Series) Len() int { return len(s.Candles) }

func validateCandles(candles []Candle, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidSeries)
	}
	for i, c := range candles {
		if c.Close.Sign() <= 0 {
			return fmt.Errorf("%w: candle %d has non-positive close", ErrInvalidSeries, i)
		}
		if c.Volume.Sign() < 0 {
			return fmt.Errorf("%w: candle %d has negative volume", ErrInvalidSeries, i)
		}
		if i == 0 {
			continue
		}
		delta := c.Time.Sub(candles[i-1].Time)
		if delta <= 0 {
			return fmt.Errorf("%w: candle %d at %s is not after %s", ErrInvalidSeries, i, c.Time.Format(time.RFC3339), candles[i-1].Time.Format(time.RFC3339))
		}
		if delta%interval != 0 {
			return fmt.Errorf("%w: candle %d at %s is off the %s grid", ErrInvalidSeries, i, c.Time.Format(time.RFC3339), interval)
		}
	}
	return nil
}

func findGaps(candles []Candle, interval time.Duration) []Gap {
	if interval <= 0 {
		return nil
	}
	var gaps []Gap
	for i := 1; i < len(candles); i++ {
		delta := candles[i].Time.Sub(candles[i-1].Time)
		if delta > interval {
			gaps = append(gaps, Gap{
				Index:   i,
				After:   candles[i-1].Time,
				Missing: int(delta/interval) - 1,
			})
		}
	}
	return gaps
}

// indexAt returns the index of the candle opening exactly at t, or -1.
func indexAt(candles []Candle, t time.Time) int {
	lo, hi := 0, len(candles)
	for lo < hi {
		mid := (lo + hi) / 2
		if candles[mid].Time.Before(t) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(candles) && candles[lo].Time.Equal(t) {
		return lo
	}
	return -1
}
