// Package impulse finds the candle where the market first reacts to an event inside
// a closed price window, and measures fixed-horizon moves from the reference candle.
package impulse

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"impact-curator/internal/domain"
	"impact-curator/internal/stats"
)

// ErrNoImpulseFound means no candle in the search window met a trigger condition.
var ErrNoImpulseFound = errors.New("no impulse found")

var hundred = decimal.NewFromInt(100)

// Mode selects how the impulse candle is chosen.
type Mode string

const (
	// ModeFirstTrigger picks the earliest triggering candle.
	ModeFirstTrigger Mode = "first"
	// ModeLargestMove picks the triggering candle with the largest absolute return.
	ModeLargestMove Mode = "largest"
)

// ParseMode converts a config string into a Mode.
func ParseMode(v string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(v))); m {
	case ModeFirstTrigger, ModeLargestMove:
		return m, nil
	}
	return "", fmt.Errorf("unknown impulse mode %q", v)
}

// Trigger names the signal that fired.
type Trigger string

const (
	TriggerVolume Trigger = "volume"
	TriggerPrice  Trigger = "price"
	TriggerBoth   Trigger = "volume+price"
)

// Horizon is a labelled forward offset from the reference candle.
type Horizon struct {
	Label    string
	Duration time.Duration
}

// ParseHorizons turns duration strings ("5m", "30m") into horizons labelled as given.
func ParseHorizons(values []string) ([]Horizon, error) {
	out := make([]Horizon, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		label := strings.TrimSpace(v)
		if label == "" {
			continue
		}
		d, err := time.ParseDuration(label)
		if err != nil {
			return nil, fmt.Errorf("parse horizon %q: %w", v, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("horizon %q must be positive", v)
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, Horizon{Label: label, Duration: d})
	}
	return out, nil
}

// Config tunes the locator. Offsets are durations so they stay correct at any
// candle resolution.
type Config struct {
	VolMultThreshold     float64
	PriceChangeThreshold float64
	// Lookback is the number of preceding candles averaged for the volume baseline.
	Lookback int
	// PreMargin opens the search before the reference time to catch leaks.
	PreMargin time.Duration
	// SearchHorizon closes the search after the reference time.
	SearchHorizon time.Duration
	Horizons      []Horizon
	Mode          Mode
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		VolMultThreshold:     5.0,
		PriceChangeThreshold: 0.003,
		Lookback:             60,
		PreMargin:            30 * time.Second,
		SearchHorizon:        10 * time.Minute,
		Horizons: []Horizon{
			{Label: "5m", Duration: 5 * time.Minute},
			{Label: "30m", Duration: 30 * time.Minute},
		},
		Mode: ModeFirstTrigger,
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if c.VolMultThreshold <= 0 {
		return fmt.Errorf("vol mult threshold must be positive")
	}
	if c.PriceChangeThreshold <= 0 {
		return fmt.Errorf("price change threshold must be positive")
	}
	if c.Lookback < 1 {
		return fmt.Errorf("lookback must be at least 1")
	}
	if c.PreMargin < 0 {
		return fmt.Errorf("pre margin cannot be negative")
	}
	if c.SearchHorizon <= 0 {
		return fmt.Errorf("search horizon must be positive")
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	for _, h := range c.Horizons {
		if h.Duration <= 0 {
			return fmt.Errorf("horizon %q must be positive", h.Label)
		}
	}
	return nil
}

// MaxHorizon returns the longest configured horizon.
func (c Config) MaxHorizon() time.Duration {
	var max time.Duration
	for _, h := range c.Horizons {
		if h.Duration > max {
			max = h.Duration
		}
	}
	return max
}

// Result describes the located impulse. When Found is false the impulse fields are
// zero, Index is -1, and Moves is still populated.
type Result struct {
	Found     bool
	Mode      Mode
	Index     int
	Time      time.Time
	AbsReturn float64
	// VolMult is nil when the volume baseline was unavailable or zero.
	VolMult *float64
	Trigger Trigger

	ReferenceIndex int
	ReferenceTime  time.Time
	SearchStart    int
	SearchEnd      int

	Moves domain.MoveMetrics
}

// Err returns ErrNoImpulseFound for a negative result.
func (r Result) Err() error {
	if r.Found {
		return nil
	}
	return ErrNoImpulseFound
}

// Locate searches w for the impulse. It returns ErrNoImpulseFound, alongside a
// populated Result, when nothing triggers; any other error means w is unusable.
func Locate(w domain.Window, cfg Config) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{
		Mode:           cfg.Mode,
		Index:          -1,
		ReferenceIndex: w.RefIndex,
		ReferenceTime:  w.ReferenceTime(),
		Moves:          Moves(w, cfg.Horizons),
	}

	start := w.FirstAtOrAfter(res.ReferenceTime.Add(-cfg.PreMargin))
	if start < 1 {
		start = 1
	}
	end := w.LastAtOrBefore(res.ReferenceTime.Add(cfg.SearchHorizon))
	res.SearchStart, res.SearchEnd = start, end

	volumes := make([]float64, len(w.Candles))
	for i, c := range w.Candles {
		volumes[i] = c.Volume.InexactFloat64()
	}
	baseline := stats.TrailingMean(volumes, cfg.Lookback)

	for i := start; i <= end; i++ {
		absRet := absReturn(w.Candles, i)
		volMult, volOK := volumeMultiple(volumes[i], baseline[i])

		byVolume := volOK && volMult > cfg.VolMultThreshold
		byPrice := !math.IsNaN(absRet) && absRet > cfg.PriceChangeThreshold
		if !byVolume && !byPrice {
			continue
		}

		if res.Found && !(absRet > res.AbsReturn) {
			continue
		}

		res.Found = true
		res.Index = i
		res.Time = w.Candles[i].Time
		res.AbsReturn = absRet
		if math.IsNaN(absRet) {
			res.AbsReturn = 0
		}
		res.VolMult = nil
		if volOK {
			v := volMult
			res.VolMult = &v
		}
		res.Trigger = trigger(byVolume, byPrice)

		if cfg.Mode != ModeLargestMove {
			break
		}
	}

	if !res.Found {
		return res, ErrNoImpulseFound
	}
	return res, nil
}

// Moves computes the forward percent move from the reference close to the close of
// the candle exactly one horizon later. Horizons the window cannot reach are nil.
func Moves(w domain.Window, horizons []Horizon) domain.MoveMetrics {
	out := make(domain.MoveMetrics, len(horizons))
	if w.RefIndex < 0 || w.RefIndex >= len(w.Candles) {
		for _, h := range horizons {
			out[h.Label] = nil
		}
		return out
	}
	ref := w.Candles[w.RefIndex]
	for _, h := range horizons {
		out[h.Label] = nil
		if ref.Close.IsZero() {
			continue
		}
		idx := w.IndexAt(ref.Time.Add(h.Duration))
		if idx < 0 {
			continue
		}
		move := w.Candles[idx].Close.Sub(ref.Close).Div(ref.Close).Mul(hundred)
		out[h.Label] = &move
	}
	return out
}

func absReturn(candles []domain.Candle, i int) float64 {
	prev := candles[i-1].Close
	if prev.IsZero() {
		return math.NaN()
	}
	return candles[i].Close.Sub(prev).Div(prev).Abs().InexactFloat64()
}

func volumeMultiple(volume, baseline float64) (float64, bool) {
	if stats.Degenerate(baseline) {
		return 0, false
	}
	return volume / baseline, true
}

func trigger(byVolume, byPrice bool) Trigger {
	switch {
	case byVolume && byPrice:
		return TriggerBoth
	case byVolume:
		return TriggerVolume
	default:
		return TriggerPrice
	}
}
