package domain

import (
	"fmt"
	"sort"
	"time"
)

// Window is a closed run of candles straddling one claimed event time.
//
// The reference index is resolved from timestamps, never from a fixed offset: it is
// the latest candle opening at or before the claimed time, and that candle must
// cover the claim (open <= claim < open+interval). Before and After record the span
// the window was requested with; Before/Interval is the expected reference offset.
type Window struct {
	Symbol   string        `json:"symbol"`
	Interval time.Duration `json:"interval"`
	Before   time.Duration `json:"before"`
	After    time.Duration `json:"after"`
	RefIndex int           `json:"reference_index"`
	Candles  []Candle      `json:"candles"`
}

// NewWindow builds a window and resolves its reference index against claimed.
func NewWindow(symbol string, interval, before, after time.Duration, candles []Candle, claimed time.Time) (Window, error) {
	w := Window{
		Symbol:   symbol,
		Interval: interval,
		Before:   before,
		After:    after,
		Candles:  candles,
	}
	if err := validateCandles(candles, interval); err != nil {
		return Window{}, err
	}
	ref, err := w.ResolveReference(claimed)
	if err != nil {
		return Window{}, err
	}
	w.RefIndex = ref
	return w, nil
}

// Len returns the number of candles.
func (w Window) Len() int { return len(w.Candles) }

// Validate checks candle invariants and that the reference index lies strictly inside.
func (w Window) Validate() error {
	if err := validateCandles(w.Candles, w.Interval); err != nil {
		return err
	}
	if w.RefIndex <= 0 || w.RefIndex >= len(w.Candles)-1 {
		return fmt.Errorf("%w: reference index %d outside (0, %d)", ErrInsufficientData, w.RefIndex, len(w.Candles)-1)
	}
	return nil
}

// ReferenceTime returns the open time of the reference candle.
func (w Window) ReferenceTime() time.Time {
	if w.RefIndex < 0 || w.RefIndex >= len(w.Candles) {
		return time.Time{}
	}
	return w.Candles[w.RefIndex].Time
}

// ResolveReference finds the candle covering claimed. It fails when the claim falls
// outside the window, into a gap, or onto the first or last candle.
func (w Window) ResolveReference(claimed time.Time) (int, error) {
	n := len(w.Candles)
	if n == 0 {
		return -1, fmt.Errorf("%w: empty window", ErrInsufficientData)
	}
	idx := sort.Search(n, func(i int) bool { return w.Candles[i].Time.After(claimed) }) - 1
	if idx < 0 {
		return -1, fmt.Errorf("%w: claim %s precedes window start %s", ErrInsufficientData, claimed.UTC().Format(time.RFC3339), w.Candles[0].Time.Format(time.RFC3339))
	}
	if claimed.Sub(w.Candles[idx].Time) >= w.Interval {
		return -1, fmt.Errorf("%w: no candle covers claim %s", ErrInsufficientData, claimed.UTC().Format(time.RFC3339))
	}
	if idx == 0 || idx == n-1 {
		return -1, fmt.Errorf("%w: claim %s sits on the window edge", ErrInsufficientData, claimed.UTC().Format(time.RFC3339))
	}
	return idx, nil
}

// CheckReference verifies that RefIndex is the candle covering claimed.
func (w Window) CheckReference(claimed time.Time) error {
	idx, err := w.ResolveReference(claimed)
	if err != nil {
		return err
	}
	if idx != w.RefIndex {
		return fmt.Errorf("%w: stored index %d, timestamps give %d", ErrReferenceMismatch, w.RefIndex, idx)
	}
	return nil
}

// IndexAt returns the index of the candle opening exactly at t, or -1.
func (w Window) IndexAt(t time.Time) int {
	return indexAt(w.Candles, t)
}

// FirstAtOrAfter returns the index of the first candle opening at or after t
// (len(Candles) when none does).
func (w Window) FirstAtOrAfter(t time.Time) int {
	return sort.Search(len(w.Candles), func(i int) bool { return !w.Candles[i].Time.Before(t) })
}

// LastAtOrBefore returns the index of the last candle opening at or before t (-1 when none does).
func (w Window) LastAtOrBefore(t time.Time) int {
	return sort.Search(len(w.Candles), func(i int) bool { return w.Candles[i].Time.After(t) }) - 1
}

// ExpectedCandles is the candle count implied by the declared span, or 0 when undeclared.
func (w Window) ExpectedCandles() int {
	if w.Interval <= 0 || w.Before+w.After <= 0 {
		return 0
	}
	return int((w.Before + w.After) / w.Interval)
}

// ExpectedOffset is the reference index implied by the declared span.
func (w Window) ExpectedOffset() int {
	if w.Interval <= 0 {
		return 0
	}
	return int(w.Before / w.Interval)
}

// Gaps lists missing candles inside the window.
func (w Window) Gaps() []Gap {
	return findGaps(w.Candles, w.Interval)
}
