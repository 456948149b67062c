package domain

import (
	"fmt"
	"time"
)

// SpikeStatus is the research state of a volatility spike.
type SpikeStatus string

const (
	SpikeNew         SpikeStatus = "new"
	SpikeResearching SpikeStatus = "researching"
	SpikeVerified    SpikeStatus = "verified"
	SpikeRejected    SpikeStatus = "rejected"
)

var spikeTransitions = map[SpikeStatus][]SpikeStatus{
	SpikeNew:         {SpikeResearching},
	SpikeResearching: {SpikeVerified, SpikeRejected},
}

// Valid reports whether s is a known status.
func (s SpikeStatus) Valid() bool {
	switch s {
	case SpikeNew, SpikeResearching, SpikeVerified, SpikeRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s SpikeStatus) Terminal() bool {
	return s == SpikeVerified || s == SpikeRejected
}

// CanTransition reports whether s may move to next. Transitions only go forward.
func (s SpikeStatus) CanTransition(next SpikeStatus) bool {
	for _, allowed := range spikeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseSpikeStatus converts a string into a SpikeStatus.
func ParseSpikeStatus(v string) (SpikeStatus, error) {
	s := SpikeStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown spike status %q", v)
	}
	return s, nil
}

// Spike is a candle whose return is an outlier against recent rolling volatility.
// Symbol and Time form its key.
type Spike struct {
	Symbol    string      `json:"symbol"`
	Time      time.Time   `json:"timestamp"`
	ReturnPct float64     `json:"return_pct"`
	ZScore    float64     `json:"z_score"`
	Status    SpikeStatus `json:"status"`

	// Candidate attribution from heuristics or research; never authoritative on its own.
	CandidateTitle string  `json:"candidate_title,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Heuristic      string  `json:"heuristic,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SpikeKey identifies a spike.
type SpikeKey struct {
	Symbol string
	Time   time.Time
}

// Key returns the uniqueness key.
func (s Spike) Key() SpikeKey {
	return SpikeKey{Symbol: s.Symbol, Time: s.Time.UTC()}
}

func (k SpikeKey) String() string {
	return k.Symbol + "@" + k.Time.UTC().Format(time.RFC3339Nano)
}
