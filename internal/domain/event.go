package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus is the verification state of a curated event.
type EventStatus string

const (
	EventUnverified EventStatus = "unverified"
	// EventCandidate marks an automated (heuristic) attribution awaiting confirmation.
	EventCandidate EventStatus = "candidate"
	EventVerified  EventStatus = "verified"
	EventRejected  EventStatus = "rejected"
)

var eventTransitions = map[EventStatus][]EventStatus{
	EventUnverified: {EventCandidate, EventVerified, EventRejected},
	EventCandidate:  {EventVerified, EventRejected},
}

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventUnverified, EventCandidate, EventVerified, EventRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s EventStatus) Terminal() bool {
	return s == EventVerified || s == EventRejected
}

// CanTransition reports whether s may move to next.
func (s EventStatus) CanTransition(next EventStatus) bool {
	for _, allowed := range eventTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseEventStatus converts a string into an EventStatus.
func ParseEventStatus(v string) (EventStatus, error) {
	s := EventStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown event status %q", v)
	}
	return s, nil
}

// Alignment classifies the lag between a claimed time and the detected impulse.
type Alignment string

const (
	AlignmentEarly        Alignment = "EARLY"
	AlignmentAligned      Alignment = "ALIGNED"
	AlignmentLate         Alignment = "LATE"
	AlignmentUndetermined Alignment = "UNDETERMINED"
)

// MoveMetrics maps a horizon label ("5m") to its percent move. A nil value means the
// metric is undefined for the window, which is different from a zero move.
type MoveMetrics map[string]*decimal.Decimal

// Get returns the move for label and whether it is defined.
func (m MoveMetrics) Get(label string) (decimal.Decimal, bool) {
	v, ok := m[label]
	if !ok || v == nil {
		return decimal.Decimal{}, false
	}
	return *v, true
}

// EventKey is the uniqueness key of a curated event.
type EventKey struct {
	Title     string
	ClaimedAt time.Time
}

// KeyPrecision is the finest timestamp resolution every backend stores.
const KeyPrecision = time.Microsecond

// NewEventKey normalises title whitespace, the timestamp zone and its precision.
func NewEventKey(title string, claimedAt time.Time) EventKey {
	return EventKey{Title: strings.TrimSpace(title), ClaimedAt: claimedAt.UTC().Truncate(KeyPrecision)}
}

func (k EventKey) String() string {
	return k.Title + "|" + k.ClaimedAt.UTC().Format(time.RFC3339Nano)
}

// ID derives a stable record id: SHA256(title|claimed_ts), hex encoded.
func (k EventKey) ID() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// CuratedEvent pairs a real-world event with the price reaction it caused.
type CuratedEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ClaimedAt time.Time `json:"claimed_timestamp"`
	// Description is verbatim sourced text; empty means absent. Once set it is never overwritten.
	Description string `json:"description,omitempty"`
	Class       string `json:"class,omitempty"`
	Source      string `json:"source,omitempty"`

	Window Window      `json:"price_window"`
	Moves  MoveMetrics `json:"move_metrics"`

	Status         EventStatus `json:"verification_status"`
	LagSeconds     *float64    `json:"alignment_lag_seconds"`
	Classification Alignment   `json:"classification,omitempty"`
	SuggestedAt    *time.Time  `json:"suggested_timestamp,omitempty"`

	ProducedAt time.Time `json:"produced_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key returns the uniqueness key.
func (e CuratedEvent) Key() EventKey {
	return NewEventKey(e.Title, e.ClaimedAt)
}

// HasDescription reports whether verbatim text is present.
func (e CuratedEvent) HasDescription() bool {
	return strings.TrimSpace(e.Description) != ""
}

// Validate checks the boundary schema.
func (e CuratedEvent) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("event title must not be empty")
	}
	if e.ClaimedAt.IsZero() {
		return fmt.Errorf("%w: claimed timestamp missing", ErrMalformedTimestamp)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("unknown verification status %q", e.Status)
	}
	return nil
}

// Normalize fills derived fields: trimmed title, UTC time at key precision, id,
// default status.
func (e CuratedEvent) Normalize() CuratedEvent {
	e.Title = strings.TrimSpace(e.Title)
	e.ClaimedAt = e.ClaimedAt.UTC().Truncate(KeyPrecision)
	e.ID = e.Key().ID()
	if e.Status == "" {
		e.Status = EventUnverified
	}
	return e
}
