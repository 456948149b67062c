// Package storage persists volatility spikes and curated events. The PostgreSQL
// store lives here; sqlite and memory hold the alternative backends.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"impact-curator/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when no record matches a key.
	ErrNotFound = errors.New("storage: record not found")
)

// EventStore persists curated events keyed by (title, claimed timestamp).
type EventStore interface {
	GetEvent(ctx context.Context, key domain.EventKey) (domain.CuratedEvent, error)
	// PutEvent inserts or replaces an event; a stored description is never replaced.
	PutEvent(ctx context.Context, event domain.CuratedEvent) error
	DeleteEvent(ctx context.Context, key domain.EventKey) error
	ListEvents(ctx context.Context) ([]domain.CuratedEvent, error)
	ListEventsByStatus(ctx context.Context, status domain.EventStatus) ([]domain.CuratedEvent, error)
}

// SpikeStore persists volatility spikes keyed by (symbol, timestamp).
type SpikeStore interface {
	GetSpike(ctx context.Context, key domain.SpikeKey) (domain.Spike, error)
	PutSpike(ctx context.Context, spike domain.Spike) error
	ListSpikes(ctx context.Context, symbol string) ([]domain.Spike, error)
	ListSpikesByStatus(ctx context.Context, status domain.SpikeStatus) ([]domain.Spike, error)
}

// Locker grants a single writer per key across processes sharing the backend.
type Locker interface {
	TryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is everything the pipeline needs from a backend.
type Repository interface {
	EventStore
	SpikeStore
	Locker
	Close() error
}

// EncodeWindow serialises a price window for a JSON column.
func EncodeWindow(w domain.Window) ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode price window: %w", err)
	}
	return data, nil
}

// DecodeWindow is the inverse of EncodeWindow. Empty input yields a zero window.
func DecodeWindow(data []byte) (domain.Window, error) {
	var w domain.Window
	if len(data) == 0 {
		return w, nil
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.Window{}, fmt.Errorf("decode price window: %w", err)
	}
	return w, nil
}

// EncodeMoves serialises move metrics; undefined horizons are kept as JSON null.
func EncodeMoves(m domain.MoveMetrics) ([]byte, error) {
	if m == nil {
		m = domain.MoveMetrics{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode move metrics: %w", err)
	}
	return data, nil
}

// DecodeMoves is the inverse of EncodeMoves.
func DecodeMoves(data []byte) (domain.MoveMetrics, error) {
	m := domain.MoveMetrics{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode move metrics: %w", err)
	}
	return m, nil
}

// SortEvents orders events by claimed time, then title.
func SortEvents(events []domain.CuratedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.ClaimedAt.Equal(b.ClaimedAt) {
			return a.ClaimedAt.Before(b.ClaimedAt)
		}
		return a.Title < b.Title
	})
}

// SortSpikes orders spikes by time, then symbol.
func SortSpikes(spikes []domain.Spike) {
	sort.SliceStable(spikes, func(i, j int) bool {
		a, b := spikes[i], spikes[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.Symbol < b.Symbol
	})
}
