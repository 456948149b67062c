// Package memory is an in-process Repository for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"impact-curator/internal/domain"
	"impact-curator/internal/storage"
)

// Store keeps records in maps guarded by a RWMutex. Values are copied in and out.
type Store struct {
	mu     sync.RWMutex
	events map[domain.EventKey]domain.CuratedEvent
	spikes map[domain.SpikeKey]domain.Spike
	locks  map[int64]struct{}
}

var _ storage.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		events: make(map[domain.EventKey]domain.CuratedEvent),
		spikes: make(map[domain.SpikeKey]domain.Spike),
		locks:  make(map[int64]struct{}),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// TryLock grants key to one caller at a time within this process.
func (s *Store) TryLock(_ context.Context, key int64) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return nil, false, nil
	}
	s.locks[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, key)
			s.mu.Unlock()
		})
	}, true, nil
}

func (s *Store) GetEvent(_ context.Context, key domain.EventKey) (domain.CuratedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[normalizeEventKey(key)]
	if !ok {
		return domain.CuratedEvent{}, storage.ErrNotFound
	}
	return cloneEvent(event), nil
}

func (s *Store) PutEvent(_ context.Context, event domain.CuratedEvent) error {
	event = event.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.events[event.Key()]; ok && stored.HasDescription() {
		event.Description = stored.Description
	}
	s.events[event.Key()] = cloneEvent(event)
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, key domain.EventKey) error {
	key = normalizeEventKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.events, key)
	return nil
}

func (s *Store) ListEvents(_ context.Context) ([]domain.CuratedEvent, error) {
	return s.filterEvents(func(domain.CuratedEvent) bool { return true }), nil
}

func (s *Store) ListEventsByStatus(_ context.Context, status domain.EventStatus) ([]domain.CuratedEvent, error) {
	return s.filterEvents(func(e domain.CuratedEvent) bool { return e.Status == status }), nil
}

func (s *Store) GetSpike(_ context.Context, key domain.SpikeKey) (domain.Spike, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spike, ok := s.spikes[domain.SpikeKey{Symbol: key.Symbol, Time: key.Time.UTC()}]
	if !ok {
		return domain.Spike{}, storage.ErrNotFound
	}
	return spike, nil
}

func (s *Store) PutSpike(_ context.Context, spike domain.Spike) error {
	spike.Time = spike.Time.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spikes[spike.Key()] = spike
	return nil
}

func (s *Store) ListSpikes(_ context.Context, symbol string) ([]domain.Spike, error) {
	return s.filterSpikes(func(sp domain.Spike) bool { return symbol == "" || sp.Symbol == symbol }), nil
}

func (s *Store) ListSpikesByStatus(_ context.Context, status domain.SpikeStatus) ([]domain.Spike, error) {
	return s.filterSpikes(func(sp domain.Spike) bool { return sp.Status == status }), nil
}

func (s *Store) filterEvents(keep func(domain.CuratedEvent) bool) []domain.CuratedEvent {
	s.mu.RLock()
	out := make([]domain.CuratedEvent, 0, len(s.events))
	for _, e := range s.events {
		if keep(e) {
			out = append(out, cloneEvent(e))
		}
	}
	s.mu.RUnlock()
	storage.SortEvents(out)
	return out
}

func (s *Store) filterSpikes(keep func(domain.Spike) bool) []domain.Spike {
	s.mu.RLock()
	out := make([]domain.Spike, 0, len(s.spikes))
	for _, sp := range s.spikes {
		if keep(sp) {
			out = append(out, sp)
		}
	}
	s.mu.RUnlock()
	storage.SortSpikes(out)
	return out
}

func normalizeEventKey(key domain.EventKey) domain.EventKey {
	return domain.NewEventKey(key.Title, key.ClaimedAt)
}

func cloneEvent(e domain.CuratedEvent) domain.CuratedEvent {
	if e.Moves != nil {
		moves := make(domain.MoveMetrics, len(e.Moves))
		for k, v := range e.Moves {
			if v != nil {
				c := *v
				moves[k] = &c
			} else {
				moves[k] = nil
			}
		}
		e.Moves = moves
	}
	if e.Window.Candles != nil {
		e.Window.Candles = append([]domain.Candle(nil), e.Window.Candles...)
	}
	if e.LagSeconds != nil {
		v := *e.LagSeconds
		e.LagSeconds = &v
	}
	if e.SuggestedAt != nil {
		v := *e.SuggestedAt
		e.SuggestedAt = &v
	}
	return e
}
