package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"impact-curator/internal/domain"
)

// setupStore starts a PostgreSQL container and applies the embedded migrations.
func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	var container *postgres.PostgresContainer
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Skipf("docker unavailable: %v", r)
			}
		}()
		container, err = postgres.Run(ctx, "postgres:15-alpine",
			postgres.WithDatabase("testdb"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
	}()
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool), "migrations are idempotent")

	store := NewStore(pool)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreEventRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	claimed := time.Date(2024, 3, 12, 12, 30, 0, 0, time.UTC)
	move := decimal.RequireFromString("5.00")
	lag := 10.0
	event := domain.CuratedEvent{
		Title:       "CPI release",
		ClaimedAt:   claimed,
		Description: "Consumer prices rose 0.4% in February.",
		Moves:       domain.MoveMetrics{"5m": &move, "30m": nil},
		Status:      domain.EventVerified,
		LagSeconds:  &lag,
		ProducedAt:  claimed.Add(time.Hour),
		UpdatedAt:   claimed.Add(time.Hour),
	}
	require.NoError(t, s.PutEvent(ctx, event))
	require.NoError(t, s.PutEvent(ctx, event))

	got, err := s.GetEvent(ctx, event.Key())
	require.NoError(t, err)
	assert.Equal(t, event.Description, got.Description)
	assert.Equal(t, domain.EventVerified, got.Status)
	require.NotNil(t, got.LagSeconds)
	assert.Equal(t, 10.0, *got.LagSeconds)
	v, ok := got.Moves.Get("5m")
	require.True(t, ok)
	assert.True(t, v.Equal(move))
	_, ok = got.Moves.Get("30m")
	assert.False(t, ok)

	listed, err := s.ListEventsByStatus(ctx, domain.EventVerified)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, s.DeleteEvent(ctx, event.Key()))
	_, err = s.GetEvent(ctx, event.Key())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreKeepsDescriptionAcrossPrecision(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	claimed := time.Date(2024, 3, 12, 12, 30, 0, 0, time.UTC)
	require.NoError(t, s.PutEvent(ctx, domain.CuratedEvent{
		Title: "CPI release", ClaimedAt: claimed, Description: "verified text",
		ProducedAt: claimed, UpdatedAt: claimed,
	}))

	precise := claimed.Add(999 * time.Nanosecond)
	got, err := s.GetEvent(ctx, domain.EventKey{Title: "CPI release", ClaimedAt: precise})
	require.NoError(t, err)
	assert.Equal(t, "verified text", got.Description)

	require.NoError(t, s.PutEvent(ctx, domain.CuratedEvent{
		Title: "CPI release", ClaimedAt: precise, Description: "replacement text",
		ProducedAt: claimed.Add(time.Hour), UpdatedAt: claimed.Add(time.Hour),
	}))
	all, err := s.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "verified text", all[0].Description)
}

func TestStoreSpikesAndLock(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutSpike(ctx, domain.Spike{Symbol: "BTCUSDT", Time: ts, ZScore: 4, Status: domain.SpikeNew, UpdatedAt: ts}))
	got, err := s.GetSpike(ctx, domain.SpikeKey{Symbol: "BTCUSDT", Time: ts})
	require.NoError(t, err)
	assert.Equal(t, domain.SpikeNew, got.Status)

	unlock, ok, err := s.TryLock(ctx, 99)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = s.TryLock(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)
	unlock()
}

func TestNilStoreIsNotConfigured(t *testing.T) {
	var s *Store
	_, err := s.ListEvents(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, s.Close())
}

func TestMoveCodecKeepsUndefined(t *testing.T) {
	move := decimal.NewFromInt(0)
	data, err := EncodeMoves(domain.MoveMetrics{"5m": &move, "30m": nil})
	require.NoError(t, err)

	decoded, err := DecodeMoves(data)
	require.NoError(t, err)
	v, ok := decoded.Get("5m")
	require.True(t, ok)
	assert.True(t, v.IsZero())
	_, ok = decoded.Get("30m")
	assert.False(t, ok)
	assert.Contains(t, decoded, "30m")
}
