package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impact-curator/internal/domain"
	"impact-curator/internal/storage"
)

func TestEventRoundTripIsCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	claimed := time.Date(2024, 3, 12, 12, 30, 0, 0, time.UTC)
	move := decimal.RequireFromString("1.25")

	require.NoError(t, s.PutEvent(ctx, domain.CuratedEvent{
		Title:     "  CPI release ",
		ClaimedAt: claimed,
		Moves:     domain.MoveMetrics{"5m": &move, "30m": nil},
	}))

	got, err := s.GetEvent(ctx, domain.NewEventKey("CPI release", claimed))
	require.NoError(t, err)
	assert.Equal(t, domain.EventUnverified, got.Status)
	assert.NotEmpty(t, got.ID)

	*got.Moves["5m"] = decimal.NewFromInt(99)
	again, err := s.GetEvent(ctx, got.Key())
	require.NoError(t, err)
	v, ok := again.Moves.Get("5m")
	require.True(t, ok)
	assert.True(t, v.Equal(move))
	_, ok = again.Moves.Get("30m")
	assert.False(t, ok)
}

func TestPutEventKeepsStoredDescription(t *testing.T) {
	ctx := context.Background()
	s := New()
	claimed := time.Date(2024, 3, 12, 12, 30, 0, 0, time.UTC)
	require.NoError(t, s.PutEvent(ctx, domain.CuratedEvent{Title: "CPI", ClaimedAt: claimed, Description: "verified text"}))

	precise := claimed.Add(999 * time.Nanosecond)
	require.NoError(t, s.PutEvent(ctx, domain.CuratedEvent{Title: "CPI", ClaimedAt: precise, Description: "other text"}))
	require.NoError(t, s.PutEvent(ctx, domain.CuratedEvent{Title: "CPI", ClaimedAt: claimed, Status: domain.EventVerified}))

	all, err := s.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "verified text", all[0].Description)
	assert.Equal(t, domain.EventVerified, all[0].Status)

	got, err := s.GetEvent(ctx, domain.EventKey{Title: "CPI", ClaimedAt: precise})
	require.NoError(t, err)
	assert.Equal(t, "verified text", got.Description)
}

func TestDeleteAndList(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutEvent(ctx, domain.CuratedEvent{Title: "b", ClaimedAt: base.Add(time.Hour), Status: domain.EventVerified}))
	require.NoError(t, s.PutEvent(ctx, domain.CuratedEvent{Title: "a", ClaimedAt: base}))

	all, err := s.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Title)

	verified, err := s.ListEventsByStatus(ctx, domain.EventVerified)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, "b", verified[0].Title)

	require.NoError(t, s.DeleteEvent(ctx, domain.NewEventKey("a", base)))
	assert.ErrorIs(t, s.DeleteEvent(ctx, domain.NewEventKey("a", base)), storage.ErrNotFound)
	_, err = s.GetEvent(ctx, domain.NewEventKey("a", base))
	assert.True(t, storage.IsNotFound(err))
}

func TestSpikes(t *testing.T) {
	ctx := context.Background()
	s := New()
	ts := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutSpike(ctx, domain.Spike{Symbol: "BTCUSDT", Time: ts, ZScore: 4, Status: domain.SpikeNew}))
	require.NoError(t, s.PutSpike(ctx, domain.Spike{Symbol: "ETHUSDT", Time: ts, ZScore: 5, Status: domain.SpikeResearching}))

	got, err := s.GetSpike(ctx, domain.SpikeKey{Symbol: "BTCUSDT", Time: ts})
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.ZScore)

	btc, err := s.ListSpikes(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, btc, 1)

	researching, err := s.ListSpikesByStatus(ctx, domain.SpikeResearching)
	require.NoError(t, err)
	require.Len(t, researching, 1)
	assert.Equal(t, "ETHUSDT", researching[0].Symbol)
}

func TestTryLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()
	unlock, ok, err := s.TryLock(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TryLock(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	unlock()
	_, ok, err = s.TryLock(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
}
