package curator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impact-curator/internal/domain"
	"impact-curator/internal/impulse"
	"impact-curator/internal/report"
	"impact-curator/internal/storage/memory"
)

var (
	t0      = time.Date(2024, 3, 12, 12, 30, 0, 0, time.UTC)
	fixedAt = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

func newCurator(t *testing.T, opts Options) (*Curator, *memory.Store) {
	t.Helper()
	store := memory.New()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedAt }
	}
	if opts.Symbol == "" {
		opts.Symbol = "BTCUSDT"
	}
	return New(store, opts, zerolog.Nop()), store
}

func newBatch() *report.Batch {
	return report.NewBatch("test", fixedAt)
}

func TestSecondInsertBackfillsDescription(t *testing.T) {
	ctx := context.Background()
	c, store := newCurator(t, Options{})

	_, err := c.Upsert(ctx, []domain.CuratedEvent{{Title: "CPI", ClaimedAt: t0}}, newBatch())
	require.NoError(t, err)
	applied, err := c.Upsert(ctx, []domain.CuratedEvent{{Title: "CPI", ClaimedAt: t0, Description: "Consumer prices rose."}}, newBatch())
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, OutcomeReplaced, applied[0].Outcome)
	assert.Equal(t, "Consumer prices rose.", applied[0].Event.Description)

	all, err := store.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Consumer prices rose.", all[0].Description)
}

func TestSameBatchDuplicatesCollapse(t *testing.T) {
	ctx := context.Background()
	c, store := newCurator(t, Options{})
	batch := newBatch()

	_, err := c.Upsert(ctx, []domain.CuratedEvent{
		{Title: "CPI", ClaimedAt: t0, ProducedAt: t0},
		{Title: "CPI ", ClaimedAt: t0.In(time.FixedZone("EST", -5*3600)), Description: "text", ProducedAt: t0.Add(time.Minute)},
	}, batch)
	require.NoError(t, err)

	all, err := store.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "text", all[0].Description)
	assert.Equal(t, 1, batch.Processed)
	require.NotEmpty(t, batch.Decisions)
	assert.Equal(t, string(report.KindDuplicateKeyConflict), batch.Decisions[0].Action)
}

func TestMergeNeverOverwritesDescription(t *testing.T) {
	withText := domain.CuratedEvent{Title: "NFP", ClaimedAt: t0, Description: "Payrolls rose 200k.", ProducedAt: t0}
	others := []domain.CuratedEvent{
		{Title: "NFP", ClaimedAt: t0, ProducedAt: t0.Add(time.Hour)},
		{Title: "NFP", ClaimedAt: t0, Description: "Different text.", ProducedAt: t0.Add(time.Hour)},
		{Title: "NFP", ClaimedAt: t0, Description: "Older text.", ProducedAt: t0.Add(-time.Hour)},
	}
	for _, other := range others {
		merged, _ := Merge(withText, other)
		assert.Equal(t, withText.Description, merged.Description)
	}
}

func TestMergeStatusOnlyMovesForward(t *testing.T) {
	verified := domain.CuratedEvent{Title: "FOMC", ClaimedAt: t0, Status: domain.EventVerified, ProducedAt: t0}
	later := domain.CuratedEvent{Title: "FOMC", ClaimedAt: t0, Status: domain.EventUnverified, ProducedAt: t0.Add(time.Hour), Class: "macro"}

	merged, outcome := Merge(verified, later)
	assert.Equal(t, domain.EventVerified, merged.Status)
	assert.Equal(t, "macro", merged.Class)
	assert.Equal(t, OutcomeReplaced, outcome)

	candidate := domain.CuratedEvent{Title: "FOMC", ClaimedAt: t0, Status: domain.EventCandidate, ProducedAt: t0}
	merged, _ = Merge(candidate, domain.CuratedEvent{Title: "FOMC", ClaimedAt: t0, Status: domain.EventVerified})
	assert.Equal(t, domain.EventVerified, merged.Status)

	same, outcome := Merge(verified, verified)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, verified.Normalize(), same)
}

func TestMergeKeepsAnalysisWhenIncomingHasNone(t *testing.T) {
	lag := 12.0
	analyzed := domain.CuratedEvent{
		Title: "CPI", ClaimedAt: t0, ProducedAt: t0, LagSeconds: &lag,
		Classification: domain.AlignmentAligned,
		Window:         domain.Window{Interval: time.Second, RefIndex: 1, Candles: make([]domain.Candle, 3)},
	}
	research := domain.CuratedEvent{Title: "CPI", ClaimedAt: t0, ProducedAt: t0.Add(time.Hour), Status: domain.EventVerified}

	merged, _ := Merge(analyzed, research)
	assert.Equal(t, domain.EventVerified, merged.Status)
	require.NotNil(t, merged.LagSeconds)
	assert.Equal(t, 12.0, *merged.LagSeconds)
	assert.Equal(t, 3, merged.Window.Len())
}

func TestDedupIsIdempotent(t *testing.T) {
	records := []domain.CuratedEvent{
		{Title: "B", ClaimedAt: t0, ProducedAt: t0.Add(2 * time.Hour), Class: "late"},
		{Title: "A", ClaimedAt: t0, ProducedAt: t0},
		{Title: "B", ClaimedAt: t0, ProducedAt: t0, Description: "first text", Class: "early"},
		{Title: "B", ClaimedAt: t0, ProducedAt: t0.Add(time.Hour), Description: "second text"},
		{Title: "A", ClaimedAt: t0.Add(time.Minute), ProducedAt: t0},
	}

	once, decisions := Dedup(records)
	twice, again := Dedup(once)

	assert.Equal(t, once, twice)
	assert.Empty(t, again)
	require.Len(t, once, 3)
	require.Len(t, decisions, 1)

	var b domain.CuratedEvent
	for _, e := range once {
		if e.Title == "B" {
			b = e
		}
	}
	assert.Equal(t, "first text", b.Description)
	assert.Equal(t, "late", b.Class)
	assert.True(t, b.ProducedAt.Equal(t0.Add(2*time.Hour)))
}

func TestUpsertFailsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	c, store := newCurator(t, Options{LockKey: 5})

	unlock, ok, err := store.TryLock(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	_, err = c.Upsert(ctx, []domain.CuratedEvent{{Title: "x", ClaimedAt: t0}}, newBatch())
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestUpsertReportsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	c, _ := newCurator(t, Options{})
	batch := newBatch()

	_, err := c.Upsert(ctx, []domain.CuratedEvent{
		{Title: "ok", ClaimedAt: t0},
		{Title: "no time"},
	}, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Processed)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, report.KindMalformedTimestamp, batch.Failures[0].Kind)
}

func TestRecordSpikesInsertsOnceAndAnnotates(t *testing.T) {
	ctx := context.Background()
	matcher, err := NewMatcher(HeuristicConfig{ReleaseTime: "08:30", Zone: "America/New_York"})
	require.NoError(t, err)
	c, store := newCurator(t, Options{Matcher: matcher, Interval: time.Hour})

	spike := domain.Spike{Symbol: "BTCUSDT", Time: time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC), ZScore: 4, ReturnPct: 2.5}
	first := newBatch()
	fresh, err := c.RecordSpikes(ctx, []domain.Spike{spike}, first)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, HeuristicEconomicRelease, fresh[0].Heuristic)
	assert.Equal(t, domain.SpikeNew, fresh[0].Status)

	release := time.Date(2024, 3, 12, 12, 30, 0, 0, time.UTC)
	candidates, err := store.ListEventsByStatus(ctx, domain.EventCandidate)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, fresh[0].CandidateTitle, candidates[0].Title)
	assert.True(t, candidates[0].ClaimedAt.Equal(release))
	require.Len(t, first.Decisions, 1)
	assert.Equal(t, string(domain.EventCandidate), first.Decisions[0].Action)

	updated, err := c.TransitionSpike(ctx, spike.Key(), domain.SpikeResearching, SourceOperator)
	require.NoError(t, err)
	assert.Equal(t, domain.SpikeResearching, updated.Status)

	batch := newBatch()
	fresh, err = c.RecordSpikes(ctx, []domain.Spike{spike}, batch)
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Equal(t, 1, batch.Skipped)

	stored, err := store.GetSpike(ctx, spike.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.SpikeResearching, stored.Status, "re-detection never resets status")

	require.NoError(t, c.ApplyResearch(ctx, []Finding{
		{Title: candidates[0].Title, ClaimedAt: release, Decision: domain.SpikeVerified},
	}, newBatch()))
	confirmed, err := store.GetEvent(ctx, candidates[0].Key())
	require.NoError(t, err)
	assert.Equal(t, domain.EventVerified, confirmed.Status)
	all, err := store.ListEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSpikeStateMachine(t *testing.T) {
	ctx := context.Background()
	c, store := newCurator(t, Options{})
	spike := domain.Spike{Symbol: "BTCUSDT", Time: t0, Status: domain.SpikeNew}
	require.NoError(t, store.PutSpike(ctx, spike))

	_, err := c.TransitionSpike(ctx, spike.Key(), domain.SpikeVerified, SourceHeuristic)
	assert.ErrorIs(t, err, ErrUnconfirmed)

	got, err := c.TransitionSpike(ctx, spike.Key(), domain.SpikeVerified, SourceResearch)
	require.NoError(t, err)
	assert.Equal(t, domain.SpikeVerified, got.Status)

	_, err = c.TransitionSpike(ctx, spike.Key(), domain.SpikeRejected, SourceResearch)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = c.TransitionSpike(ctx, spike.Key(), domain.SpikeResearching, SourceOperator)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestApplyResearch(t *testing.T) {
	ctx := context.Background()
	c, store := newCurator(t, Options{})
	spikeAt := time.Date(2024, 3, 20, 18, 0, 0, 0, time.UTC)
	require.NoError(t, store.PutSpike(ctx, domain.Spike{
		Symbol: "BTCUSDT", Time: spikeAt, Status: domain.SpikeNew,
		CandidateTitle: "FOMC rate decision", Heuristic: "fomc", Confidence: 0.6,
	}))

	claimed := spikeAt.Add(-10 * time.Second)
	batch := newBatch()
	require.NoError(t, c.ApplyResearch(ctx, []Finding{
		{SpikeTime: &spikeAt, Title: "FOMC holds rates", ClaimedAt: claimed, Description: "The Committee decided to maintain the target range.", Decision: domain.SpikeVerified},
		{Title: "Unrelated rumor", ClaimedAt: t0, Decision: domain.SpikeRejected},
		{Title: "bad", ClaimedAt: t0, Decision: domain.SpikeNew},
	}, batch))

	assert.Equal(t, 2, batch.Processed)
	assert.Equal(t, 1, batch.Failed)

	spike, err := store.GetSpike(ctx, domain.SpikeKey{Symbol: "BTCUSDT", Time: spikeAt})
	require.NoError(t, err)
	assert.Equal(t, domain.SpikeVerified, spike.Status)
	assert.Equal(t, "FOMC holds rates", spike.CandidateTitle)
	assert.Equal(t, "fomc", spike.Heuristic, "research does not rewrite matcher attribution")
	assert.InDelta(t, 0.6, spike.Confidence, 1e-9)

	event, err := store.GetEvent(ctx, domain.NewEventKey("FOMC holds rates", claimed))
	require.NoError(t, err)
	assert.Equal(t, domain.EventVerified, event.Status)

	_, err = store.GetEvent(ctx, domain.NewEventKey("Unrelated rumor", t0))
	assert.Error(t, err, "rejections never create records")
}

func fiveMinutes() []impulse.Horizon {
	return []impulse.Horizon{{Label: "5m", Duration: 5 * time.Minute}}
}

// steppedWindow is 2400 one-second candles around t0 (reference 300), flat at 100
// and stepping to 105 after index 700.
func steppedWindow(t *testing.T) domain.Window {
	t.Helper()
	candles := flatCandles(t0.Add(-300*time.Second), 2400)
	for i := 701; i < len(candles); i++ {
		p := decimal.NewFromInt(105)
		candles[i].Open, candles[i].High, candles[i].Low, candles[i].Close = p, p, p, p
	}
	w, err := domain.NewWindow("BTCUSDT", time.Second, 300*time.Second, 2100*time.Second, candles, t0)
	require.NoError(t, err)
	require.Equal(t, 300, w.RefIndex)
	return w
}

func TestApplyCorrectionRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	c, store := newCurator(t, Options{Horizons: fiveMinutes()})
	suggested := t0.Add(400 * time.Second)
	lag := 400.0
	w := steppedWindow(t)
	require.NoError(t, store.PutEvent(ctx, domain.CuratedEvent{
		Title: "CPI", ClaimedAt: t0, Description: "keep me", LagSeconds: &lag,
		Window: w, Moves: impulse.Moves(w, fiveMinutes()),
		Classification: domain.AlignmentLate, SuggestedAt: &suggested,
	}))
	oldKey := domain.NewEventKey("CPI", t0)

	_, err := c.ApplyCorrection(ctx, oldKey, false, nil)
	assert.ErrorIs(t, err, ErrUnconfirmed)
	unchanged, err := store.GetEvent(ctx, oldKey)
	require.NoError(t, err)
	assert.True(t, unchanged.ClaimedAt.Equal(t0))
	move, ok := unchanged.Moves.Get("5m")
	require.True(t, ok)
	assert.True(t, move.IsZero())

	corrected, err := c.ApplyCorrection(ctx, oldKey, true, nil)
	require.NoError(t, err)
	assert.True(t, corrected.ClaimedAt.Equal(suggested))
	assert.Equal(t, domain.AlignmentAligned, corrected.Classification)
	assert.Nil(t, corrected.SuggestedAt)
	assert.Equal(t, "keep me", corrected.Description)

	require.NoError(t, corrected.Window.CheckReference(corrected.ClaimedAt))
	assert.Equal(t, 700, corrected.Window.RefIndex)
	move, ok = corrected.Moves.Get("5m")
	require.True(t, ok)
	assert.True(t, move.Equal(decimal.NewFromInt(5)), "moves are measured from the corrected reference, got %s", move)

	_, err = store.GetEvent(ctx, oldKey)
	assert.Error(t, err)

	_, err = c.ApplyCorrection(ctx, corrected.Key(), true, nil)
	assert.ErrorIs(t, err, ErrNoCorrection)
}

func TestApplyCorrectionOutsideWindowNeedsReanalysis(t *testing.T) {
	ctx := context.Background()
	c, store := newCurator(t, Options{Horizons: fiveMinutes()})
	suggested := t0.Add(3 * time.Hour)
	w := steppedWindow(t)
	require.NoError(t, store.PutEvent(ctx, domain.CuratedEvent{
		Title: "CPI", ClaimedAt: t0, Window: w, Moves: impulse.Moves(w, fiveMinutes()),
		Classification: domain.AlignmentLate, SuggestedAt: &suggested,
	}))
	key := domain.NewEventKey("CPI", t0)

	_, err := c.ApplyCorrection(ctx, key, true, nil)
	assert.ErrorIs(t, err, ErrReanalysisRequired)

	kept, err := store.GetEvent(ctx, key)
	require.NoError(t, err)
	assert.True(t, kept.ClaimedAt.Equal(t0))
	require.NotNil(t, kept.SuggestedAt)
	require.NoError(t, kept.Window.CheckReference(kept.ClaimedAt))
}

func flatCandles(start time.Time, n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		p := decimal.NewFromInt(100)
		out[i] = domain.Candle{Time: start.Add(time.Duration(i) * time.Second), Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1)}
	}
	return out
}

func TestAuditFlagsAnomalies(t *testing.T) {
	candles := flatCandles(t0.Add(-2*time.Second), 5)
	candles[3].High = decimal.NewFromInt(101)
	w, err := domain.NewWindow("BTCUSDT", time.Second, 2*time.Second, 3*time.Second, candles, t0)
	require.NoError(t, err)
	zero := decimal.Zero
	suggested := t0.Add(time.Minute)

	events := []domain.CuratedEvent{
		{Title: "good", ClaimedAt: t0, Window: w, Moves: domain.MoveMetrics{"5m": nil}, Description: "A description comfortably above the minimum length."},
		{Title: "zero", ClaimedAt: t0, Window: w, Moves: domain.MoveMetrics{"5m": &zero}, Description: "short"},
		{Title: "short window", ClaimedAt: t0, Window: domain.Window{Symbol: "BTCUSDT", Interval: time.Second, Before: 2 * time.Second, After: 3 * time.Second, RefIndex: 2, Candles: candles[:4]}, SuggestedAt: &suggested},
	}
	issues := Audit(events, AuditOptions{MinTextLength: 40})

	kinds := map[string][]IssueKind{}
	for _, is := range issues {
		kinds[is.Key] = append(kinds[is.Key], is.Kind)
	}
	assert.Empty(t, kinds[events[0].Key().String()])
	assert.ElementsMatch(t, []IssueKind{IssueZeroMove, IssueShortText}, kinds[events[1].Key().String()])
	assert.ElementsMatch(t, []IssueKind{IssueMissingText, IssueCandleCount, IssuePendingCorrection}, kinds[events[2].Key().String()])
}
