// Package curator is the single mutation point of the dataset: it records spikes,
// merges curated events, applies research findings and corrections, and audits.
package curator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"impact-curator/internal/domain"
	"impact-curator/internal/impulse"
	"impact-curator/internal/logging"
	"impact-curator/internal/report"
	"impact-curator/internal/storage"
)

var (
	// ErrLockHeld means another curator holds the dataset write lock.
	ErrLockHeld = errors.New("curator lock held by another writer")
	// ErrUnconfirmed is returned when a change needs explicit external confirmation.
	ErrUnconfirmed = errors.New("change requires explicit confirmation")
	// ErrNoCorrection is returned when an event carries no proposed timestamp.
	ErrNoCorrection = errors.New("no timestamp correction proposed")
	// ErrReanalysisRequired means the stored window cannot be re-referenced to the
	// corrected time and the event must be analysed again.
	ErrReanalysisRequired = errors.New("stored window does not cover corrected time, reanalysis required")
)

// Source identifies who asks for a status change.
type Source string

const (
	// SourceResearch is external research input, the only source allowed to verify.
	SourceResearch Source = "research"
	SourceOperator Source = "operator"
	// SourceHeuristic is automated pattern matching; it can never verify.
	SourceHeuristic Source = "heuristic"
)

func (s Source) external() bool {
	return s == SourceResearch || s == SourceOperator
}

// Options configures a Curator.
type Options struct {
	LockKey int64
	// Symbol is used for findings that omit one.
	Symbol string
	// Interval is the spike series resolution, used by heuristics.
	Interval time.Duration
	Matcher  *Matcher
	// Horizons are used to re-measure moves when a correction keeps the stored window.
	Horizons []impulse.Horizon
	Now      func() time.Time
}

// Curator serialises writes to a Repository.
type Curator struct {
	repo   storage.Repository
	opts   Options
	logger zerolog.Logger
}

// New constructs a Curator.
func New(repo storage.Repository, opts Options, logger zerolog.Logger) *Curator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Curator{
		repo:   repo,
		opts:   opts,
		logger: logging.Component(logger, "curator"),
	}
}

func (c *Curator) now() time.Time {
	return c.opts.Now().UTC()
}

// withLock runs fn while holding the dataset write lock.
func (c *Curator) withLock(ctx context.Context, fn func() error) error {
	unlock, acquired, err := c.repo.TryLock(ctx, c.opts.LockKey)
	if err != nil {
		return fmt.Errorf("acquire curator lock: %w", err)
	}
	if !acquired {
		return ErrLockHeld
	}
	defer unlock()
	return fn()
}

// Applied is one event as stored by Upsert and what the merge did to it.
type Applied struct {
	Event   domain.CuratedEvent
	Outcome Outcome
}

// Changed reports whether the record is new or its body was replaced.
func (a Applied) Changed() bool {
	return a.Outcome == OutcomeInserted || a.Outcome == OutcomeReplaced
}

// Upsert dedups events and merges each into the store, returning the records it
// wrote. Per-record failures go to batch; the returned error is reserved for lock
// or context failures.
func (c *Curator) Upsert(ctx context.Context, events []domain.CuratedEvent, batch *report.Batch) ([]Applied, error) {
	deduped, decisions := Dedup(events)
	for _, d := range decisions {
		batch.Decide(d.Key, d.Action, d.Reason)
		c.logger.Info().Str("key", d.Key).Str("action", d.Action).Str("reason", d.Reason).Msg("dedup decision")
	}

	var applied []Applied
	err := c.withLock(ctx, func() error {
		for _, e := range deduped {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := e.Key().String()
			stored, outcome, err := c.upsertOne(ctx, e)
			if err != nil {
				kind := batch.Fail(key, err)
				c.logger.Warn().Err(err).Str("key", key).Str("kind", string(kind)).Msg("event upsert failed")
				continue
			}
			if outcome == OutcomeUnchanged {
				batch.Skip(key, "identical record already stored")
				continue
			}
			batch.Success()
			batch.Decide(key, string(outcome), "")
			applied = append(applied, Applied{Event: stored, Outcome: outcome})
		}
		return nil
	})
	return applied, err
}

// upsertOne must be called under the lock. It returns the record as stored.
func (c *Curator) upsertOne(ctx context.Context, e domain.CuratedEvent) (domain.CuratedEvent, Outcome, error) {
	e = e.Normalize()
	if err := e.Validate(); err != nil {
		return domain.CuratedEvent{}, "", err
	}
	now := c.now()
	if e.ProducedAt.IsZero() {
		e.ProducedAt = now
	}

	existing, err := c.repo.GetEvent(ctx, e.Key())
	switch {
	case storage.IsNotFound(err):
		e.UpdatedAt = now
		if err := c.repo.PutEvent(ctx, e); err != nil {
			return domain.CuratedEvent{}, "", fmt.Errorf("%w: %v", report.ErrStorage, err)
		}
		return e, OutcomeInserted, nil
	case err != nil:
		return domain.CuratedEvent{}, "", fmt.Errorf("%w: %v", report.ErrStorage, err)
	}

	merged, outcome := Merge(existing, e)
	if outcome == OutcomeUnchanged {
		return existing, outcome, nil
	}
	merged.UpdatedAt = now
	if err := c.repo.PutEvent(ctx, merged); err != nil {
		return domain.CuratedEvent{}, "", fmt.Errorf("%w: %v", report.ErrStorage, err)
	}
	return merged, outcome, nil
}

// RecordSpikes stores spikes not seen before, annotated by the heuristic matcher,
// and returns them. Known spikes are left untouched.
func (c *Curator) RecordSpikes(ctx context.Context, spikes []domain.Spike, batch *report.Batch) ([]domain.Spike, error) {
	var fresh []domain.Spike
	err := c.withLock(ctx, func() error {
		for _, s := range spikes {
			key := s.Key()
			_, err := c.repo.GetSpike(ctx, key)
			switch {
			case err == nil:
				batch.Skip(key.String(), "spike already recorded")
				continue
			case !storage.IsNotFound(err):
				batch.Fail(key.String(), fmt.Errorf("%w: %v", report.ErrStorage, err))
				continue
			}

			s.Time = s.Time.UTC()
			s.Status = domain.SpikeNew
			var (
				match   Match
				matched bool
			)
			s, match, matched = c.opts.Matcher.Annotate(s, c.opts.Interval)
			s.UpdatedAt = c.now()
			if err := c.repo.PutSpike(ctx, s); err != nil {
				batch.Fail(key.String(), fmt.Errorf("%w: %v", report.ErrStorage, err))
				continue
			}
			batch.Success()
			fresh = append(fresh, s)
			c.logger.Info().Str("key", key.String()).Float64("z_score", s.ZScore).
				Str("candidate", s.CandidateTitle).Msg("spike recorded")
			if matched {
				c.proposeCandidate(ctx, key, match, batch)
			}
		}
		return nil
	})
	return fresh, err
}

// proposeCandidate records the event a heuristic match suggests. Existing records
// are never touched, so a candidate cannot overwrite analysed or verified data.
// Must be called under the lock.
func (c *Curator) proposeCandidate(ctx context.Context, spike domain.SpikeKey, match Match, batch *report.Batch) {
	event := match.CandidateEvent(c.now())
	key := event.Key().String()
	_, err := c.repo.GetEvent(ctx, event.Key())
	switch {
	case err == nil:
		return
	case !storage.IsNotFound(err):
		batch.Fail(key, fmt.Errorf("%w: %v", report.ErrStorage, err))
		return
	}
	if _, _, err := c.upsertOne(ctx, event); err != nil {
		kind := batch.Fail(key, err)
		c.logger.Warn().Err(err).Str("key", key).Str("kind", string(kind)).Msg("candidate event failed")
		return
	}
	batch.Decide(key, string(domain.EventCandidate), fmt.Sprintf("%s heuristic matched spike %s", match.Label, spike))
}

// TransitionSpike moves a spike along new -> researching -> verified|rejected.
func (c *Curator) TransitionSpike(ctx context.Context, key domain.SpikeKey, next domain.SpikeStatus, source Source) (domain.Spike, error) {
	var out domain.Spike
	err := c.withLock(ctx, func() error {
		var err error
		out, err = c.transitionSpike(ctx, key, next, source, "")
		return err
	})
	return out, err
}

func (c *Curator) transitionSpike(ctx context.Context, key domain.SpikeKey, next domain.SpikeStatus, source Source, title string) (domain.Spike, error) {
	if next == domain.SpikeVerified && !source.external() {
		return domain.Spike{}, fmt.Errorf("%w: %s input cannot verify a spike", ErrUnconfirmed, source)
	}
	spike, err := c.repo.GetSpike(ctx, key)
	if err != nil {
		return domain.Spike{}, fmt.Errorf("load spike %s: %w", key, err)
	}
	if spike.Status == next {
		return spike, nil
	}
	// research can settle a fresh spike in one step
	if spike.Status == domain.SpikeNew && next.Terminal() && source.external() {
		spike.Status = domain.SpikeResearching
	}
	if !spike.Status.CanTransition(next) {
		return domain.Spike{}, fmt.Errorf("%w: spike %s %s -> %s", domain.ErrInvalidTransition, key, spike.Status, next)
	}
	spike.Status = next
	// heuristic and confidence stay as the matcher left them
	if title != "" {
		spike.CandidateTitle = title
	}
	spike.UpdatedAt = c.now()
	if err := c.repo.PutSpike(ctx, spike); err != nil {
		return domain.Spike{}, fmt.Errorf("%w: %v", report.ErrStorage, err)
	}
	return spike, nil
}

// Finding is one external research result.
type Finding struct {
	Symbol      string
	SpikeTime   *time.Time
	Title       string
	ClaimedAt   time.Time
	Description string
	Class       string
	Source      string
	Decision    domain.SpikeStatus
}

func (f Finding) key() string {
	if f.Title != "" {
		return domain.NewEventKey(f.Title, f.claimed()).String()
	}
	if f.SpikeTime != nil {
		return f.SpikeTime.UTC().Format(time.RFC3339)
	}
	return "finding"
}

func (f Finding) claimed() time.Time {
	if f.ClaimedAt.IsZero() && f.SpikeTime != nil {
		return f.SpikeTime.UTC()
	}
	return f.ClaimedAt.UTC()
}

// ApplyResearch applies findings: spike transitions, and curated events for verified
// findings. Rejected findings only touch events that already exist.
func (c *Curator) ApplyResearch(ctx context.Context, findings []Finding, batch *report.Batch) error {
	return c.withLock(ctx, func() error {
		for _, f := range findings {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.applyFinding(ctx, f); err != nil {
				kind := batch.Fail(f.key(), err)
				c.logger.Warn().Err(err).Str("key", f.key()).Str("kind", string(kind)).Msg("finding rejected")
				continue
			}
			batch.Success()
		}
		return nil
	})
}

func (c *Curator) applyFinding(ctx context.Context, f Finding) error {
	if !f.Decision.Valid() || f.Decision == domain.SpikeNew {
		return fmt.Errorf("%w: decision %q", domain.ErrInvalidTransition, f.Decision)
	}
	if f.SpikeTime == nil && f.Title == "" {
		return fmt.Errorf("finding names neither a spike nor an event")
	}

	if f.SpikeTime != nil {
		symbol := f.Symbol
		if symbol == "" {
			symbol = c.opts.Symbol
		}
		key := domain.SpikeKey{Symbol: symbol, Time: f.SpikeTime.UTC()}
		if _, err := c.transitionSpike(ctx, key, f.Decision, SourceResearch, f.Title); err != nil {
			return err
		}
	}

	if f.Title == "" {
		return nil
	}
	event := domain.CuratedEvent{
		Title:       f.Title,
		ClaimedAt:   f.claimed(),
		Description: f.Description,
		Class:       f.Class,
		Source:      f.Source,
		ProducedAt:  c.now(),
	}
	switch f.Decision {
	case domain.SpikeVerified:
		event.Status = domain.EventVerified
	case domain.SpikeRejected:
		if _, err := c.repo.GetEvent(ctx, event.Key()); storage.IsNotFound(err) {
			return nil
		} else if err != nil {
			return fmt.Errorf("%w: %v", report.ErrStorage, err)
		}
		event.Status = domain.EventRejected
	default:
		event.Status = domain.EventUnverified
	}
	_, _, err := c.upsertOne(ctx, event)
	return err
}

// Reanalyzer recomputes alignment for an event whose claimed time changed.
type Reanalyzer func(domain.CuratedEvent) (domain.CuratedEvent, error)

// ApplyCorrection moves an event's claimed timestamp to its proposed correction.
// Nothing changes unless confirm is true. The record is re-keyed and the old key removed.
func (c *Curator) ApplyCorrection(ctx context.Context, key domain.EventKey, confirm bool, reanalyze Reanalyzer) (domain.CuratedEvent, error) {
	if !confirm {
		return domain.CuratedEvent{}, ErrUnconfirmed
	}
	var out domain.CuratedEvent
	err := c.withLock(ctx, func() error {
		event, err := c.repo.GetEvent(ctx, key)
		if err != nil {
			return fmt.Errorf("load event %s: %w", key, err)
		}
		if event.SuggestedAt == nil {
			return fmt.Errorf("%w: %s", ErrNoCorrection, key)
		}

		corrected := event
		corrected.ClaimedAt = event.SuggestedAt.UTC()
		corrected.SuggestedAt = nil
		corrected = corrected.Normalize()
		if reanalyze != nil {
			analyzed, err := reanalyze(corrected)
			if err != nil {
				return fmt.Errorf("reanalyze %s: %w", corrected.Key(), err)
			}
			corrected = analyzed.Normalize()
		} else if err := c.rereference(&corrected); err != nil {
			return err
		}
		corrected.ProducedAt = c.now()

		if _, _, err := c.upsertOne(ctx, corrected); err != nil {
			return err
		}
		if corrected.Key().String() != event.Key().String() {
			if err := c.repo.DeleteEvent(ctx, event.Key()); err != nil {
				return fmt.Errorf("%w: remove old key: %v", report.ErrStorage, err)
			}
		}
		out, err = c.repo.GetEvent(ctx, corrected.Key())
		if err != nil {
			return fmt.Errorf("%w: reload corrected event: %v", report.ErrStorage, err)
		}
		c.logger.Info().Str("from", event.Key().String()).Str("to", corrected.Key().String()).Msg("timestamp correction applied")
		return nil
	})
	return out, err
}

// rereference points the stored window at the corrected claim and re-measures the
// horizon moves from the new reference candle. The suggestion was the impulse time,
// so the lag becomes zero.
func (c *Curator) rereference(e *domain.CuratedEvent) error {
	if e.Window.Len() > 0 {
		ref, err := e.Window.ResolveReference(e.ClaimedAt)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrReanalysisRequired, e.Key(), err)
		}
		e.Window.RefIndex = ref
	}
	e.Moves = impulse.Moves(e.Window, c.horizonsFor(e.Moves))
	zero := 0.0
	e.LagSeconds = &zero
	e.Classification = domain.AlignmentAligned
	return nil
}

// horizonsFor prefers the configured horizons and falls back to the labels the
// event was measured with.
func (c *Curator) horizonsFor(moves domain.MoveMetrics) []impulse.Horizon {
	if len(c.opts.Horizons) > 0 {
		return c.opts.Horizons
	}
	labels := make([]string, 0, len(moves))
	for label := range moves {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	horizons, err := impulse.ParseHorizons(labels)
	if err != nil {
		c.logger.Warn().Err(err).Msg("stored move labels are not durations")
		return nil
	}
	return horizons
}

// Audit runs the read-only quality checks over every stored event.
func (c *Curator) Audit(ctx context.Context, opts AuditOptions) ([]Issue, error) {
	events, err := c.repo.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return Audit(events, opts), nil
}
