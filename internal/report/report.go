// Package report aggregates per-record outcomes of a batch run.
package report

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"impact-curator/internal/domain"
	"impact-curator/internal/impulse"
)

// Kind is a failure category shared by every batch command.
type Kind string

const (
	KindInsufficientData    Kind = "insufficient_data"
	KindDegenerateStatistic Kind = "degenerate_statistic"
	KindNoImpulseFound      Kind = "no_impulse_found"
	KindMalformedTimestamp  Kind = "malformed_timestamp"
	// KindDuplicateKeyConflict is a dedup decision action, never a failure kind:
	// conflicting duplicates are resolved by merge rules.
	KindDuplicateKeyConflict Kind = "duplicate_key_conflict"
	KindInvalidTransition    Kind = "invalid_transition"
	KindStorage              Kind = "storage"
	KindOther                Kind = "other"
)

// ErrStorage wraps persistence failures so they classify as KindStorage.
var ErrStorage = errors.New("storage failure")

// Classify maps err onto a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrInsufficientData), errors.Is(err, domain.ErrReferenceMismatch):
		return KindInsufficientData
	case errors.Is(err, domain.ErrDegenerateStatistic):
		return KindDegenerateStatistic
	case errors.Is(err, impulse.ErrNoImpulseFound):
		return KindNoImpulseFound
	case errors.Is(err, domain.ErrMalformedTimestamp):
		return KindMalformedTimestamp
	case errors.Is(err, domain.ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrStorage):
		return KindStorage
	}
	return KindOther
}

// Failure is one record that could not be processed.
type Failure struct {
	Key  string `json:"key"`
	Kind Kind   `json:"kind"`
	Err  string `json:"error"`
}

// Decision is a logged choice the pipeline made on a record, e.g. which duplicate won.
type Decision struct {
	Key    string `json:"key"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Batch collects outcomes for one command run. It is safe for concurrent use.
type Batch struct {
	mu sync.Mutex

	RunID     uuid.UUID  `json:"run_id"`
	Command   string     `json:"command"`
	StartedAt time.Time  `json:"started_at"`
	Processed int        `json:"processed"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	Failures  []Failure  `json:"failures,omitempty"`
	Decisions []Decision `json:"decisions,omitempty"`
}

// NewBatch starts a batch with a fresh run id.
func NewBatch(command string, now time.Time) *Batch {
	return &Batch{RunID: uuid.New(), Command: command, StartedAt: now.UTC()}
}

// Success records a processed record.
func (b *Batch) Success() {
	b.mu.Lock()
	b.Processed++
	b.mu.Unlock()
}

// Skip records a record that was intentionally left untouched.
func (b *Batch) Skip(key, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Skipped++
	b.Decisions = append(b.Decisions, Decision{Key: key, Action: "skip", Reason: reason})
}

// Fail records a failed record and returns its kind.
func (b *Batch) Fail(key string, err error) Kind {
	kind := Classify(err)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Failed++
	b.Failures = append(b.Failures, Failure{Key: key, Kind: kind, Err: err.Error()})
	return kind
}

// Decide records a decision without changing counters.
func (b *Batch) Decide(key, action, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Decisions = append(b.Decisions, Decision{Key: key, Action: action, Reason: reason})
}

// HasFailures reports whether any record failed.
func (b *Batch) HasFailures() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Failed > 0
}

// CountByKind returns failure counts per kind.
func (b *Batch) CountByKind() map[Kind]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[Kind]int)
	for _, f := range b.Failures {
		out[f.Kind]++
	}
	return out
}

// Log writes a summary line plus one line per failure.
func (b *Batch) Log(logger zerolog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, f := range b.Failures {
		logger.Warn().
			Str("run_id", b.RunID.String()).
			Str("key", f.Key).
			Str("kind", string(f.Kind)).
			Str("error", f.Err).
			Msg("record failed")
	}

	event := logger.Info()
	if b.Failed > 0 {
		event = logger.Warn()
	}
	event.
		Str("run_id", b.RunID.String()).
		Str("command", b.Command).
		Int("processed", b.Processed).
		Int("skipped", b.Skipped).
		Int("failed", b.Failed).
		Int("decisions", len(b.Decisions)).
		Msg("batch complete")
}
