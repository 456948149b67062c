package curator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"impact-curator/internal/domain"
	"impact-curator/internal/report"
	"impact-curator/internal/storage"
)

// Outcome names what a merge did to the stored record.
type Outcome string

const (
	OutcomeInserted  Outcome = "insert"
	OutcomeReplaced  Outcome = "replace"
	OutcomeBackfill  Outcome = "backfill"
	OutcomeUnchanged Outcome = "noop"
)

// Merge folds incoming into existing; both must share a key. The most recently
// produced record supplies the body (incoming wins ties). A description, once set,
// survives every merge, and status only moves forward along the state machine.
func Merge(existing, incoming domain.CuratedEvent) (domain.CuratedEvent, Outcome) {
	existing = existing.Normalize()
	incoming = incoming.Normalize()

	newer := !incoming.ProducedAt.Before(existing.ProducedAt)
	merged, other := existing, incoming
	if newer {
		merged, other = incoming, existing
	}

	if merged.Window.Len() == 0 && other.Window.Len() > 0 {
		merged.Window = other.Window
		merged.Moves = other.Moves
		merged.LagSeconds = other.LagSeconds
		merged.Classification = other.Classification
		merged.SuggestedAt = other.SuggestedAt
	}
	if merged.Class == "" {
		merged.Class = other.Class
	}
	if merged.Source == "" {
		merged.Source = other.Source
	}

	switch {
	case existing.HasDescription():
		merged.Description = existing.Description
	case incoming.HasDescription():
		merged.Description = incoming.Description
	default:
		merged.Description = ""
	}

	merged.Status = mergeStatus(existing.Status, incoming.Status)
	merged.ID = existing.ID
	if existing.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = existing.UpdatedAt
	}

	switch {
	case sameContent(merged, existing):
		return existing, OutcomeUnchanged
	case newer:
		return merged, OutcomeReplaced
	default:
		return merged, OutcomeBackfill
	}
}

func mergeStatus(existing, incoming domain.EventStatus) domain.EventStatus {
	if existing.Terminal() || !incoming.Valid() {
		return existing
	}
	if existing.CanTransition(incoming) {
		return incoming
	}
	return existing
}

// sameContent compares everything but the bookkeeping timestamps, so a re-run that
// reproduces a stored record is a no-op.
func sameContent(a, b domain.CuratedEvent) bool {
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	a.ProducedAt, b.ProducedAt = time.Time{}, time.Time{}
	return jsonEqual(a, b)
}

// conflicting reports whether two records for one key disagree on content.
func conflicting(a, b domain.CuratedEvent) bool {
	return !sameContent(a, b)
}

func jsonEqual(a, b domain.CuratedEvent) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// Dedup collapses records sharing (title, claimed timestamp) into one by folding
// them with Merge in produced order, so the most recent body wins and the earliest
// description is kept. The result is sorted and Dedup(Dedup(x)) == Dedup(x).
func Dedup(records []domain.CuratedEvent) ([]domain.CuratedEvent, []report.Decision) {
	groups := make(map[domain.EventKey][]domain.CuratedEvent)
	var order []domain.EventKey
	for _, r := range records {
		r = r.Normalize()
		key := r.Key()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	out := make([]domain.CuratedEvent, 0, len(order))
	var decisions []report.Decision
	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].ProducedAt.Before(group[j].ProducedAt)
		})

		acc := group[0]
		conflict := false
		for _, next := range group[1:] {
			if conflicting(acc, next) {
				conflict = true
			}
			acc, _ = Merge(acc, next)
		}
		out = append(out, acc)

		if len(group) > 1 {
			action := "collapse"
			if conflict {
				action = string(report.KindDuplicateKeyConflict)
			}
			decisions = append(decisions, report.Decision{
				Key:    key.String(),
				Action: action,
				Reason: fmt.Sprintf("kept 1 of %d records, most recent produced_at %s", len(group), acc.ProducedAt.UTC().Format(time.RFC3339)),
			})
		}
	}

	storage.SortEvents(out)
	return out, decisions
}
