package curator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"impact-curator/internal/domain"
)

// IssueKind names an audit finding.
type IssueKind string

const (
	IssueZeroMove          IssueKind = "zero_move"
	IssueMissingText       IssueKind = "missing_text"
	IssueShortText         IssueKind = "short_text"
	IssueCandleCount       IssueKind = "candle_count"
	IssueReferenceOffset   IssueKind = "reference_offset"
	IssueReferenceMismatch IssueKind = "reference_mismatch"
	IssueGaps              IssueKind = "gaps"
	IssuePendingCorrection IssueKind = "pending_correction"
)

// Issue is one anomaly on one record.
type Issue struct {
	Key    string    `json:"key"`
	Kind   IssueKind `json:"kind"`
	Detail string    `json:"detail"`
}

// AuditOptions sets the audit thresholds.
type AuditOptions struct {
	MinTextLength int
}

// Audit inspects events without modifying them.
func Audit(events []domain.CuratedEvent, opts AuditOptions) []Issue {
	var issues []Issue
	for _, e := range events {
		issues = append(issues, auditEvent(e, opts)...)
	}
	return issues
}

func auditEvent(e domain.CuratedEvent, opts AuditOptions) []Issue {
	key := e.Key().String()
	var issues []Issue
	add := func(kind IssueKind, format string, args ...any) {
		issues = append(issues, Issue{Key: key, Kind: kind, Detail: fmt.Sprintf(format, args...)})
	}

	text := strings.TrimSpace(e.Description)
	switch n := utf8.RuneCountInString(text); {
	case n == 0:
		add(IssueMissingText, "description is empty")
	case n < opts.MinTextLength:
		add(IssueShortText, "description has %d characters, minimum %d", n, opts.MinTextLength)
	}

	w := e.Window
	if w.Len() > 0 {
		if spread := priceRange(w.Candles); spread.IsPositive() {
			labels := make([]string, 0, len(e.Moves))
			for label := range e.Moves {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			for _, label := range labels {
				if v, ok := e.Moves.Get(label); ok && v.IsZero() {
					add(IssueZeroMove, "%s move is 0%% while the window ranges %s", label, spread.String())
				}
			}
		}

		if expected := w.ExpectedCandles(); expected > 0 && w.Len() != expected {
			add(IssueCandleCount, "window has %d candles, %s/%s implies %d", w.Len(), w.Before+w.After, w.Interval, expected)
		}
		if expected := w.ExpectedOffset(); w.Before > 0 && w.RefIndex != expected {
			add(IssueReferenceOffset, "reference index %d, declared offset %d", w.RefIndex, expected)
		}
		if err := w.CheckReference(e.ClaimedAt); err != nil {
			add(IssueReferenceMismatch, "%v", err)
		}
		if gaps := w.Gaps(); len(gaps) > 0 {
			missing := 0
			for _, g := range gaps {
				missing += g.Missing
			}
			add(IssueGaps, "%d gaps, %d candles missing", len(gaps), missing)
		}
	}

	if e.SuggestedAt != nil {
		add(IssuePendingCorrection, "%s impulse suggests %s", e.Classification, e.SuggestedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return issues
}

func priceRange(candles []domain.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	lo, hi := candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		lo = decimal.Min(lo, c.Low)
		hi = decimal.Max(hi, c.High)
	}
	return hi.Sub(lo)
}
