// Package align compares a claimed event time with the located impulse and
// classifies the lag.
package align

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"impact-curator/internal/domain"
	"impact-curator/internal/impulse"
)

// Policy holds the lag tolerances for one class of events.
type Policy struct {
	// EarlyThreshold: lag < -EarlyThreshold is EARLY.
	EarlyThreshold time.Duration
	// LateThreshold: lag > LateThreshold is LATE.
	LateThreshold time.Duration
}

// Validate rejects negative tolerances.
func (p Policy) Validate() error {
	if p.EarlyThreshold < 0 {
		return fmt.Errorf("early threshold cannot be negative")
	}
	if p.LateThreshold < 0 {
		return fmt.Errorf("late threshold cannot be negative")
	}
	return nil
}

// Classify maps a signed lag onto EARLY / ALIGNED / LATE.
func (p Policy) Classify(lag time.Duration) domain.Alignment {
	switch {
	case lag < -p.EarlyThreshold:
		return domain.AlignmentEarly
	case lag > p.LateThreshold:
		return domain.AlignmentLate
	default:
		return domain.AlignmentAligned
	}
}

// Policies selects a Policy by event class, falling back to Default.
type Policies struct {
	Default Policy
	Classes map[string]Policy
}

// DefaultPolicies carries the built-in classes: macro data releases propagate
// slower than tweet-driven moves.
func DefaultPolicies() Policies {
	return Policies{
		Default: Policy{EarlyThreshold: 5 * time.Second, LateThreshold: 300 * time.Second},
		Classes: map[string]Policy{
			"macro": {EarlyThreshold: 5 * time.Second, LateThreshold: 300 * time.Second},
			"tweet": {EarlyThreshold: 5 * time.Second, LateThreshold: 60 * time.Second},
		},
	}
}

// For returns the policy for class (case-insensitive).
func (p Policies) For(class string) Policy {
	if policy, ok := p.Classes[strings.ToLower(strings.TrimSpace(class))]; ok {
		return policy
	}
	return p.Default
}

// Validate checks every policy.
func (p Policies) Validate() error {
	if err := p.Default.Validate(); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}
	names := make([]string, 0, len(p.Classes))
	for name := range p.Classes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := p.Classes[name].Validate(); err != nil {
			return fmt.Errorf("class %s: %w", name, err)
		}
	}
	return nil
}

// Report is the outcome of aligning one claim.
type Report struct {
	ClaimedAt      time.Time
	ImpulseAt      *time.Time
	Lag            *time.Duration
	Classification domain.Alignment
	// SuggestedAt is a proposed correction for operator review; it is never applied here.
	SuggestedAt *time.Time
}

// LagSeconds returns the lag in seconds, or nil when undetermined.
func (r Report) LagSeconds() *float64 {
	if r.Lag == nil {
		return nil
	}
	secs := r.Lag.Seconds()
	return &secs
}

// Align computes lag = impulse - claimed. A negative result from the locator
// yields UNDETERMINED with no lag, never a zero lag.
func Align(claimed time.Time, res impulse.Result, policy Policy) Report {
	report := Report{ClaimedAt: claimed.UTC(), Classification: domain.AlignmentUndetermined}
	if !res.Found {
		return report
	}

	at := res.Time.UTC()
	lag := at.Sub(report.ClaimedAt)
	report.ImpulseAt = &at
	report.Lag = &lag
	report.Classification = policy.Classify(lag)

	if report.Classification != domain.AlignmentAligned {
		suggested := at
		report.SuggestedAt = &suggested
	}
	return report
}
