package curator

import (
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"impact-curator/internal/domain"
)

// Heuristic labels written to Spike.Heuristic.
const (
	HeuristicEconomicRelease = "economic_release"
	HeuristicFOMC            = "fomc"
)

const (
	fomcStatementTime = "14:00"
	defaultTolerance  = 15 * time.Minute
)

// Match is a candidate attribution. It is never authoritative.
type Match struct {
	Label      string
	Title      string
	Confidence float64
	// At is the scheduled instant of the matched event.
	At time.Time
}

// HeuristicConfig configures the time-of-day matchers.
type HeuristicConfig struct {
	// ReleaseTime is the local HH:MM of scheduled economic releases.
	ReleaseTime string
	Zone        string
	// FOMCDates are YYYY-MM-DD statement days.
	FOMCDates []string
	Tolerance time.Duration
}

type rule struct {
	label      string
	confidence float64
	// instants lists the local event instants that could fall near t.
	instants func(t time.Time) []time.Time
	title    func(at time.Time) string
}

// Matcher attaches candidate titles to spikes from time-of-day patterns.
type Matcher struct {
	rules     []rule
	tolerance time.Duration
}

// NewMatcher compiles the configured rules.
func NewMatcher(cfg HeuristicConfig) (*Matcher, error) {
	zone := cfg.Zone
	if zone == "" {
		zone = "America/New_York"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load release zone: %w", err)
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}

	m := &Matcher{tolerance: tolerance}

	if cfg.ReleaseTime != "" {
		hh, mm, err := parseClock(cfg.ReleaseTime)
		if err != nil {
			return nil, fmt.Errorf("release time: %w", err)
		}
		m.rules = append(m.rules, rule{
			label:      HeuristicEconomicRelease,
			confidence: 0.6,
			instants: func(t time.Time) []time.Time {
				var out []time.Time
				for _, day := range nearbyDays(t, loc) {
					if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
						continue
					}
					out = append(out, time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc))
				}
				return out
			},
			title: func(at time.Time) string {
				return fmt.Sprintf("US economic data release %s %s", at.In(loc).Format("2006-01-02 15:04"), at.In(loc).Format("MST"))
			},
		})
	}

	if len(cfg.FOMCDates) > 0 {
		hh, mm, _ := parseClock(fomcStatementTime)
		days := make([]time.Time, 0, len(cfg.FOMCDates))
		for _, raw := range cfg.FOMCDates {
			d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), loc)
			if err != nil {
				return nil, fmt.Errorf("fomc date %q: %w", raw, err)
			}
			days = append(days, time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, loc))
		}
		sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
		m.rules = append(m.rules, rule{
			label:      HeuristicFOMC,
			confidence: 0.8,
			instants:   func(time.Time) []time.Time { return days },
			title: func(at time.Time) string {
				return "FOMC statement " + at.In(loc).Format("2006-01-02")
			},
		})
	}
	return m, nil
}

// Match returns the highest-confidence rule whose event instant falls inside the
// candle [t, t+interval) widened by the tolerance.
func (m *Matcher) Match(t time.Time, interval time.Duration) (Match, bool) {
	if m == nil {
		return Match{}, false
	}
	from := t.Add(-m.tolerance)
	to := t.Add(interval + m.tolerance)

	var best Match
	found := false
	for _, r := range m.rules {
		for _, at := range r.instants(t) {
			if at.Before(from) || !at.Before(to) {
				continue
			}
			if !found || r.confidence > best.Confidence {
				best = Match{Label: r.label, Title: r.title(at), Confidence: r.confidence, At: at.UTC()}
				found = true
			}
		}
	}
	return best, found
}

// Annotate fills the candidate fields of a spike that has none and returns the
// match it used. Status is untouched.
func (m *Matcher) Annotate(s domain.Spike, interval time.Duration) (domain.Spike, Match, bool) {
	if s.CandidateTitle != "" {
		return s, Match{}, false
	}
	match, ok := m.Match(s.Time, interval)
	if ok {
		s.CandidateTitle = match.Title
		s.Confidence = match.Confidence
		s.Heuristic = match.Label
	}
	return s, match, ok
}

// CandidateEvent is the curated event a match proposes. It stays a candidate until
// research confirms it.
func (m Match) CandidateEvent(producedAt time.Time) domain.CuratedEvent {
	return domain.CuratedEvent{
		Title:      m.Title,
		ClaimedAt:  m.At,
		Class:      "macro",
		Source:     "heuristic:" + m.Label,
		Status:     domain.EventCandidate,
		ProducedAt: producedAt,
	}
}

func parseClock(v string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// nearbyDays returns the local calendar days around t.
func nearbyDays(t time.Time, loc *time.Location) []time.Time {
	local := t.In(loc)
	base := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return []time.Time{base.AddDate(0, 0, -1), base, base.AddDate(0, 0, 1)}
}
