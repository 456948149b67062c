package service

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"impact-curator/internal/curator"
	"impact-curator/internal/domain"
	"impact-curator/internal/report"
)

// Claim is a researcher-supplied event with the time it reportedly happened.
type Claim struct {
	Title       string `json:"title"`
	ClaimedAt   string `json:"claimed_timestamp"`
	Description string `json:"description,omitempty"`
	Class       string `json:"class,omitempty"`
	Source      string `json:"source,omitempty"`
}

func (c Claim) key(i int) string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t + "|" + c.ClaimedAt
	}
	return "claim#" + strconv.Itoa(i)
}

// Event converts the claim into an unverified curated event.
func (c Claim) Event(producedAt time.Time) (domain.CuratedEvent, error) {
	ts, err := domain.ParseTimestamp(c.ClaimedAt)
	if err != nil {
		return domain.CuratedEvent{}, err
	}
	event := domain.CuratedEvent{
		Title:       c.Title,
		ClaimedAt:   ts,
		Description: c.Description,
		Class:       c.Class,
		Source:      c.Source,
		Status:      domain.EventUnverified,
		ProducedAt:  producedAt,
	}.Normalize()
	if err := event.Validate(); err != nil {
		return domain.CuratedEvent{}, err
	}
	return event, nil
}

// LoadClaims reads a JSON array of claims.
func LoadClaims(path string) ([]Claim, error) {
	var claims []Claim
	if err := readJSON(path, &claims); err != nil {
		return nil, fmt.Errorf("load claims: %w", err)
	}
	return claims, nil
}

// FindingRecord is the file form of a research finding.
type FindingRecord struct {
	Symbol      string `json:"symbol,omitempty"`
	SpikeTime   string `json:"spike_time,omitempty"`
	Title       string `json:"title,omitempty"`
	ClaimedAt   string `json:"claimed_timestamp,omitempty"`
	Description string `json:"description,omitempty"`
	Class       string `json:"class,omitempty"`
	Source      string `json:"source,omitempty"`
	Decision    string `json:"decision"`
}

// Finding parses timestamps and the decision.
func (r FindingRecord) Finding() (curator.Finding, error) {
	f := curator.Finding{
		Symbol:      strings.TrimSpace(r.Symbol),
		Title:       strings.TrimSpace(r.Title),
		Description: r.Description,
		Class:       r.Class,
		Source:      r.Source,
	}
	decision, err := domain.ParseSpikeStatus(strings.ToLower(strings.TrimSpace(r.Decision)))
	if err != nil {
		return curator.Finding{}, fmt.Errorf("%w: %v", domain.ErrInvalidTransition, err)
	}
	f.Decision = decision

	if strings.TrimSpace(r.SpikeTime) != "" {
		ts, err := domain.ParseTimestamp(r.SpikeTime)
		if err != nil {
			return curator.Finding{}, fmt.Errorf("spike_time: %w", err)
		}
		f.SpikeTime = &ts
	}
	if strings.TrimSpace(r.ClaimedAt) != "" {
		ts, err := domain.ParseTimestamp(r.ClaimedAt)
		if err != nil {
			return curator.Finding{}, fmt.Errorf("claimed_timestamp: %w", err)
		}
		f.ClaimedAt = ts
	}
	return f, nil
}

// LoadFindings reads a JSON array of findings. Records with malformed timestamps
// or decisions are reported in batch and skipped.
func LoadFindings(path string, batch *report.Batch) ([]curator.Finding, error) {
	var records []FindingRecord
	if err := readJSON(path, &records); err != nil {
		return nil, fmt.Errorf("load findings: %w", err)
	}
	out := make([]curator.Finding, 0, len(records))
	for i, rec := range records {
		f, err := rec.Finding()
		if err != nil {
			batch.Fail(fmt.Sprintf("finding#%d", i), err)
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// LoadEvents reads a JSON array of curated events, e.g. a dataset export.
func LoadEvents(path string) ([]domain.CuratedEvent, error) {
	var events []domain.CuratedEvent
	if err := readJSON(path, &events); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
