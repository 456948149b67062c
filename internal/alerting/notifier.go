// Package alerting pushes spike and timestamp-correction notices to operators.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"impact-curator/internal/domain"
	"impact-curator/internal/logging"
)

// Kind distinguishes notification templates.
type Kind string

const (
	KindSpike      Kind = "spike"
	KindCorrection Kind = "correction"
)

// Notification carries the context of one alert.
type Notification struct {
	Kind   Kind
	Symbol string
	At     time.Time

	ReturnPct  float64
	ZScore     float64
	Candidate  string
	Confidence float64

	Title          string
	SuggestedAt    time.Time
	LagSeconds     float64
	Classification domain.Alignment
}

// SpikeNotification describes a freshly recorded spike.
func SpikeNotification(s domain.Spike) Notification {
	return Notification{
		Kind:       KindSpike,
		Symbol:     s.Symbol,
		At:         s.Time,
		ReturnPct:  s.ReturnPct,
		ZScore:     s.ZScore,
		Candidate:  s.CandidateTitle,
		Confidence: s.Confidence,
	}
}

// CorrectionNotification describes a proposed timestamp correction. ok is false
// when the event carries no proposal.
func CorrectionNotification(e domain.CuratedEvent) (Notification, bool) {
	if e.SuggestedAt == nil {
		return Notification{}, false
	}
	note := Notification{
		Kind:           KindCorrection,
		Symbol:         e.Window.Symbol,
		At:             e.ClaimedAt,
		Title:          e.Title,
		SuggestedAt:    *e.SuggestedAt,
		Classification: e.Classification,
	}
	if e.LagSeconds != nil {
		note.LagSeconds = *e.LagSeconds
	}
	return note, true
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "alert_telegram"),
	}
}

// Notify calls sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().Str("kind", string(note.Kind)).
		Str("symbol", note.Symbol).
		Time("at", note.At).
		Msg("notification sent")
	return nil
}

func renderMessage(note Notification) string {
	var b strings.Builder
	switch note.Kind {
	case KindCorrection:
		b.WriteString("[Timestamp correction proposed]\n")
		fmt.Fprintf(&b, "Event: %s\n", note.Title)
		fmt.Fprintf(&b, "Claimed: %s UTC\n", note.At.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "Impulse: %s UTC\n", note.SuggestedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "Lag: %+.0fs (%s)\n", note.LagSeconds, note.Classification)
		b.WriteString("Apply with: impactcurator correct --confirm\n")
	default:
		fmt.Fprintf(&b, "[%s volatility spike]\n", note.Symbol)
		fmt.Fprintf(&b, "Candle: %s UTC\n", note.At.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "Return: %+.2f%%\n", note.ReturnPct)
		fmt.Fprintf(&b, "Z-score: %.2f\n", note.ZScore)
		if note.Candidate != "" {
			fmt.Fprintf(&b, "Candidate: %s (confidence %.2f, unverified)\n", note.Candidate, note.Confidence)
		}
	}
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
