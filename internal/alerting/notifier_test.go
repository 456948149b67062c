package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impact-curator/internal/domain"
)

var spikeAt = time.Date(2024, 3, 12, 12, 30, 0, 0, time.UTC)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := SpikeNotification(domain.Spike{
		Symbol:         "BTCUSDT",
		Time:           spikeAt,
		ReturnPct:      -3.25,
		ZScore:         4.5,
		CandidateTitle: "US economic data release",
		Confidence:     0.6,
	})

	require.NoError(t, notifier.Notify(context.Background(), note))
	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "BTCUSDT")
	assert.Contains(t, received["text"], "-3.25%")
	assert.Contains(t, received["text"], "unverified")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), SpikeNotification(domain.Spike{Symbol: "BTCUSDT", Time: spikeAt}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	require.Error(t, notifier.Notify(context.Background(), SpikeNotification(domain.Spike{Symbol: "BTCUSDT", Time: spikeAt})))
}

func TestCorrectionNotification(t *testing.T) {
	_, ok := CorrectionNotification(domain.CuratedEvent{Title: "CPI", ClaimedAt: spikeAt})
	assert.False(t, ok)

	suggested := spikeAt.Add(400 * time.Second)
	lag := 400.0
	note, ok := CorrectionNotification(domain.CuratedEvent{
		Title:          "CPI",
		ClaimedAt:      spikeAt,
		SuggestedAt:    &suggested,
		LagSeconds:     &lag,
		Classification: domain.AlignmentLate,
	})
	require.True(t, ok)
	text := renderMessage(note)
	assert.Contains(t, text, "CPI")
	assert.Contains(t, text, "+400s (LATE)")
	assert.Contains(t, text, suggested.Format(time.RFC3339))
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
