package report

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impact-curator/internal/domain"
	"impact-curator/internal/impulse"
)

func TestClassify(t *testing.T) {
	cases := map[Kind]error{
		KindInsufficientData:    fmt.Errorf("window: %w", domain.ErrInsufficientData),
		KindDegenerateStatistic: domain.ErrDegenerateStatistic,
		KindNoImpulseFound:      fmt.Errorf("claim x: %w", impulse.ErrNoImpulseFound),
		KindMalformedTimestamp:  fmt.Errorf("row 3: %w", domain.ErrMalformedTimestamp),
		KindInvalidTransition:   domain.ErrInvalidTransition,
		KindStorage:             fmt.Errorf("%w: disk full", ErrStorage),
		KindOther:               fmt.Errorf("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Classify(err), err.Error())
	}
	assert.Equal(t, Kind(""), Classify(nil))
}

func TestBatchCountsAndLogs(t *testing.T) {
	b := NewBatch("analyze", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b.Success()
	b.Success()
	b.Skip("a", "already verified")
	kind := b.Fail("b", impulse.ErrNoImpulseFound)
	b.Decide("c", "merge", "newer produced_at")

	assert.Equal(t, KindNoImpulseFound, kind)
	assert.Equal(t, 2, b.Processed)
	assert.Equal(t, 1, b.Skipped)
	assert.Equal(t, 1, b.Failed)
	assert.True(t, b.HasFailures())
	assert.Equal(t, map[Kind]int{KindNoImpulseFound: 1}, b.CountByKind())
	require.Len(t, b.Decisions, 2)

	var buf bytes.Buffer
	b.Log(zerolog.New(&buf))
	out := buf.String()
	assert.Contains(t, out, `"kind":"no_impulse_found"`)
	assert.Contains(t, out, `"msg":"batch complete"`)
	assert.Contains(t, out, b.RunID.String())
}
