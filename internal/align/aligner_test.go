package align

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impact-curator/internal/domain"
	"impact-curator/internal/impulse"
)

var claimed = time.Date(2024, 6, 12, 12, 30, 0, 0, time.UTC)

func found(at time.Time) impulse.Result {
	return impulse.Result{Found: true, Index: 1, Time: at}
}

func TestAlignTenSecondsIsAligned(t *testing.T) {
	r := Align(claimed, found(claimed.Add(10*time.Second)), DefaultPolicies().Default)
	assert.Equal(t, domain.AlignmentAligned, r.Classification)
	require.NotNil(t, r.LagSeconds())
	assert.Equal(t, 10.0, *r.LagSeconds())
	assert.Nil(t, r.SuggestedAt)
}

func TestAlignLateProposesCorrection(t *testing.T) {
	impulseAt := claimed.Add(400 * time.Second)
	r := Align(claimed, found(impulseAt), Policy{EarlyThreshold: 5 * time.Second, LateThreshold: 300 * time.Second})

	assert.Equal(t, domain.AlignmentLate, r.Classification)
	require.NotNil(t, r.SuggestedAt)
	assert.True(t, r.SuggestedAt.Equal(impulseAt))
	assert.True(t, r.ClaimedAt.Equal(claimed), "claimed time is never rewritten")
	assert.Equal(t, 400.0, *r.LagSeconds())
}

func TestAlignEarlyIsNegativeLag(t *testing.T) {
	r := Align(claimed, found(claimed.Add(-20*time.Second)), DefaultPolicies().Default)
	assert.Equal(t, domain.AlignmentEarly, r.Classification)
	assert.Equal(t, -20.0, *r.LagSeconds())
	require.NotNil(t, r.SuggestedAt)
}

func TestAlignBoundariesAreInclusive(t *testing.T) {
	p := Policy{EarlyThreshold: 5 * time.Second, LateThreshold: 60 * time.Second}
	assert.Equal(t, domain.AlignmentAligned, p.Classify(-5*time.Second))
	assert.Equal(t, domain.AlignmentAligned, p.Classify(60*time.Second))
	assert.Equal(t, domain.AlignmentEarly, p.Classify(-6*time.Second))
	assert.Equal(t, domain.AlignmentLate, p.Classify(61*time.Second))
}

func TestAlignNoImpulseIsUndetermined(t *testing.T) {
	r := Align(claimed, impulse.Result{Index: -1}, DefaultPolicies().Default)
	assert.Equal(t, domain.AlignmentUndetermined, r.Classification)
	assert.Nil(t, r.Lag)
	assert.Nil(t, r.LagSeconds())
	assert.Nil(t, r.SuggestedAt)
}

func TestPoliciesByClass(t *testing.T) {
	p := DefaultPolicies()
	lag := 120 * time.Second
	assert.Equal(t, domain.AlignmentAligned, p.For("macro").Classify(lag))
	assert.Equal(t, domain.AlignmentLate, p.For(" Tweet ").Classify(lag))
	assert.Equal(t, p.Default, p.For("unknown"))
	require.NoError(t, p.Validate())

	p.Classes["bad"] = Policy{LateThreshold: -time.Second}
	assert.Error(t, p.Validate())
}
