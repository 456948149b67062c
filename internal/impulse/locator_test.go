package impulse

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impact-curator/internal/domain"
)

var claimed = time.Date(2024, 6, 12, 12, 30, 0, 0, time.UTC)

// flatWindow builds n one-second candles at 100 with volume 1, referenced at index 300.
func flatWindow(t *testing.T, n int) domain.Window {
	t.Helper()
	candles := make([]domain.Candle, n)
	first := claimed.Add(-300 * time.Second)
	for i := range candles {
		p := decimal.NewFromInt(100)
		candles[i] = domain.Candle{
			Time:   first.Add(time.Duration(i) * time.Second),
			Open:   p,
			High:   p,
			Low:    p,
			Close:  p,
			Volume: decimal.NewFromInt(1),
		}
	}
	w, err := domain.NewWindow("BTCUSDT", time.Second, 5*time.Minute, time.Duration(n-300)*time.Second, candles, claimed)
	require.NoError(t, err)
	require.Equal(t, 300, w.RefIndex)
	return w
}

func setClose(w domain.Window, i int, v float64) {
	w.Candles[i].Close = decimal.NewFromFloat(v)
}

func TestLocateJumpAtIndex310(t *testing.T) {
	w := flatWindow(t, 400)
	setClose(w, 310, 110)
	w.Candles[310].Volume = decimal.NewFromInt(10)

	res, err := Locate(w, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, 310, res.Index)
	assert.True(t, res.Time.Equal(claimed.Add(10*time.Second)))
	assert.Equal(t, TriggerBoth, res.Trigger)
	require.NotNil(t, res.VolMult)
	assert.InDelta(t, 10.0, *res.VolMult, 1e-9)
	assert.InDelta(t, 0.1, res.AbsReturn, 1e-12)
	assert.NoError(t, res.Err())
}

func TestLocateFlatSeriesFindsNothing(t *testing.T) {
	w := flatWindow(t, 400)

	res, err := Locate(w, DefaultConfig())
	assert.True(t, errors.Is(err, ErrNoImpulseFound))
	assert.False(t, res.Found)
	assert.Equal(t, -1, res.Index)
	assert.True(t, errors.Is(res.Err(), ErrNoImpulseFound))
	assert.Contains(t, res.Moves, "5m")
}

func TestLocateZeroVolumeIsNotATrigger(t *testing.T) {
	w := flatWindow(t, 400)
	for i := range w.Candles {
		w.Candles[i].Volume = decimal.Zero
	}
	w.Candles[320].Volume = decimal.NewFromInt(50)

	_, err := Locate(w, DefaultConfig())
	assert.True(t, errors.Is(err, ErrNoImpulseFound))
}

func TestLocateVolumeLedImpulse(t *testing.T) {
	w := flatWindow(t, 400)
	w.Candles[307].Volume = decimal.NewFromInt(12)

	res, err := Locate(w, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 307, res.Index)
	assert.Equal(t, TriggerVolume, res.Trigger)
	assert.Zero(t, res.AbsReturn)
}

func TestLocateModesAreDistinct(t *testing.T) {
	w := flatWindow(t, 400)
	setClose(w, 305, 100.5) // +0.5%
	setClose(w, 306, 100.5)
	setClose(w, 320, 103.515) // +3%
	for i := 321; i < 400; i++ {
		setClose(w, i, 103.515)
	}
	for i := 306; i < 320; i++ {
		setClose(w, i, 100.5)
	}

	first := DefaultConfig()
	res, err := Locate(w, first)
	require.NoError(t, err)
	assert.Equal(t, 305, res.Index)

	largest := DefaultConfig()
	largest.Mode = ModeLargestMove
	res, err = Locate(w, largest)
	require.NoError(t, err)
	assert.Equal(t, 320, res.Index)
	assert.Equal(t, ModeLargestMove, res.Mode)
	assert.InDelta(t, 0.03, res.AbsReturn, 1e-9)
}

func TestLocateCatchesLeakInsidePreMargin(t *testing.T) {
	w := flatWindow(t, 400)
	setClose(w, 290, 101) // 10s before the claim, inside the 30s margin
	setClose(w, 200, 105) // far outside the search window

	res, err := Locate(w, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 290, res.Index)
	assert.Equal(t, 270, res.SearchStart)
	assert.Equal(t, 399, res.SearchEnd)
}

func TestLocateIgnoresTriggersAfterSearchHorizon(t *testing.T) {
	w := flatWindow(t, 2400)
	setClose(w, 300+11*60, 110)

	res, err := Locate(w, DefaultConfig())
	assert.True(t, errors.Is(err, ErrNoImpulseFound))
	assert.Equal(t, 900, res.SearchEnd)
}

func TestMovesFiveMinuteExact(t *testing.T) {
	w := flatWindow(t, 700)
	setClose(w, 600, 105)

	moves := Moves(w, DefaultConfig().Horizons)
	five, ok := moves.Get("5m")
	require.True(t, ok)
	assert.True(t, five.Equal(decimal.NewFromInt(5)), "got %s", five)
	assert.Equal(t, "5.00", five.StringFixed(2))

	_, ok = moves.Get("30m")
	assert.False(t, ok, "30m needs 1800 trailing candles")
	v, present := moves["30m"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestMovesZeroIsDefined(t *testing.T) {
	w := flatWindow(t, 2400)
	moves := Moves(w, DefaultConfig().Horizons)
	for _, label := range []string{"5m", "30m"} {
		v, ok := moves.Get(label)
		require.True(t, ok, label)
		assert.True(t, v.IsZero())
	}
}

func TestMovesUndefinedOverGap(t *testing.T) {
	w := flatWindow(t, 700)
	w.Candles = append(w.Candles[:600:600], w.Candles[601:]...)
	moves := Moves(w, DefaultConfig().Horizons)
	_, ok := moves.Get("5m")
	assert.False(t, ok)
}

func TestLocateRejectsReferenceOnEdge(t *testing.T) {
	w := flatWindow(t, 400)
	w.RefIndex = 399
	_, err := Locate(w, DefaultConfig())
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestParseHorizons(t *testing.T) {
	hs, err := ParseHorizons([]string{"5m", " 30m", "5m", ""})
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, Horizon{Label: "30m", Duration: 30 * time.Minute}, hs[1])

	_, err = ParseHorizons([]string{"soon"})
	assert.Error(t, err)
	_, err = ParseHorizons([]string{"-5m"})
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Mode = "median"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Lookback = 0
	assert.Error(t, bad.Validate())
	assert.Equal(t, 30*time.Minute, DefaultConfig().MaxHorizon())
}
