package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA_WarmupIsNaN(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	out := SMA(vals, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	require.False(t, math.IsNaN(out[2]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
}

func TestEMA_SeedsWithSMA(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6, 7}
	out := EMA(vals, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9) // SMA(1,2,3)
	alpha := 2.0 / 4.0
	expected := alpha*4 + (1-alpha)*2.0
	assert.InDelta(t, expected, out[3], 1e-9)
}

func TestTrueRange_FirstBarIsHighMinusLow(t *testing.T) {
	high := []float64{10, 12}
	low := []float64{8, 9}
	close := []float64{9, 11}
	tr := TrueRange(high, low, close)
	assert.InDelta(t, 2.0, tr[0], 1e-9)
	// max(12-9, |12-9|, |9-9|) = 3
	assert.InDelta(t, 3.0, tr[1], 1e-9)
}

func TestATR_CausalWarmup(t *testing.T) {
	high := []float64{10, 11, 12, 13, 14, 15}
	low := []float64{9, 10, 11, 12, 13, 14}
	close := []float64{9.5, 10.5, 11.5, 12.5, 13.5, 14.5}
	out := ATR(high, low, close, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	require.False(t, math.IsNaN(out[2]))
}

func TestADX_NeverNegative(t *testing.T) {
	high := []float64{10, 11, 10.5, 12, 13, 12.5, 14, 15, 14.5, 16, 17, 16.5, 18, 19, 18.5, 20}
	low := []float64{9, 10, 9.5, 11, 12, 11.5, 13, 14, 13.5, 15, 16, 15.5, 17, 18, 17.5, 19}
	close := []float64{9.5, 10.5, 10, 11.5, 12.5, 12, 13.5, 14.5, 14, 15.5, 16.5, 16, 17.5, 18.5, 18, 19.5}
	out := ADX(high, low, close, 5)
	for _, v := range out {
		if !math.IsNaN(v) {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 100.0)
		}
	}
}

func TestEfficiencyRatio_StraightTrendIsOne(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6}
	out := EfficiencyRatio(closes, 3)
	require.False(t, math.IsNaN(out[3]))
	assert.InDelta(t, 1.0, out[3], 1e-9)
}

func TestEfficiencyRatio_ChoppyIsLow(t *testing.T) {
	closes := []float64{1, 2, 1, 2, 1, 2}
	out := EfficiencyRatio(closes, 4)
	require.False(t, math.IsNaN(out[4]))
	assert.Less(t, out[4], 0.5)
}

func TestResampleDailyLastShiftForward_NoLookahead(t *testing.T) {
	dayOrdinal := []int{0, 0, 0, 1, 1, 2}
	closes := []float64{100, 101, 102, 200, 201, 300}
	out := ResampleDailyLastShiftForward(dayOrdinal, closes, 1)

	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.True(t, math.IsNaN(out[2]))
	// day 1 bars see day 0's completed close (102)
	assert.InDelta(t, 102.0, out[3], 1e-9)
	assert.InDelta(t, 102.0, out[4], 1e-9)
	// day 2 bars see day 1's completed close (201)
	assert.InDelta(t, 201.0, out[5], 1e-9)
}
