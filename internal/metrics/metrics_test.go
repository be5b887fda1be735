package metrics

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/bostonrobbie/marcus/internal/backtest"
	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharpe_ZeroStdDevIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Sharpe([]float64{0.01, 0.01, 0.01}))
}

func TestSharpe_PositiveMeanPositiveStdDev(t *testing.T) {
	returns := []float64{0.01, -0.005, 0.02, 0.0, 0.015}
	s := Sharpe(returns)
	assert.Greater(t, s, 0.0)
}

func TestProfitFactor_NoLossesIsInfinite(t *testing.T) {
	trades := []backtest.Trade{{ReturnPct: 0.05}, {ReturnPct: 0.02}}
	pf := ProfitFactor(trades)
	assert.True(t, pf > 1e300) // +Inf
}

func TestProfitFactor_NoTradesIsZero(t *testing.T) {
	assert.Equal(t, 0.0, ProfitFactor(nil))
}

func TestProfitFactor_MixedTrades(t *testing.T) {
	trades := []backtest.Trade{{ReturnPct: 0.10}, {ReturnPct: -0.05}}
	assert.InDelta(t, 2.0, ProfitFactor(trades), 1e-9)
}

func TestWinRate_Basic(t *testing.T) {
	trades := []backtest.Trade{{ReturnPct: 0.1}, {ReturnPct: -0.1}, {ReturnPct: 0.2}}
	assert.InDelta(t, 2.0/3.0, WinRate(trades), 1e-9)
}

func TestMaxDrawdownPct_SimplePeakToTrough(t *testing.T) {
	equity := []float64{100, 120, 90, 110}
	dd := MaxDrawdownPct(equity)
	// Peak 120, trough 90 -> (120-90)/120 = 25%
	assert.InDelta(t, 25.0, dd, 1e-9)
}

func TestMaxDrawdownPct_MonotonicRiseIsZero(t *testing.T) {
	equity := []float64{100, 110, 120, 130}
	assert.Equal(t, 0.0, MaxDrawdownPct(equity))
}

func TestCAGR_DoublingOverOneYear(t *testing.T) {
	equity := make([]float64, 252)
	equity[0] = 100
	equity[len(equity)-1] = 200
	cagr := CAGR(equity, 252)
	assert.InDelta(t, 1.0, cagr, 1e-6)
}

func TestMonteCarloVaR95_ResamplesTradePnLs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	trades := []backtest.Trade{
		{ReturnPct: -0.05}, {ReturnPct: -0.02}, {ReturnPct: 0.01},
		{ReturnPct: 0.03}, {ReturnPct: -0.01},
	}
	varVal := MonteCarloVaR95(trades, 500, rng)

	// Bounded by the all-worst-draws and all-best-draws compounded
	// paths.
	worst := math.Pow(1-0.05, 5) - 1
	best := math.Pow(1+0.03, 5) - 1
	assert.GreaterOrEqual(t, varVal, worst)
	assert.LessOrEqual(t, varVal, best)
	// A loss-heavy trade set's 5th percentile sits below zero.
	assert.Less(t, varVal, 0.0)
}

func TestMonteCarloVaR95_NoTradesIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	assert.Equal(t, 0.0, MonteCarloVaR95(nil, 100, rng))
}

// permutationFixture builds an alternating up/down bar series and the
// perfect-foresight signal sequence for it (long into every up bar,
// short into every down bar, via the one-bar execution lag).
func permutationFixture(nBars int) (*barstore.BarTable, []int) {
	bt := &barstore.BarTable{}
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	for i := 0; i < nBars; i++ {
		price := 100.0
		if i%2 == 1 {
			price = 110.0
		}
		bt.Timestamp = append(bt.Timestamp, base.Add(time.Duration(i)*time.Minute))
		bt.Open = append(bt.Open, price)
		bt.High = append(bt.High, price)
		bt.Low = append(bt.Low, price)
		bt.Close = append(bt.Close, price)
		bt.Volume = append(bt.Volume, 1.0)
	}
	signals := make([]int, nBars)
	for i := range signals {
		if i%2 == 0 {
			signals[i] = 1 // next bar rises to 110
		} else {
			signals[i] = -1 // next bar falls to 100
		}
	}
	return bt, signals
}

func TestPermutationPValue_ForesightSignalsScoreLow(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bt, signals := permutationFixture(24)
	cfg := backtest.Config{InitialCapital: 100000, PointValue: 1}

	res, err := backtest.Run(bt, signals, cfg)
	require.NoError(t, err)
	observed := AnnualizedSharpe(res.Returns, 252)

	// Every bar's gross return is positive under the foresight
	// signals; a random reordering almost never matches that, so the
	// permutation distribution sits far below the observed Sharpe.
	p := PermutationPValue(bt, signals, cfg, 252, observed, 200, rng)
	assert.Less(t, p, 0.05)
}

func TestPermutationPValue_EveryShuffleBeatsHopelessBenchmark(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bt, signals := permutationFixture(24)
	cfg := backtest.Config{InitialCapital: 100000, PointValue: 1}

	// Against a hopeless benchmark Sharpe every shuffle's Sharpe is at
	// least as high, so the p-value is exactly 1.
	p := PermutationPValue(bt, signals, cfg, 252, -1e9, 50, rng)
	assert.Equal(t, 1.0, p)
}

func TestPermutationPValue_EmptyInputsAreOne(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := backtest.Config{InitialCapital: 100000, PointValue: 1}
	assert.Equal(t, 1.0, PermutationPValue(nil, nil, cfg, 252, 1.0, 10, rng))

	bt, signals := permutationFixture(8)
	assert.Equal(t, 1.0, PermutationPValue(bt, signals, cfg, 252, 1.0, 0, rng))
}

func TestDeflatedSharpe_BoundedZeroOne(t *testing.T) {
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = 0.001 * float64(i%3-1)
	}
	dsr := DeflatedSharpe(returns, 20)
	assert.GreaterOrEqual(t, dsr, 0.0)
	assert.LessOrEqual(t, dsr, 1.0)
}

func TestInvNormCDF_MedianIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, invNormCDF(0.5), 1e-9)
}

func TestNormCDF_RoundTripsInvNormCDF(t *testing.T) {
	for _, p := range []float64{0.01, 0.1, 0.5, 0.9, 0.99} {
		z := invNormCDF(p)
		assert.InDelta(t, p, normCDF(z), 1e-6)
	}
}
