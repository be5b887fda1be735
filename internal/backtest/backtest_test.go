package backtest

import (
	"testing"
	"time"

	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTable(close, high, low []float64) *barstore.BarTable {
	ts := make([]time.Time, len(close))
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	for i := range ts {
		ts[i] = base.Add(time.Duration(i) * time.Minute)
	}
	return &barstore.BarTable{
		Timestamp: ts,
		Close:     close,
		High:      high,
		Low:       low,
		Open:      close,
	}
}

func defaultConfig() Config {
	return Config{
		InitialCapital:   100000,
		Commission:       1.0,
		Slippage:         1.0,
		VolatilityFactor: 0.01,
		PointValue:       20.0,
	}
}

func TestRun_EmptyBarTable(t *testing.T) {
	bt := &barstore.BarTable{}
	res, err := Run(bt, nil, defaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, res.NumBars)
}

func TestRun_MismatchedSignalLengthIsError(t *testing.T) {
	bt := mkTable([]float64{100, 101}, []float64{101, 102}, []float64{99, 100})
	_, err := Run(bt, []int{1}, defaultConfig())
	require.Error(t, err)
}

func TestRun_SingleBarHasZeroPosition(t *testing.T) {
	bt := mkTable([]float64{100}, []float64{101}, []float64{99})
	res, err := Run(bt, []int{1}, defaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Positions, 1)
	assert.Equal(t, 0.0, res.Positions[0])
}

func TestRun_PositionLagAppliesSignalFromPriorBar(t *testing.T) {
	close := []float64{100, 101, 102, 101}
	high := []float64{100, 101, 102, 101}
	low := []float64{100, 101, 102, 101}
	bt := mkTable(close, high, low)
	signals := []int{1, 1, 0, 0}

	res, err := Run(bt, signals, defaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Positions[0])
	assert.Equal(t, 1.0, res.Positions[1]) // signals[0]
	assert.Equal(t, 1.0, res.Positions[2]) // signals[1]
	assert.Equal(t, 0.0, res.Positions[3]) // signals[2]
}

func TestRun_ConstantPriceBarsHaveZeroGrossReturn(t *testing.T) {
	n := 5
	close := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	for i := range close {
		close[i] = 100
		high[i] = 100
		low[i] = 100
	}
	bt := mkTable(close, high, low)
	signals := make([]int, n)
	for i := range signals {
		signals[i] = 1
	}

	res, err := Run(bt, signals, defaultConfig())
	require.NoError(t, err)

	// Flat prices -> zero market return every bar, but the initial
	// entry (turnover 1 at the bar the lagged position first becomes
	// nonzero) still pays a transaction cost, so equity dips then
	// holds flat.
	assert.Less(t, res.Equity[1], res.Equity[0])
	assert.Equal(t, res.Equity[1], res.Equity[len(res.Equity)-1])
}

func TestRun_CostModelMatchesFormula(t *testing.T) {
	close := []float64{100, 110}
	high := []float64{101, 112}
	low := []float64{99, 108}
	bt := mkTable(close, high, low)
	signals := []int{1, 1}
	cfg := defaultConfig()

	res, err := Run(bt, signals, cfg)
	require.NoError(t, err)

	// Bar 1: position=1 (lagged from signals[0]), return=(110-100)/100=0.10
	// turnover=|1-0|=1, volatility=|112-108|=4, cost_dollars=1+1+4*0.01=2.04
	// notional=110*20=2200, cost_pct=2.04/2200
	grossReturn := 1.0 * 0.10
	volatility := 4.0
	costDollars := cfg.Commission + cfg.Slippage + volatility*cfg.VolatilityFactor
	notional := 110.0 * cfg.PointValue
	costPct := costDollars / notional
	expectedNet := grossReturn - 1.0*costPct

	assert.InDelta(t, expectedNet, res.Returns[1], 1e-9)
}

func TestRun_BankruptcyIsTerminal(t *testing.T) {
	// A short position against a quadrupling price produces a net
	// return of -3 for that bar -- well past the -100% that would zero
	// out capital. Equity must clamp to 0 at bar 2 and stay at 0 at
	// bar 3, never going negative and never flipping back positive.
	close := []float64{100, 100, 400, 400}
	bt := mkTable(close, close, close)
	signals := []int{0, -1, 0, 0}

	res, err := Run(bt, signals, defaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Equity[2])
	assert.Equal(t, 0.0, res.Equity[3])
	for _, e := range res.Equity {
		assert.GreaterOrEqual(t, e, 0.0)
	}
}

func TestReconstructTrades_SimpleRoundTrip(t *testing.T) {
	close := []float64{100, 100, 105, 105, 103}
	high := close
	low := close
	bt := mkTable(close, high, low)
	signals := []int{1, 1, 1, 0, 0}

	res, err := Run(bt, signals, defaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.Equal(t, 1, trade.Direction)
	assert.Equal(t, 1, trade.EntryIndex)
	assert.Equal(t, 3, trade.ExitIndex)
}

func TestReconstructTrades_DirectReversalClosesAndOpens(t *testing.T) {
	close := []float64{100, 100, 105, 95}
	high := close
	low := close
	bt := mkTable(close, high, low)
	signals := []int{1, -1, -1, -1}

	res, err := Run(bt, signals, defaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, 1, res.Trades[0].Direction)
	assert.Equal(t, -1, res.Trades[1].Direction)
}
