// Package backtest implements the vectorized backtest engine,
// component D: it takes a kernel's signal sequence, applies the
// one-bar execution lag and the futures-aware transaction cost model,
// and produces an equity curve plus a reconstructed trade list.
//
// Costs are commission + fixed slippage + a volatility-scaled
// slippage term, all expressed as a fraction of notional
// (price * point_value) rather than per-share, because futures
// contracts price costs per-contract, not per dollar of exposure.
package backtest

import (
	"fmt"
	"math"

	"github.com/bostonrobbie/marcus/internal/barstore"
)

// Config carries the engine's cost-model and sizing parameters.
type Config struct {
	InitialCapital   float64
	Commission       float64
	Slippage         float64
	VolatilityFactor float64
	PointValue       float64
}

// Result is the backtest output bundle: the
// lagged position series, per-bar net returns, per-bar turnover, the
// equity curve, and the reconstructed trade list.
type Result struct {
	Positions []float64
	Returns   []float64
	Turnover  []float64
	Equity    []float64
	Trades    []Trade
	NumBars   int
}

// Trade is one closed position, reconstructed by scanning the lagged
// position series for entry/exit transitions.
type Trade struct {
	EntryIndex int
	ExitIndex  int
	Direction  int // 1 long, -1 short
	EntryPrice float64
	ExitPrice  float64
	ReturnPct  float64
}

// Run applies signals to bt under the one-bar execution lag and the
// futures-aware cost model, returning the full result bundle.
// signals must have the same length as bt; an empty bar table
// produces an empty, zero-length result without error.
func Run(bt *barstore.BarTable, signals []int, cfg Config) (*Result, error) {
	n := bt.Len()
	if len(signals) != n {
		return nil, fmt.Errorf("backtest: signals length %d does not match bar count %d", len(signals), n)
	}
	if n == 0 {
		return &Result{}, nil
	}

	positions := make([]float64, n)
	for i := 1; i < n; i++ {
		positions[i] = float64(signals[i-1])
	}
	// positions[0] stays 0: there is no prior bar's signal to lag from.

	returns := make([]float64, n)
	for i := 1; i < n; i++ {
		if bt.Close[i-1] == 0 {
			returns[i] = 0
			continue
		}
		returns[i] = (bt.Close[i] - bt.Close[i-1]) / bt.Close[i-1]
	}

	turnover := make([]float64, n)
	for i := 1; i < n; i++ {
		turnover[i] = math.Abs(positions[i] - positions[i-1])
	}

	netReturns := make([]float64, n)
	for i := 0; i < n; i++ {
		grossReturn := positions[i] * returns[i]

		volatility := math.Abs(bt.High[i] - bt.Low[i])
		totalCostDollars := cfg.Commission + cfg.Slippage + volatility*cfg.VolatilityFactor

		price := bt.Close[i]
		if price == 0 {
			price = safeNonZeroPrice(bt.Close, i)
		}
		notional := price * cfg.PointValue
		var costPct float64
		if notional != 0 {
			costPct = totalCostDollars / notional
		}

		transactionCost := turnover[i] * costPct
		netReturns[i] = grossReturn - transactionCost
	}

	equity := make([]float64, n)
	capital := cfg.InitialCapital
	for i := 0; i < n; i++ {
		if capital > 0 {
			capital *= 1 + netReturns[i]
			if capital < 0 {
				capital = 0
			}
		}
		equity[i] = capital
	}

	trades := reconstructTrades(bt, positions)

	return &Result{
		Positions: positions,
		Returns:   netReturns,
		Turnover:  turnover,
		Equity:    equity,
		Trades:    trades,
		NumBars:   n,
	}, nil
}

// safeNonZeroPrice forward-fills from the nearest earlier nonzero
// close, or falls back to 1.0, so a zero-price bar cannot collapse
// the notional denominator.
func safeNonZeroPrice(closes []float64, i int) float64 {
	for j := i - 1; j >= 0; j-- {
		if closes[j] != 0 {
			return closes[j]
		}
	}
	return 1.0
}

// reconstructTrades scans the lagged position series for nonzero runs
// and records each as a trade spanning its entry and exit bar.
func reconstructTrades(bt *barstore.BarTable, positions []float64) []Trade {
	var trades []Trade
	n := len(positions)

	entryIdx := -1
	direction := 0

	for i := 0; i < n; i++ {
		cur := int(positions[i])
		if cur != 0 && direction == 0 {
			entryIdx = i
			direction = cur
			continue
		}
		if cur != direction && direction != 0 {
			trades = append(trades, makeTrade(bt, entryIdx, i-1, direction))
			if cur != 0 {
				entryIdx = i
				direction = cur
			} else {
				entryIdx = -1
				direction = 0
			}
		}
	}
	if direction != 0 && entryIdx >= 0 {
		trades = append(trades, makeTrade(bt, entryIdx, n-1, direction))
	}
	return trades
}

func makeTrade(bt *barstore.BarTable, entryIdx, exitIdx, direction int) Trade {
	entryPrice := bt.Close[entryIdx]
	exitPrice := bt.Close[exitIdx]
	var ret float64
	if entryPrice != 0 {
		ret = float64(direction) * (exitPrice - entryPrice) / entryPrice
	}
	return Trade{
		EntryIndex: entryIdx,
		ExitIndex:  exitIdx,
		Direction:  direction,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		ReturnPct:  ret,
	}
}
