package kernel

import (
	"math"

	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/bostonrobbie/marcus/internal/indicator"
	"github.com/bostonrobbie/marcus/internal/stratspec"
)

// runMACrossover implements the moving average crossover archetype:
// long while the short SMA is above the long SMA, short while below,
// flat during warmup.
func runMACrossover(bt *barstore.BarTable, spec stratspec.Spec) ([]int, error) {
	n := bt.Len()
	signals := make([]int, n)

	shortWindow := spec.IntParam("short_window", 50)
	longWindow := spec.IntParam("long_window", 200)

	shortMA := indicator.SMA(bt.Close, shortWindow)
	longMA := indicator.SMA(bt.Close, longWindow)

	for i := 0; i < n; i++ {
		if math.IsNaN(longMA[i]) {
			signals[i] = 0
			continue
		}
		switch {
		case shortMA[i] > longMA[i]:
			signals[i] = 1
		case shortMA[i] < longMA[i]:
			signals[i] = -1
		default:
			signals[i] = 0
		}
	}
	return signals, nil
}
