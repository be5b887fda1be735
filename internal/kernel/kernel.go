// Package kernel implements the strategy archetypes: opening range
// breakout, moving average crossover, and overnight session fade.
// Each kernel consumes a bar table and a stratspec.Spec and returns a
// causal signal sequence in {-1, 0, 1}; the backtest engine applies
// the execution lag. All three are tight single-pass loops over
// float64 slices.
package kernel

import (
	"fmt"
	"time"

	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/bostonrobbie/marcus/internal/stratspec"
)

// Kernel generates a signal sequence for one strategy spec over one
// bar table. Signals are in {-1, 0, 1}; the backtest engine applies
// the one-bar execution lag, not the kernel.
type Kernel func(bt *barstore.BarTable, spec stratspec.Spec) ([]int, error)

// Registry dispatches an archetype to its kernel function.
var Registry = map[stratspec.Archetype]Kernel{
	stratspec.ArchetypeORB:         runORB,
	stratspec.ArchetypeMACrossover: runMACrossover,
	stratspec.ArchetypeOvernight:   runOvernightFade,
}

// Run dispatches spec.Archetype to its kernel.
func Run(bt *barstore.BarTable, spec stratspec.Spec) ([]int, error) {
	k, ok := Registry[spec.Archetype]
	if !ok {
		return nil, fmt.Errorf("kernel: no kernel registered for archetype %q", spec.Archetype)
	}
	return k(bt, spec)
}

// dayOrdinals converts a timestamp column to calendar-date ordinals.
// NQ and similar instruments trade nearly 24 hours, so comparing
// minute-of-day against the previous bar cannot reliably detect a new
// session -- a bar at 23:55 is "less than" one at 00:05 even though
// the latter is the next session. Collapsing the calendar date to a
// single order-preserving ordinal makes day changes a plain integer
// comparison.
func dayOrdinals(ts []time.Time) []int {
	out := make([]int, len(ts))
	for i, t := range ts {
		y, m, d := t.Date()
		out[i] = y*372 + int(m)*31 + d // monotonic, not a real ordinal, just order-preserving
	}
	return out
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func parseMinute(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("kernel: invalid time %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
