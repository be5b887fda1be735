// Package complement implements the portfolio complementarity
// scorer. It quantifies how uncorrelated a candidate strategy's
// trading window is with a fixed reference portfolio of
// already-deployed strategies: minute-of-day set overlap (with
// cross-midnight handling), then a 25/35/20/10/5/5 point breakdown
// across time independence, regime complement, gap coverage, and
// session bonuses.
package complement

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const minutesPerDay = 1440

// Window is a time-of-day span, "HH:MM" to "HH:MM". End may be less
// than Start, meaning the window crosses midnight (e.g. an overnight
// session 18:00-08:00).
type Window struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Portfolio is the fixed reference-portfolio descriptor: the set of
// time windows the already-deployed strategies collectively occupy,
// plus the known gap windows where the portfolio has weak or no
// coverage. Loaded once at cycle start and passed by value to the
// scorer as an immutable value, not a live object.
type Portfolio struct {
	ActiveWindows   []Window          `yaml:"active_windows"`
	GapWindows      []Window          `yaml:"gap_windows"`
	ArchetypeTime   map[string]Window `yaml:"archetype_time_windows"`
	ArchetypeRegime map[string]string `yaml:"archetype_regime"`
}

// LoadPortfolio reads the reference portfolio descriptor from a YAML
// file at path.
func LoadPortfolio(path string) (Portfolio, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Portfolio{}, fmt.Errorf("complement: read %s: %w", path, err)
	}
	var p Portfolio
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Portfolio{}, fmt.Errorf("complement: parse %s: %w", path, err)
	}
	return p, nil
}

// DefaultPortfolio returns the compiled-in reference portfolio: the
// RTH morning and afternoon sessions, the overnight session, the
// documented gap windows (post-close dead zone, lunch hour,
// overnight-to-RTH transition), and the mean-reversion/choppy-range
// regime complement rule. Gap windows are disjoint from active
// windows -- the deployed strategies sit out the lunch hour, so RTH
// is split around it; a candidate covering exactly the active union
// therefore earns no gap or session bonus, only the regime bonus.
func DefaultPortfolio() Portfolio {
	return Portfolio{
		ActiveWindows: []Window{
			{Start: "09:30", End: "11:30"},
			{Start: "13:30", End: "15:45"},
			{Start: "18:05", End: "09:25"},
		},
		GapWindows: []Window{
			{Start: "15:45", End: "18:05"},
			{Start: "11:30", End: "13:30"},
			{Start: "09:25", End: "09:30"},
		},
		ArchetypeTime: map[string]Window{
			"orb":              {Start: "09:45", End: "15:45"},
			"ma_crossover":     {Start: "09:30", End: "15:45"},
			"overnight_fade":   {Start: "18:00", End: "08:00"},
			"lunch_range_fade": {Start: "11:30", End: "13:30"},
		},
		ArchetypeRegime: map[string]string{
			"orb":              "breakout",
			"ma_crossover":     "trend_following",
			"overnight_fade":   "mean_reversion",
			"lunch_range_fade": "mean_reversion",
		},
	}
}

func parseMinuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("complement: invalid time %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// minuteSet returns the set of minute-of-day indices covered by
// [startMin, endMin), unioning the wraparound half when the window
// crosses midnight (startMin > endMin).
func minuteSet(startMin, endMin int) []bool {
	set := make([]bool, minutesPerDay)
	if startMin <= endMin {
		for m := startMin; m < endMin; m++ {
			set[m] = true
		}
		return set
	}
	for m := startMin; m < minutesPerDay; m++ {
		set[m] = true
	}
	for m := 0; m < endMin; m++ {
		set[m] = true
	}
	return set
}

func unionInto(dst, src []bool) {
	for i, v := range src {
		if v {
			dst[i] = true
		}
	}
}

func countSet(set []bool) int {
	n := 0
	for _, v := range set {
		if v {
			n++
		}
	}
	return n
}

func intersectionCount(a, b []bool) int {
	n := 0
	for i := range a {
		if a[i] && b[i] {
			n++
		}
	}
	return n
}

// Breakdown is the per-factor detail behind a complementarity score.
type Breakdown struct {
	TimeOverlap      float64 // fraction of the candidate's minutes already covered by the portfolio, [0,1]
	RegimeComplement bool
	GapCoverage      bool
	CoversLunch      bool
	CoversPostClose  bool
}

// Result is the complementarity score plus its breakdown.
type Result struct {
	Score     float64
	Breakdown Breakdown
}

// windowFor resolves a candidate's time window: an explicit override
// if the caller supplies one, else the portfolio's archetype default.
func windowFor(archetype string, override *Window, portfolio Portfolio) (Window, bool) {
	if override != nil {
		return *override, true
	}
	w, ok := portfolio.ArchetypeTime[archetype]
	return w, ok
}

// Score computes the complementarity score for a candidate archetype
// trading during candidateWindow (or the portfolio's archetype
// default if candidateWindow is nil) against the reference
// portfolio.
func Score(archetype string, candidateWindow *Window, portfolio Portfolio) (Result, error) {
	window, ok := windowFor(archetype, candidateWindow, portfolio)
	if !ok {
		return Result{}, fmt.Errorf("complement: no time window known for archetype %q", archetype)
	}

	startMin, err := parseMinuteOfDay(window.Start)
	if err != nil {
		return Result{}, err
	}
	endMin, err := parseMinuteOfDay(window.End)
	if err != nil {
		return Result{}, err
	}

	strategyMinutes := minuteSet(startMin, endMin)
	strategyCount := countSet(strategyMinutes)
	if strategyCount == 0 {
		return Result{}, fmt.Errorf("complement: candidate window %s-%s has zero duration", window.Start, window.End)
	}

	referenceMinutes := make([]bool, minutesPerDay)
	for _, w := range portfolio.ActiveWindows {
		s, err := parseMinuteOfDay(w.Start)
		if err != nil {
			return Result{}, err
		}
		e, err := parseMinuteOfDay(w.End)
		if err != nil {
			return Result{}, err
		}
		unionInto(referenceMinutes, minuteSet(s, e))
	}

	overlap := float64(intersectionCount(strategyMinutes, referenceMinutes)) / float64(strategyCount)
	if overlap > 1.0 {
		overlap = 1.0
	}

	regimeComplement := portfolio.ArchetypeRegime[archetype] == "mean_reversion" ||
		portfolio.ArchetypeRegime[archetype] == "choppy_range"

	gapCoverage := false
	for _, gw := range portfolio.GapWindows {
		gs, err := parseMinuteOfDay(gw.Start)
		if err != nil {
			return Result{}, err
		}
		ge, err := parseMinuteOfDay(gw.End)
		if err != nil {
			return Result{}, err
		}
		gapMinutes := minuteSet(gs, ge)
		if intersectionCount(strategyMinutes, gapMinutes) > 0 {
			gapCoverage = true
			break
		}
	}

	lunchWindow := minuteSet(mustMinute("11:30"), mustMinute("13:30"))
	coversLunch := coversWindow(strategyMinutes, lunchWindow)
	postCloseWindow := minuteSet(mustMinute("15:45"), mustMinute("18:05"))
	coversPostClose := coversWindow(strategyMinutes, postCloseWindow)

	score := 25*(1-overlap) +
		boolPoints(regimeComplement, 35) +
		boolPoints(gapCoverage, 20) +
		boolPoints(overlap < 0.5, 10) +
		boolPoints(coversLunch, 5) +
		boolPoints(coversPostClose, 5)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return Result{
		Score: score,
		Breakdown: Breakdown{
			TimeOverlap:      overlap,
			RegimeComplement: regimeComplement,
			GapCoverage:      gapCoverage,
			CoversLunch:      coversLunch,
			CoversPostClose:  coversPostClose,
		},
	}, nil
}

// coversWindow reports whether every minute of target is also set in
// candidate -- "fully contains": the bonus requires a window that
// entirely spans the lunch/post-close sub-windows, not one that
// merely touches them.
func coversWindow(candidate, target []bool) bool {
	for i, v := range target {
		if v && !candidate[i] {
			return false
		}
	}
	return true
}

func boolPoints(b bool, points float64) float64 {
	if b {
		return points
	}
	return 0
}

func mustMinute(hhmm string) int {
	m, err := parseMinuteOfDay(hhmm)
	if err != nil {
		panic(err) // compiled-in constants only
	}
	return m
}
