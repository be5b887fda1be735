package complement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A lunch-range-fade candidate whose
// window is 90% covered by the reference portfolio's active windows should
// score 2.5 (time) + 35 (regime) + 20 (gap) + 0 (overlap bonus, since
// 0.9 is not < 0.5) + 5 (covers lunch) = 62.5.
func TestScore_LunchRangeFadeMatchesWorkedExample(t *testing.T) {
	portfolio := DefaultPortfolio()
	window := Window{Start: "11:30", End: "13:30"}

	// Replace the reference active windows with one that covers
	// exactly 90% of the candidate's duration (108 of 120 minutes),
	// isolating the worked example from the default RTH/overnight
	// windows (which would otherwise fully contain lunch).
	portfolio.ActiveWindows = []Window{{Start: "11:30", End: "13:18"}}

	res, err := Score("lunch_range_fade", &window, portfolio)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, res.Breakdown.TimeOverlap, 1e-9)
	assert.True(t, res.Breakdown.RegimeComplement)
	assert.True(t, res.Breakdown.GapCoverage)
	assert.True(t, res.Breakdown.CoversLunch)
	assert.False(t, res.Breakdown.CoversPostClose)
	assert.InDelta(t, 62.5, res.Score, 1e-9)
}

// A candidate window identical to one of the reference portfolio's
// own active windows has full overlap and earns the regime bonus
// alone: the default gap windows are disjoint from the active
// windows, so no gap or session bonus can leak in.
func TestScore_FullOverlapWindow(t *testing.T) {
	portfolio := DefaultPortfolio()
	window := Window{Start: "18:05", End: "09:25"} // exactly the overnight reference window

	res, err := Score("overnight_fade", &window, portfolio)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Breakdown.TimeOverlap, 1e-9)
	assert.False(t, res.Breakdown.GapCoverage)
	assert.False(t, res.Breakdown.CoversLunch)
	assert.False(t, res.Breakdown.CoversPostClose)
	// Only the regime bonus survives full overlap.
	assert.InDelta(t, 35.0, res.Score, 1e-9)
}

func TestScore_UnknownArchetypeWithoutOverrideIsError(t *testing.T) {
	_, err := Score("nonexistent", nil, DefaultPortfolio())
	require.Error(t, err)
}

func TestScore_ClampsToHundred(t *testing.T) {
	portfolio := DefaultPortfolio()
	portfolio.ArchetypeRegime["synthetic"] = "mean_reversion"
	window := Window{Start: "11:30", End: "13:30"} // fully inside the lunch gap, zero portfolio overlap

	res, err := Score("synthetic", &window, portfolio)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Score, 100.0)
}

func TestMinuteSet_CrossMidnightUnion(t *testing.T) {
	set := minuteSet(23*60, 1*60)
	assert.True(t, set[23*60+30])
	assert.True(t, set[30])
	assert.False(t, set[12*60])
}
