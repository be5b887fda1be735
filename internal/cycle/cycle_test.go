package cycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bostonrobbie/marcus/internal/lifecycle"
	"github.com/bostonrobbie/marcus/internal/stratspec"
)

// The funnel counts are monotone: backtests_run >= stage1_passed >=
// ... >= stage5_passed. tallyOutcome is the only place that
// increments these counters, so exercising it directly at every
// stage is sufficient.
func TestTallyOutcome_StageCountsAreMonotonicallyNonIncreasing(t *testing.T) {
	var s Summary
	tallyOutcome(&s, candidateOutcome{stage: lifecycle.StageStage5Pass})
	tallyOutcome(&s, candidateOutcome{stage: lifecycle.StageStage2Pass})
	tallyOutcome(&s, candidateOutcome{stage: lifecycle.StageRejected})
	tallyOutcome(&s, candidateOutcome{stage: lifecycle.StageStage1Pass, errored: true})

	assert.Equal(t, 4, s.BacktestsRun)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, 3, s.Stage1Passed) // stage5, stage2, stage1 all cleared S1
	assert.Equal(t, 2, s.Stage2Passed) // stage5, stage2
	assert.Equal(t, 1, s.Stage3Passed) // stage5 only
	assert.Equal(t, 1, s.Stage4Passed)
	assert.Equal(t, 1, s.Stage5Passed)

	assert.GreaterOrEqual(t, s.BacktestsRun, s.Stage1Passed)
	assert.GreaterOrEqual(t, s.Stage1Passed, s.Stage2Passed)
	assert.GreaterOrEqual(t, s.Stage2Passed, s.Stage3Passed)
	assert.GreaterOrEqual(t, s.Stage3Passed, s.Stage4Passed)
	assert.GreaterOrEqual(t, s.Stage4Passed, s.Stage5Passed)
}

func TestTallyOutcome_RejectedDoesNotCountAnyStage(t *testing.T) {
	var s Summary
	tallyOutcome(&s, candidateOutcome{stage: lifecycle.StageRejected})
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, 0, s.Stage1Passed)
}

func TestMedian_OddAndEvenLengths(t *testing.T) {
	assert.InDelta(t, 2.0, median([]float64{3, 1, 2}), 1e-9)
	assert.InDelta(t, 2.5, median([]float64{1, 2, 3, 4}), 1e-9)
	assert.InDelta(t, 0.0, median(nil), 1e-9)
}

func TestCloneSpec_MutatingCloneDoesNotAffectOriginal(t *testing.T) {
	original := stratspec.Spec{
		Archetype: stratspec.ArchetypeORB,
		Symbol:    "NQ",
		Interval:  "5m",
		Params:    map[string]any{"atr_max_mult": 1.5},
	}
	clone := cloneSpec(original)
	clone.Params["atr_max_mult"] = 9.9

	assert.InDelta(t, 1.5, original.Params["atr_max_mult"].(float64), 1e-9)
	assert.InDelta(t, 9.9, clone.Params["atr_max_mult"].(float64), 1e-9)
}

func TestJoinReasons(t *testing.T) {
	assert.Equal(t, "", joinReasons(nil))
	assert.Equal(t, "a", joinReasons([]string{"a"}))
	assert.Equal(t, "a; b", joinReasons([]string{"a", "b"}))
}

func TestParamsToJSON_EncodesParams(t *testing.T) {
	spec := stratspec.Spec{Params: map[string]any{"x": 1.0}}
	js, err := paramsToJSON(spec)
	assert.NoError(t, err)
	assert.Contains(t, js, `"x":1`)
}
