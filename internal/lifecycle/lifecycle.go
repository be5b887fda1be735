// Package lifecycle implements the five-stage validation gate (S1
// Viability, S2 Gauntlet, S3 Robustness, S4 Statistical audit, S5
// Portfolio fit) and the strategy lifecycle state machine, including
// degradation strikes and graveyard dedup.
//
// Each gate returns a pass/fail result plus a per-check breakdown
// with human-readable failure reasons, so a rejection records exactly
// which threshold killed the candidate.
package lifecycle

import (
	"fmt"

	"github.com/bostonrobbie/marcus/internal/metrics"
)

// Stage is a position in the validation pipeline.
type Stage string

const (
	StageCandidate  Stage = "CANDIDATE"
	StageStage1Pass Stage = "STAGE1_PASS"
	StageStage2Pass Stage = "STAGE2_PASS"
	StageStage3Pass Stage = "STAGE3_PASS"
	StageStage4Pass Stage = "STAGE4_PASS"
	StageStage5Pass Stage = "STAGE5_PASS"
	StageDeployed   Stage = "DEPLOYED"
	StageRejected   Stage = "REJECTED"
	StageArchived   Stage = "ARCHIVED"
	StageDeleted    Stage = "DELETED"
)

// terminal stages never transition further by themselves; ARCHIVED
// strategies are replaced by a fresh candidate rather than revived,
// and DELETED is a manual, final action.
var terminalStages = map[Stage]bool{
	StageRejected: true,
	StageArchived: true,
	StageDeleted:  true,
}

// IsTerminal reports whether a stage is a dead end for the pipeline.
func IsTerminal(s Stage) bool { return terminalStages[s] }

// nextStage maps each pipeline stage to the stage reached on passing
// its gate, enforcing the CANDIDATE -> S1 -> S2 -> S3 -> S4 -> S5 ->
// DEPLOYED DAG: a strategy can never skip a stage or move backward
// except via REJECTED/ARCHIVED.
var nextStage = map[Stage]Stage{
	StageCandidate:  StageStage1Pass,
	StageStage1Pass: StageStage2Pass,
	StageStage2Pass: StageStage3Pass,
	StageStage3Pass: StageStage4Pass,
	StageStage4Pass: StageStage5Pass,
	StageStage5Pass: StageDeployed,
}

// GateCheck is one named pass/fail check within a stage gate.
type GateCheck struct {
	Name   string
	Passed bool
	Detail string
}

// GateResult is the outcome of evaluating one stage's gate.
type GateResult struct {
	Stage   Stage
	Passed  bool
	Checks  []GateCheck
	Reasons []string
}

func newGateResult(stage Stage, checks []GateCheck) GateResult {
	passed := true
	var reasons []string
	for _, c := range checks {
		if !c.Passed {
			passed = false
			reasons = append(reasons, c.Detail)
		}
	}
	return GateResult{Stage: stage, Passed: passed, Checks: checks, Reasons: reasons}
}

// Thresholds carries every stage gate's configured threshold, taken
// directly from internal/config.Config's flat key set.
type Thresholds struct {
	MinTradesS1         int
	S2Sharpe            float64
	S2ProfitFactor      float64
	S2MaxDrawdownPct    float64
	S2WinRate           float64
	S3SharpeFloor       float64
	S3PerturbationDelta float64
	PMax                float64
	DSRFloor            float64
	VarFloor            float64
	ComplementFloor     float64
	MaxStrikes          int
}

// EvaluateStage1 checks basic viability: positive net profit, a
// minimum trade count for statistical weight, and a positive Sharpe.
func EvaluateStage1(netProfit float64, numTrades int, sharpe float64, th Thresholds) GateResult {
	checks := []GateCheck{
		{Name: "net_profit", Passed: netProfit > 0,
			Detail: fmt.Sprintf("net profit %.2f not positive", netProfit)},
		{Name: "min_trades", Passed: numTrades >= th.MinTradesS1,
			Detail: fmt.Sprintf("trades %d < required %d", numTrades, th.MinTradesS1)},
		{Name: "sharpe", Passed: sharpe > 0,
			Detail: fmt.Sprintf("sharpe %.3f not positive", sharpe)},
	}
	return newGateResult(StageStage1Pass, checks)
}

// EvaluateStage2 runs the gauntlet of baseline performance
// thresholds: Sharpe, profit factor, max drawdown, and win rate.
func EvaluateStage2(s metrics.Summary, th Thresholds) GateResult {
	checks := []GateCheck{
		{Name: "sharpe", Passed: s.Sharpe >= th.S2Sharpe,
			Detail: fmt.Sprintf("sharpe %.3f < required %.3f", s.Sharpe, th.S2Sharpe)},
		{Name: "profit_factor", Passed: s.ProfitFactor >= th.S2ProfitFactor,
			Detail: fmt.Sprintf("profit factor %.3f < required %.3f", s.ProfitFactor, th.S2ProfitFactor)},
		{Name: "max_drawdown", Passed: s.MaxDrawdownPct <= th.S2MaxDrawdownPct,
			Detail: fmt.Sprintf("max drawdown %.2f%% > allowed %.2f%%", s.MaxDrawdownPct, th.S2MaxDrawdownPct)},
		{Name: "win_rate", Passed: s.WinRate >= th.S2WinRate,
			Detail: fmt.Sprintf("win rate %.3f < required %.3f", s.WinRate, th.S2WinRate)},
	}
	return newGateResult(StageStage2Pass, checks)
}

// EvaluateStage3 checks that performance survives a parameter
// perturbation: the perturbed Sharpe must clear a floor, and must not
// have degraded by more than the configured delta relative to the
// base run.
func EvaluateStage3(base, perturbed metrics.Summary, th Thresholds) GateResult {
	degradation := base.Sharpe - perturbed.Sharpe
	var relativeDegradation float64
	if base.Sharpe != 0 {
		relativeDegradation = degradation / absFloat(base.Sharpe)
	}
	checks := []GateCheck{
		{Name: "perturbed_sharpe_floor", Passed: perturbed.Sharpe >= th.S3SharpeFloor,
			Detail: fmt.Sprintf("perturbed sharpe %.3f below floor %.3f", perturbed.Sharpe, th.S3SharpeFloor)},
		{Name: "perturbation_stability", Passed: relativeDegradation <= th.S3PerturbationDelta,
			Detail: fmt.Sprintf("sharpe degraded %.1f%% under perturbation, exceeding %.1f%% tolerance",
				relativeDegradation*100, th.S3PerturbationDelta*100)},
	}
	return newGateResult(StageStage3Pass, checks)
}

// EvaluateStage4 audits the strategy's statistical significance:
// permutation p-value, Deflated Sharpe Ratio, and Monte Carlo VaR95.
func EvaluateStage4(s metrics.Summary, th Thresholds) GateResult {
	checks := []GateCheck{
		{Name: "permutation_p_value", Passed: s.PermutationPValue <= th.PMax,
			Detail: fmt.Sprintf("permutation p-value %.4f > allowed %.4f", s.PermutationPValue, th.PMax)},
		{Name: "deflated_sharpe", Passed: s.DeflatedSharpe >= th.DSRFloor,
			Detail: fmt.Sprintf("deflated sharpe %.4f below floor %.4f", s.DeflatedSharpe, th.DSRFloor)},
		{Name: "monte_carlo_var95", Passed: s.MonteCarloVaR95 >= th.VarFloor,
			Detail: fmt.Sprintf("monte carlo VaR95 %.4f below floor %.4f", s.MonteCarloVaR95, th.VarFloor)},
	}
	return newGateResult(StageStage4Pass, checks)
}

// EvaluateStage5 checks portfolio fit via the complementarity score
// against the reference portfolio.
func EvaluateStage5(complementScore float64, th Thresholds) GateResult {
	check := GateCheck{
		Name:   "complementarity",
		Passed: complementScore >= th.ComplementFloor,
		Detail: fmt.Sprintf("complementarity score %.1f below floor %.1f", complementScore, th.ComplementFloor),
	}
	return newGateResult(StageStage5Pass, []GateCheck{check})
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Advance returns the stage a CANDIDATE-through-STAGE5_PASS record
// moves to given a gate result: the next stage on pass, REJECTED on
// fail. Terminal stages and DEPLOYED are not advanced by this
// function -- DEPLOYED re-validation uses Demote instead, since a
// failed re-check degrades rather than rejects.
func Advance(current Stage, result GateResult) (Stage, error) {
	if IsTerminal(current) {
		return current, fmt.Errorf("lifecycle: cannot advance terminal stage %s", current)
	}
	next, ok := nextStage[current]
	if !ok {
		return current, fmt.Errorf("lifecycle: no gate defined after stage %s", current)
	}
	if next != result.Stage {
		return current, fmt.Errorf("lifecycle: gate result for %s does not match expected next stage %s",
			result.Stage, next)
	}
	if !result.Passed {
		return StageRejected, nil
	}
	return next, nil
}

// Record is a strategy's full lifecycle state as persisted by the
// registry.
type Record struct {
	Hash           string
	Stage          Stage
	Strikes        int
	CyclesDeployed int
}

// Demote applies one degradation strike to a DEPLOYED strategy that
// failed its periodic Stage 2 re-check, archiving it once strikes
// reach the configured maximum.
func Demote(rec Record, th Thresholds) Record {
	rec.Strikes++
	if rec.Strikes >= th.MaxStrikes {
		rec.Stage = StageArchived
	}
	return rec
}

// ShouldRedeployCheck reports whether cycleNumber is one of the
// periodic cycles on which a DEPLOYED strategy re-runs the Stage 2
// gate: every everyN cycles, rather than only on manual request.
func ShouldRedeployCheck(cycleNumber, everyN int) bool {
	if everyN <= 0 {
		return false
	}
	return cycleNumber%everyN == 0
}

// Graveyard tracks strategy-spec hashes that have already been
// REJECTED and buried, so the idea sources and candidate generator
// never re-test a strategy the pipeline has already killed. Archiving
// a DEPLOYED strategy does not bury its hash.
// The registry is the source of truth for membership; this type just
// gives the decision a name independent of storage.
type Graveyard map[string]bool

// Contains reports whether hash has already been buried.
func (g Graveyard) Contains(hash string) bool { return g[hash] }

// Bury adds hash to the graveyard.
func (g Graveyard) Bury(hash string) { g[hash] = true }
