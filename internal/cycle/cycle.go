// Package cycle wires components A through H into one research
// cycle: fetch candidate ideas, dedup against the graveyard, run each
// candidate's kernel and backtest, score its metrics, advance it
// through the lifecycle gates, and persist the results. This is the
// body of one daemon iteration.
package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bostonrobbie/marcus/internal/backtest"
	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/bostonrobbie/marcus/internal/complement"
	"github.com/bostonrobbie/marcus/internal/config"
	"github.com/bostonrobbie/marcus/internal/ideasource"
	"github.com/bostonrobbie/marcus/internal/kernel"
	"github.com/bostonrobbie/marcus/internal/lifecycle"
	"github.com/bostonrobbie/marcus/internal/metrics"
	"github.com/bostonrobbie/marcus/internal/registry"
	"github.com/bostonrobbie/marcus/internal/stratspec"
)

// Summary mirrors registry.CycleSummary; cycle.Run fills it in and
// the caller persists it via Reg.LogCycle.
type Summary = registry.CycleSummary

// Deps bundles the collaborators one cycle needs. All fields are
// required except Portfolio, which defaults to complement.DefaultPortfolio().
type Deps struct {
	Bars       *barstore.Store
	IdeaSource *ideasource.Source
	Reg        *registry.Registry
	Portfolio  complement.Portfolio
	Cfg        config.Config
	Log        zerolog.Logger
	Rng        *rand.Rand
}

func thresholdsFrom(cfg config.Config) lifecycle.Thresholds {
	return lifecycle.Thresholds{
		MinTradesS1:         cfg.MinTradesS1,
		S2Sharpe:            cfg.S2Sharpe,
		S2ProfitFactor:      cfg.S2ProfitFactor,
		S2MaxDrawdownPct:    cfg.S2MaxDrawdownPct,
		S2WinRate:           cfg.S2WinRate,
		S3SharpeFloor:       cfg.S3SharpeFloor,
		S3PerturbationDelta: cfg.S3PerturbationDelta,
		PMax:                cfg.PMax,
		DSRFloor:            cfg.DSRFloor,
		VarFloor:            cfg.VarFloor,
		ComplementFloor:     cfg.ComplementFloor,
		MaxStrikes:          cfg.MaxStrikes,
	}
}

func backtestConfigFrom(cfg config.Config) backtest.Config {
	return backtest.Config{
		InitialCapital:   cfg.InitialCapital,
		Commission:       cfg.Commission,
		Slippage:         cfg.Slippage,
		VolatilityFactor: cfg.VolatilityFactor,
		PointValue:       cfg.PointValue,
	}
}

// Run executes exactly one research cycle: fetch ideas, evaluate each
// against the bar table and lifecycle gates, persist every outcome,
// and return the cycle summary row. It never returns an error for a
// per-candidate failure -- those are tallied into the summary's
// Errors/Rejected counts; a cycle never raises a per-candidate
// failure out to the control loop. It only returns an error for
// something
// that makes the whole cycle meaningless: the configured symbol's bar
// table failing to load.
func Run(ctx context.Context, deps Deps, cycleNum int64, directive string) (Summary, error) {
	runID := uuid.NewString()
	startedAt := time.Now()

	if deps.Portfolio.ArchetypeTime == nil {
		deps.Portfolio = complement.DefaultPortfolio()
	}

	summary := Summary{
		CycleNum:  cycleNum,
		RunID:     runID,
		StartedAt: startedAt,
	}
	// Write the open row immediately so a crash mid-cycle leaves a
	// visible, recoverable row rather than silence.
	if err := deps.Reg.LogCycle(ctx, summary); err != nil {
		deps.Log.Warn().Err(err).Msg("cycle: failed to log open cycle row")
	}

	bt, err := deps.Bars.Load(deps.Cfg.Symbol, deps.Cfg.Interval)
	if err != nil {
		return summary, fmt.Errorf("cycle: load bar table for %s/%s: %w", deps.Cfg.Symbol, deps.Cfg.Interval, err)
	}

	ideas, err := deps.IdeaSource.Fetch(ctx, directive)
	if err != nil {
		deps.Log.Warn().Err(err).Msg("cycle: idea source degraded to zero ideas this cycle")
		if regErr := deps.Reg.RecordMessage(ctx, "warn", fmt.Sprintf("idea source degraded: %v", err)); regErr != nil {
			deps.Log.Warn().Err(regErr).Msg("cycle: failed to record idea-source degradation message")
		}
		ideas = nil
	}
	summary.IdeasGenerated = len(ideas)

	th := thresholdsFrom(deps.Cfg)
	btCfg := backtestConfigFrom(deps.Cfg)
	numTrials := len(ideas)
	if numTrials < 1 {
		numTrials = 1
	}

	var bestSharpe float64
	var bestName string

	// buried memoizes graveyard membership for the batch, so a hash the
	// idea source proposed twice this cycle (or one rejected earlier in
	// the same loop) is skipped without a second registry round trip.
	buried := make(lifecycle.Graveyard)

	for _, idea := range ideas {
		hash := idea.Hash()

		if !buried.Contains(hash) {
			graveyarded, gErr := deps.Reg.IsGraveyarded(ctx, hash)
			if gErr != nil {
				deps.Log.Warn().Err(gErr).Str("hash", hash).Msg("cycle: graveyard lookup failed, treating as not buried")
			}
			if graveyarded {
				buried.Bury(hash)
			}
		}
		if buried.Contains(hash) {
			summary.Rejected++
			continue
		}

		outcome := evaluateCandidate(ctx, deps, bt, idea, hash, cycleNum, th, btCfg, numTrials)
		if outcome.stage == lifecycle.StageRejected {
			buried.Bury(hash)
		}
		tallyOutcome(&summary, outcome)
		if outcome.summary != nil && outcome.summary.Sharpe > bestSharpe {
			bestSharpe = outcome.summary.Sharpe
			bestName = fmt.Sprintf("%s/%s/%s", idea.Archetype, idea.Symbol, idea.Interval)
		}
	}

	summary.BestSharpe = bestSharpe
	summary.BestStrategyName = bestName
	finishedAt := time.Now()
	summary.FinishedAt = &finishedAt
	summary.DurationSeconds = finishedAt.Sub(startedAt).Seconds()

	if err := deps.Reg.LogCycle(ctx, summary); err != nil {
		deps.Log.Error().Err(err).Msg("cycle: failed to log final cycle row")
	}

	return summary, nil
}

// candidateOutcome records which stage a candidate reached and
// whether it errored, for summary tallying.
type candidateOutcome struct {
	stage   lifecycle.Stage
	errored bool
	summary *metrics.Summary
}

// stageOrder ranks how far a candidate progressed, so tallyOutcome can
// count every gate actually cleared rather than just the final stage
// -- this is what keeps the cycle summary's funnel counts monotone
// (backtests_run >= stage1_passed >= ... >= stage5_passed).
var stageOrder = map[lifecycle.Stage]int{
	lifecycle.StageStage1Pass: 1,
	lifecycle.StageStage2Pass: 2,
	lifecycle.StageStage3Pass: 3,
	lifecycle.StageStage4Pass: 4,
	lifecycle.StageStage5Pass: 5,
	lifecycle.StageDeployed:   6,
}

func tallyOutcome(summary *Summary, o candidateOutcome) {
	summary.BacktestsRun++
	if o.errored {
		summary.Errors++
	}
	if o.stage == lifecycle.StageRejected {
		summary.Rejected++
		return
	}
	reached := stageOrder[o.stage]
	if reached >= 1 {
		summary.Stage1Passed++
	}
	if reached >= 2 {
		summary.Stage2Passed++
	}
	if reached >= 3 {
		summary.Stage3Passed++
	}
	if reached >= 4 {
		summary.Stage4Passed++
	}
	if reached >= 5 {
		summary.Stage5Passed++
	}
}

// evaluateCandidate runs one strategy spec through the kernel,
// backtest engine, metrics, and the full gate ladder, persisting every
// stage transition and the final outcome: a winner row when every
// gate passes, otherwise a REJECTED transition plus graveyard burial
// at the first failing gate (Stage 1 included).
func evaluateCandidate(
	ctx context.Context,
	deps Deps,
	bt *barstore.BarTable,
	spec stratspec.Spec,
	hash string,
	cycleNum int64,
	th lifecycle.Thresholds,
	btCfg backtest.Config,
	numTrials int,
) candidateOutcome {
	log := deps.Log.With().Str("hash", hash).Str("archetype", string(spec.Archetype)).Logger()

	signals, err := kernel.Run(bt, spec)
	if err != nil {
		log.Warn().Err(err).Msg("cycle: kernel error, rejecting candidate")
		o := rejectCandidate(ctx, deps, hash, spec, cycleNum, fmt.Sprintf("evaluation error: %v", err), 0, 0)
		o.errored = true
		return o
	}

	res, err := backtest.Run(bt, signals, btCfg)
	if err != nil {
		log.Warn().Err(err).Msg("cycle: backtest error, rejecting candidate")
		o := rejectCandidate(ctx, deps, hash, spec, cycleNum, fmt.Sprintf("evaluation error: %v", err), 0, 0)
		o.errored = true
		return o
	}

	summ := metrics.Compute(metrics.ComputeInput{
		Bars: bt, Signals: signals, Result: res, BacktestConfig: btCfg,
		BarsPerYear: deps.Cfg.BarsPerYear, NMonteCarlo: deps.Cfg.NMonteCarlo,
		NPermutation: deps.Cfg.NPermutation, NumTrials: numTrials, Rng: deps.Rng,
	})

	netProfit := 0.0
	if len(res.Equity) > 0 {
		netProfit = res.Equity[len(res.Equity)-1] - deps.Cfg.InitialCapital
	}

	if err := deps.Reg.UpsertBacktestRun(ctx, registry.BacktestRun{
		StrategyHash: hash, Archetype: string(spec.Archetype), Symbol: spec.Symbol, Interval: spec.Interval,
		CycleNum: cycleNum, NumTrades: summ.NumTrades, Sharpe: summ.Sharpe, ProfitFactor: summ.ProfitFactor,
		MaxDrawdown: summ.MaxDrawdownPct, WinRate: summ.WinRate, RunAt: time.Now(),
	}); err != nil {
		log.Warn().Err(err).Msg("cycle: failed to persist backtest run")
	}

	// The stage cursor moves only through lifecycle.Advance, so the
	// allowed DAG (no skipping forward, no silent rewinds) is enforced
	// in one place rather than re-stated per gate.
	stage := lifecycle.StageCandidate
	advance := func(gate lifecycle.GateResult) {
		next, aerr := lifecycle.Advance(stage, gate)
		if aerr != nil {
			log.Warn().Err(aerr).Msg("cycle: lifecycle advance refused")
			return
		}
		stage = next
		recordTransition(ctx, deps, hash, stage, "")
	}

	gate1 := lifecycle.EvaluateStage1(netProfit, summ.NumTrades, summ.Sharpe, th)
	if !gate1.Passed {
		return rejectCandidate(ctx, deps, hash, spec, cycleNum, "stage1: "+joinReasons(gate1.Reasons), summ.Sharpe, summ.NumTrades)
	}
	advance(gate1)

	gate2 := lifecycle.EvaluateStage2(summ, th)
	if !gate2.Passed {
		return rejectCandidate(ctx, deps, hash, spec, cycleNum, "stage2: "+joinReasons(gate2.Reasons), summ.Sharpe, summ.NumTrades)
	}
	advance(gate2)

	perturbedSharpe := runPerturbation(bt, spec, btCfg, deps.Cfg)
	gate3 := lifecycle.EvaluateStage3(summ, metrics.Summary{Sharpe: perturbedSharpe}, th)
	if !gate3.Passed {
		return rejectCandidate(ctx, deps, hash, spec, cycleNum, "stage3: "+joinReasons(gate3.Reasons), summ.Sharpe, summ.NumTrades)
	}
	advance(gate3)

	gate4 := lifecycle.EvaluateStage4(summ, th)
	if !gate4.Passed {
		return rejectCandidate(ctx, deps, hash, spec, cycleNum, "stage4: "+joinReasons(gate4.Reasons), summ.Sharpe, summ.NumTrades)
	}
	advance(gate4)

	result, err := complement.Score(string(spec.Archetype), nil, deps.Portfolio)
	if err != nil {
		log.Warn().Err(err).Msg("cycle: complement score unavailable, treating as zero")
		result = complement.Result{}
	}
	gate5 := lifecycle.EvaluateStage5(result.Score, th)
	if !gate5.Passed {
		return rejectCandidate(ctx, deps, hash, spec, cycleNum, "stage5: "+joinReasons(gate5.Reasons), summ.Sharpe, summ.NumTrades)
	}
	advance(gate5)

	// Reaching Stage 5 is not itself deployment; promotion is recorded
	// as its own transition rather than folded into the Stage 5 gate
	// pass above.
	advance(lifecycle.GateResult{Stage: lifecycle.StageDeployed, Passed: true})

	paramsJSON, _ := paramsToJSON(spec)
	if err := deps.Reg.UpsertWinner(ctx, registry.WinningStrategy{
		HashID: hash, Archetype: string(spec.Archetype), Symbol: spec.Symbol, Interval: spec.Interval,
		ParamsJSON: paramsJSON, CurrentStage: string(lifecycle.StageDeployed),
		Sharpe: summ.Sharpe, ComplementScore: result.Score, UpdatedAt: time.Now(),
	}); err != nil {
		log.Warn().Err(err).Msg("cycle: failed to persist winning strategy")
	}

	if err := deps.Reg.WriteEquityCurve(ctx, hash, equityPoints(res.Equity)); err != nil {
		log.Warn().Err(err).Msg("cycle: failed to persist equity curve")
	}
	if err := deps.Reg.WriteTradeLog(ctx, hash, res.Trades); err != nil {
		log.Warn().Err(err).Msg("cycle: failed to persist trade log")
	}

	return candidateOutcome{stage: stage, summary: &summ}
}

// RedeployCheck re-runs the Stage 2 gate against every currently
// DEPLOYED strategy. Re-validation is periodic, driven by the daemon
// on cycles where lifecycle.ShouldRedeployCheck is true, not only on
// operator request. A strategy that fails Stage 2 accumulates a
// degradation strike; reaching max_strikes demotes it to ARCHIVED.
func RedeployCheck(ctx context.Context, deps Deps, cycleNum int64) {
	deployed, err := deps.Reg.DeployedStrategies(ctx)
	if err != nil {
		deps.Log.Warn().Err(err).Msg("redeploy check: failed to list deployed strategies")
		return
	}
	if len(deployed) == 0 {
		return
	}

	th := thresholdsFrom(deps.Cfg)
	btCfg := backtestConfigFrom(deps.Cfg)

	for _, w := range deployed {
		log := deps.Log.With().Str("hash", w.HashID).Str("archetype", w.Archetype).Logger()

		var params map[string]any
		if err := json.Unmarshal([]byte(w.ParamsJSON), &params); err != nil {
			log.Warn().Err(err).Msg("redeploy check: failed to parse stored params, skipping")
			continue
		}
		spec := stratspec.Spec{
			Archetype: stratspec.Archetype(w.Archetype),
			Symbol:    w.Symbol,
			Interval:  w.Interval,
			Params:    params,
		}

		bt, err := deps.Bars.Load(spec.Symbol, spec.Interval)
		if err != nil {
			log.Warn().Err(err).Msg("redeploy check: failed to load bar table, skipping")
			continue
		}
		signals, err := kernel.Run(bt, spec)
		if err != nil {
			log.Warn().Err(err).Msg("redeploy check: kernel error, skipping")
			continue
		}
		res, err := backtest.Run(bt, signals, btCfg)
		if err != nil {
			log.Warn().Err(err).Msg("redeploy check: backtest error, skipping")
			continue
		}
		summ := metrics.Compute(metrics.ComputeInput{
			Bars: bt, Signals: signals, Result: res, BacktestConfig: btCfg,
			BarsPerYear: deps.Cfg.BarsPerYear, NMonteCarlo: deps.Cfg.NMonteCarlo,
			NPermutation: deps.Cfg.NPermutation, NumTrials: 1, Rng: deps.Rng,
		})

		gate2 := lifecycle.EvaluateStage2(summ, th)
		strikes, err := deps.Reg.LifecycleStrikes(ctx, w.HashID)
		if err != nil {
			log.Warn().Err(err).Msg("redeploy check: failed to read current strikes")
		}

		if gate2.Passed {
			if strikes != 0 {
				recordTransitionWithStrikes(ctx, deps, w.HashID, lifecycle.StageDeployed, "", 0)
			}
			continue
		}

		rec := lifecycle.Demote(lifecycle.Record{Hash: w.HashID, Stage: lifecycle.StageDeployed, Strikes: strikes}, th)
		reason := "redeploy check stage2 failure: " + joinReasons(gate2.Reasons)
		recordTransitionWithStrikes(ctx, deps, w.HashID, rec.Stage, reason, rec.Strikes)
		if rec.Stage == lifecycle.StageArchived {
			if err := deps.Reg.UpdateWinnerStage(ctx, w.HashID, string(lifecycle.StageArchived)); err != nil {
				log.Warn().Err(err).Msg("redeploy check: failed to archive winning strategy row")
			}
		}
	}
}

func recordTransition(ctx context.Context, deps Deps, hash string, stage lifecycle.Stage, reason string) {
	recordTransitionWithStrikes(ctx, deps, hash, stage, reason, 0)
}

// recordTransitionWithStrikes is recordTransition plus an explicit
// degradation_strikes value, used by RedeployCheck to persist a
// DEPLOYED strategy's updated strike count alongside its (possibly
// unchanged) stage.
func recordTransitionWithStrikes(ctx context.Context, deps Deps, hash string, stage lifecycle.Stage, reason string, strikes int) {
	if err := deps.Reg.RecordLifecycleTransition(ctx, registry.LifecycleTransition{
		Hash: hash, ToStage: string(stage), RejectionReason: reason,
		DegradationStrikes: strikes, TransitionedAt: time.Now(),
	}); err != nil {
		deps.Log.Warn().Err(err).Str("hash", hash).Str("stage", string(stage)).
			Msg("cycle: failed to persist lifecycle transition")
	}
}

// rejectCandidate records the REJECTED lifecycle transition and buries
// the hash in the graveyard so it is never retested.
func rejectCandidate(ctx context.Context, deps Deps, hash string, spec stratspec.Spec, cycleNum int64, reason string, sharpe float64, trades int) candidateOutcome {
	recordTransition(ctx, deps, hash, lifecycle.StageRejected, reason)
	if err := deps.Reg.Bury(ctx, registry.GraveyardEntry{
		StrategyHash: hash, KilledAtStage: string(lifecycle.StageRejected), Reason: reason,
		BestSharpe: sharpe, TotalTrades: trades, CreatedAt: time.Now(),
	}); err != nil {
		deps.Log.Warn().Err(err).Str("hash", hash).Msg("cycle: failed to bury rejected candidate")
	}
	return candidateOutcome{stage: lifecycle.StageRejected}
}

// runPerturbation retests spec with each numeric param nudged by
// +/- s3_perturbation_delta and returns the median resulting Sharpe
// for the Stage 3 robustness check. A spec with no numeric params
// degrades to the base backtest's own Sharpe computed once.
func runPerturbation(bt *barstore.BarTable, spec stratspec.Spec, btCfg backtest.Config, cfg config.Config) float64 {
	var sharpes []float64
	for key, val := range spec.Params {
		f, ok := val.(float64)
		if !ok {
			continue
		}
		for _, sign := range []float64{1, -1} {
			perturbed := cloneSpec(spec)
			perturbed.Params[key] = f * (1 + sign*cfg.S3PerturbationDelta)
			signals, err := kernel.Run(bt, perturbed)
			if err != nil {
				continue
			}
			res, err := backtest.Run(bt, signals, btCfg)
			if err != nil {
				continue
			}
			sharpes = append(sharpes, metrics.AnnualizedSharpe(res.Returns, cfg.BarsPerYear))
		}
	}
	if len(sharpes) == 0 {
		signals, err := kernel.Run(bt, spec)
		if err != nil {
			return 0
		}
		res, err := backtest.Run(bt, signals, btCfg)
		if err != nil {
			return 0
		}
		return metrics.AnnualizedSharpe(res.Returns, cfg.BarsPerYear)
	}
	return median(sharpes)
}

func cloneSpec(spec stratspec.Spec) stratspec.Spec {
	params := make(map[string]any, len(spec.Params))
	for k, v := range spec.Params {
		params[k] = v
	}
	return stratspec.Spec{Archetype: spec.Archetype, Symbol: spec.Symbol, Interval: spec.Interval, Params: params}
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func equityPoints(equity []float64) []registry.EquityPoint {
	points := make([]registry.EquityPoint, len(equity))
	for i, e := range equity {
		points[i] = registry.EquityPoint{BarIndex: i, Equity: e}
	}
	return points
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

func paramsToJSON(spec stratspec.Spec) (string, error) {
	b, err := json.Marshal(spec.Params)
	if err != nil {
		return "{}", err
	}
	return string(b), nil
}
