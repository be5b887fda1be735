// Package registry implements the registry adapter, the only shared
// mutable resource in the system. It persists backtest runs, winning
// strategies, equity curves, trade logs, lifecycle transitions, the
// graveyard, and cycle summaries, and exposes the read-only
// projections the dashboard collaborator consumes. Writes are atomic
// at the record level; the daemon is the sole writer.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bostonrobbie/marcus/internal/backtest"
	"github.com/bostonrobbie/marcus/internal/lifecycle"
)

// Registry wraps a Postgres connection pool over the nine-table
// research schema.
type Registry struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New wraps an already-open *sqlx.DB. Opening and migrating the
// connection is the caller's responsibility; this adapter only
// depends on the columns it reads and writes.
func New(db *sqlx.DB, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{db: db, timeout: timeout}
}

// isUniqueViolation reports whether err is a Postgres unique-
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// isTransient reports whether err is a Postgres serialization
// failure or deadlock (40001/40P01), the write-conflict class that
// is worth one retry.
func isTransient(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && (pqErr.Code == "40001" || pqErr.Code == "40P01")
}

// retryOnceOnTransient executes fn, retrying exactly once if the
// first attempt fails with a transient error.
func retryOnceOnTransient(fn func() error) error {
	err := fn()
	if err != nil && isTransient(err) {
		err = fn()
	}
	return err
}

// BacktestRun is one row of the backtest_runs table: the raw result
// of running one strategy spec through the engine, before any stage
// gating is applied.
type BacktestRun struct {
	StrategyHash string    `db:"strategy_hash"`
	Archetype    string    `db:"archetype"`
	Symbol       string    `db:"symbol"`
	Interval     string    `db:"interval"`
	CycleNum     int64     `db:"cycle_num"`
	NumTrades    int       `db:"num_trades"`
	Sharpe       float64   `db:"sharpe"`
	ProfitFactor float64   `db:"profit_factor"`
	MaxDrawdown  float64   `db:"max_drawdown_pct"`
	WinRate      float64   `db:"win_rate"`
	RunAt        time.Time `db:"run_at"`
}

// UpsertBacktestRun inserts or replaces the run row for
// (strategy_hash, cycle_num) -- a strategy may be re-tested across
// cycles (periodic redeploy checks), and each cycle's run is its own
// record.
func (r *Registry) UpsertBacktestRun(ctx context.Context, run BacktestRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return retryOnceOnTransient(func() error {
		_, err := r.db.NamedExecContext(ctx, `
			INSERT INTO backtest_runs
				(strategy_hash, archetype, symbol, interval, cycle_num, num_trades,
				 sharpe, profit_factor, max_drawdown_pct, win_rate, run_at)
			VALUES
				(:strategy_hash, :archetype, :symbol, :interval, :cycle_num, :num_trades,
				 :sharpe, :profit_factor, :max_drawdown_pct, :win_rate, :run_at)
			ON CONFLICT (strategy_hash, cycle_num) DO UPDATE SET
				num_trades = EXCLUDED.num_trades,
				sharpe = EXCLUDED.sharpe,
				profit_factor = EXCLUDED.profit_factor,
				max_drawdown_pct = EXCLUDED.max_drawdown_pct,
				win_rate = EXCLUDED.win_rate,
				run_at = EXCLUDED.run_at`, run)
		if err != nil {
			return fmt.Errorf("registry: upsert backtest run %s: %w", run.StrategyHash, err)
		}
		return nil
	})
}

// WinningStrategy is one row of the winning_strategies table: a
// strategy that has cleared at least Stage 1. hash_id is UNIQUE (spec
// sec 6).
type WinningStrategy struct {
	HashID          string    `db:"hash_id"`
	Archetype       string    `db:"archetype"`
	Symbol          string    `db:"symbol"`
	Interval        string    `db:"interval"`
	ParamsJSON      string    `db:"params_json"`
	CurrentStage    string    `db:"current_stage"`
	Sharpe          float64   `db:"sharpe"`
	ComplementScore float64   `db:"complement_score"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// UpsertWinner inserts or updates the winning_strategies row keyed on
// the unique hash_id.
func (r *Registry) UpsertWinner(ctx context.Context, w WinningStrategy) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return retryOnceOnTransient(func() error {
		_, err := r.db.NamedExecContext(ctx, `
			INSERT INTO winning_strategies
				(hash_id, archetype, symbol, interval, params_json, current_stage,
				 sharpe, complement_score, updated_at)
			VALUES
				(:hash_id, :archetype, :symbol, :interval, :params_json, :current_stage,
				 :sharpe, :complement_score, :updated_at)
			ON CONFLICT (hash_id) DO UPDATE SET
				current_stage = EXCLUDED.current_stage,
				sharpe = EXCLUDED.sharpe,
				complement_score = EXCLUDED.complement_score,
				updated_at = EXCLUDED.updated_at`, w)
		if err != nil {
			return fmt.Errorf("registry: upsert winner %s: %w", w.HashID, err)
		}
		return nil
	})
}

// LifecycleTransition is one strategy_lifecycle row update: the
// strategy's hash and the new stage it has just reached.
type LifecycleTransition struct {
	Hash               string    `db:"strategy_hash"`
	ToStage            string    `db:"current_stage"`
	RejectionReason    string    `db:"rejection_reason"`
	DegradationStrikes int       `db:"degradation_strikes"`
	TransitionedAt     time.Time `db:"transitioned_at"`
}

// RecordLifecycleTransition upserts the strategy_lifecycle row for
// hash to ToStage. It is idempotent: if the row already records this
// (hash, target_stage) pair with the same degradation_strikes, the
// call is a no-op rather than bumping transitioned_at again; a change
// in strikes alone is written.
func (r *Registry) RecordLifecycleTransition(ctx context.Context, t LifecycleTransition) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var existing struct {
		CurrentStage       string `db:"current_stage"`
		DegradationStrikes int    `db:"degradation_strikes"`
	}
	err := r.db.GetContext(ctx, &existing,
		`SELECT current_stage, degradation_strikes FROM strategy_lifecycle WHERE strategy_hash = $1`, t.Hash)
	if err == nil && existing.CurrentStage == t.ToStage && existing.DegradationStrikes == t.DegradationStrikes {
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("registry: read lifecycle stage for %s: %w", t.Hash, err)
	}

	return retryOnceOnTransient(func() error {
		_, err := r.db.NamedExecContext(ctx, `
			INSERT INTO strategy_lifecycle
				(strategy_hash, current_stage, rejection_reason, degradation_strikes, transitioned_at)
			VALUES
				(:strategy_hash, :current_stage, :rejection_reason, :degradation_strikes, :transitioned_at)
			ON CONFLICT (strategy_hash) DO UPDATE SET
				current_stage = EXCLUDED.current_stage,
				rejection_reason = EXCLUDED.rejection_reason,
				degradation_strikes = EXCLUDED.degradation_strikes,
				transitioned_at = EXCLUDED.transitioned_at`, t)
		if err != nil {
			return fmt.Errorf("registry: record lifecycle transition %s -> %s: %w", t.Hash, t.ToStage, err)
		}
		return nil
	})
}

// CurrentStage reads a strategy's lifecycle stage, defaulting to
// CANDIDATE for a hash with no row yet.
func (r *Registry) CurrentStage(ctx context.Context, hash string) (lifecycle.Stage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stage string
	err := r.db.GetContext(ctx, &stage, `SELECT current_stage FROM strategy_lifecycle WHERE strategy_hash = $1`, hash)
	if err == sql.ErrNoRows {
		return lifecycle.StageCandidate, nil
	}
	if err != nil {
		return "", fmt.Errorf("registry: read current stage for %s: %w", hash, err)
	}
	return lifecycle.Stage(stage), nil
}

// GraveyardEntry is one strategy_graveyard row: a permanently killed
// strategy hash, never re-tested.
type GraveyardEntry struct {
	StrategyHash  string    `db:"strategy_hash"`
	KilledAtStage string    `db:"killed_at_stage"`
	Reason        string    `db:"reason"`
	BestSharpe    float64   `db:"best_sharpe"`
	TotalTrades   int       `db:"total_trades"`
	CreatedAt     time.Time `db:"created_at"`
}

// Bury inserts a graveyard row. A duplicate insert (the hash is
// already buried) is not an error -- a second burial attempt is
// harmless, not a conflict worth surfacing.
func (r *Registry) Bury(ctx context.Context, entry GraveyardEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO strategy_graveyard
			(strategy_hash, killed_at_stage, reason, best_sharpe, total_trades, created_at)
		VALUES
			(:strategy_hash, :killed_at_stage, :reason, :best_sharpe, :total_trades, :created_at)
		ON CONFLICT (strategy_hash) DO NOTHING`, entry)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("registry: bury %s: %w", entry.StrategyHash, err)
	}
	return nil
}

// IsGraveyarded reports whether hash has already been buried, for
// the dedup check that runs before any backtest.
func (r *Registry) IsGraveyarded(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM strategy_graveyard WHERE strategy_hash = $1)`, hash)
	if err != nil {
		return false, fmt.Errorf("registry: graveyard lookup %s: %w", hash, err)
	}
	return exists, nil
}

// CycleSummary is one cycle_log row.
type CycleSummary struct {
	CycleNum         int64      `db:"cycle_num"`
	RunID            string     `db:"run_id"`
	StartedAt        time.Time  `db:"started_at"`
	FinishedAt       *time.Time `db:"finished_at"`
	IdeasGenerated   int        `db:"ideas_generated"`
	BacktestsRun     int        `db:"backtests_run"`
	Stage1Passed     int        `db:"stage1_passed"`
	Stage2Passed     int        `db:"stage2_passed"`
	Stage3Passed     int        `db:"stage3_passed"`
	Stage4Passed     int        `db:"stage4_passed"`
	Stage5Passed     int        `db:"stage5_passed"`
	Rejected         int        `db:"rejected"`
	Errors           int        `db:"errors"`
	BestSharpe       float64    `db:"best_sharpe"`
	BestStrategyName string     `db:"best_strategy_name"`
	DurationSeconds  float64    `db:"duration_seconds"`
}

// LogCycle inserts or updates the cycle_log row for CycleNum. Called
// twice per cycle in normal operation: once at start (FinishedAt nil)
// so a crash mid-cycle leaves a visibly open row rather than no row
// at all, and once at completion with the final counts -- the
// crash-recovery scan depends on that open row existing and being
// distinguishable by a NULL finished_at.
func (r *Registry) LogCycle(ctx context.Context, summary CycleSummary) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return retryOnceOnTransient(func() error {
		_, err := r.db.NamedExecContext(ctx, `
			INSERT INTO cycle_log
				(cycle_num, run_id, started_at, finished_at, ideas_generated, backtests_run,
				 stage1_passed, stage2_passed, stage3_passed, stage4_passed, stage5_passed,
				 rejected, errors, best_sharpe, best_strategy_name, duration_seconds)
			VALUES
				(:cycle_num, :run_id, :started_at, :finished_at, :ideas_generated, :backtests_run,
				 :stage1_passed, :stage2_passed, :stage3_passed, :stage4_passed, :stage5_passed,
				 :rejected, :errors, :best_sharpe, :best_strategy_name, :duration_seconds)
			ON CONFLICT (cycle_num) DO UPDATE SET
				finished_at = EXCLUDED.finished_at,
				ideas_generated = EXCLUDED.ideas_generated,
				backtests_run = EXCLUDED.backtests_run,
				stage1_passed = EXCLUDED.stage1_passed,
				stage2_passed = EXCLUDED.stage2_passed,
				stage3_passed = EXCLUDED.stage3_passed,
				stage4_passed = EXCLUDED.stage4_passed,
				stage5_passed = EXCLUDED.stage5_passed,
				rejected = EXCLUDED.rejected,
				errors = EXCLUDED.errors,
				best_sharpe = EXCLUDED.best_sharpe,
				best_strategy_name = EXCLUDED.best_strategy_name,
				duration_seconds = EXCLUDED.duration_seconds`, summary)
		if err != nil {
			return fmt.Errorf("registry: log cycle %d: %w", summary.CycleNum, err)
		}
		return nil
	})
}

// LastCycle returns the most recently started cycle_log row (the one
// with the highest cycle_num), or nil when the table is empty.
// Startup crash recovery uses OrphanCycles and CloseOrphanCycles, not
// this method.
func (r *Registry) LastCycle(ctx context.Context) (*CycleSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var s CycleSummary
	err := r.db.GetContext(ctx, &s, `SELECT * FROM cycle_log ORDER BY cycle_num DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: last cycle: %w", err)
	}
	return &s, nil
}

// OrphanCycles returns cycle_log rows with a NULL finished_at older
// than maxAge -- cycles interrupted by a crash between the backtest
// write and the cycle-summary write.
func (r *Registry) OrphanCycles(ctx context.Context, maxAge time.Duration) ([]CycleSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []CycleSummary
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM cycle_log WHERE finished_at IS NULL AND started_at < $1 ORDER BY cycle_num`,
		time.Now().Add(-maxAge))
	if err != nil {
		return nil, fmt.Errorf("registry: orphan cycles: %w", err)
	}
	return rows, nil
}

// CloseOrphanCycles stamps finished_at on cycle_log rows a crashed
// run left open past maxAge, so a restart never leaves a stale
// NULL-finished_at row behind. Returns the number of rows closed.
func (r *Registry) CloseOrphanCycles(ctx context.Context, maxAge time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE cycle_log SET finished_at = $1 WHERE finished_at IS NULL AND started_at < $2`,
		time.Now(), time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("registry: close orphan cycles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// EquityPoint is one bar of an equity curve, indexed by bar position.
type EquityPoint struct {
	BarIndex int     `db:"bar_index"`
	Equity   float64 `db:"equity"`
}

// WriteEquityCurve atomically replaces the equity_curves rows for
// strategyID: the whole curve is deleted and reinserted inside one
// transaction, so a concurrent reader never observes a half-written
// curve.
func (r *Registry) WriteEquityCurve(ctx context.Context, strategyID string, points []EquityPoint) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: begin equity curve write for %s: %w", strategyID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM equity_curves WHERE strategy_id = $1`, strategyID); err != nil {
		return fmt.Errorf("registry: clear equity curve for %s: %w", strategyID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO equity_curves (strategy_id, bar_index, equity) VALUES ($1, $2, $3)`)
	if err != nil {
		return fmt.Errorf("registry: prepare equity curve insert for %s: %w", strategyID, err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, strategyID, p.BarIndex, p.Equity); err != nil {
			return fmt.Errorf("registry: insert equity point for %s: %w", strategyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: commit equity curve for %s: %w", strategyID, err)
	}
	return nil
}

// WriteTradeLog atomically replaces the trade_logs rows for
// strategyID from a backtest result's reconstructed trades.
func (r *Registry) WriteTradeLog(ctx context.Context, strategyID string, trades []backtest.Trade) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: begin trade log write for %s: %w", strategyID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trade_logs WHERE strategy_id = $1`, strategyID); err != nil {
		return fmt.Errorf("registry: clear trade log for %s: %w", strategyID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trade_logs
			(strategy_id, entry_index, exit_index, direction, entry_price, exit_price, return_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return fmt.Errorf("registry: prepare trade log insert for %s: %w", strategyID, err)
	}
	defer stmt.Close()

	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx, strategyID, t.EntryIndex, t.ExitIndex, t.Direction,
			t.EntryPrice, t.ExitPrice, t.ReturnPct); err != nil {
			return fmt.Errorf("registry: insert trade for %s: %w", strategyID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: commit trade log for %s: %w", strategyID, err)
	}
	return nil
}

// RecordHealth inserts one system_health row -- a point-in-time
// observation the daemon logs during its startup preflight checks
// (data-directory presence, idea-source reachability).
func (r *Registry) RecordHealth(ctx context.Context, component, status, detail string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO system_health (component, status, detail, observed_at) VALUES ($1, $2, $3, $4)`,
		component, status, detail, time.Now())
	if err != nil {
		return fmt.Errorf("registry: record health for %s: %w", component, err)
	}
	return nil
}

// RecordMessage inserts one messages row -- a free-form operator-
// facing note (e.g. "idea source degraded to zero ideas this cycle").
func (r *Registry) RecordMessage(ctx context.Context, level, text string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (level, text, created_at) VALUES ($1, $2, $3)`,
		level, text, time.Now())
	if err != nil {
		return fmt.Errorf("registry: record message: %w", err)
	}
	return nil
}

// LeaderboardRow is one read-only leaderboard entry the dashboard
// collaborator projects.
type LeaderboardRow struct {
	HashID       string  `db:"hash_id"`
	Archetype    string  `db:"archetype"`
	Symbol       string  `db:"symbol"`
	CurrentStage string  `db:"current_stage"`
	Sharpe       float64 `db:"sharpe"`
}

// Leaderboard returns the top strategies by Sharpe, a read-only
// projection the dashboard collaborator consumes.
func (r *Registry) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []LeaderboardRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT hash_id, archetype, symbol, current_stage, sharpe
		FROM winning_strategies
		ORDER BY sharpe DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: leaderboard: %w", err)
	}
	return rows, nil
}

// DeployedStrategies returns every winning_strategies row currently
// at the DEPLOYED stage, for the daemon's periodic redeploy re-check
// (a DEPLOYED strategy whose re-evaluation fails Stage 2 accumulates
// degradation strikes).
func (r *Registry) DeployedStrategies(ctx context.Context) ([]WinningStrategy, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []WinningStrategy
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM winning_strategies WHERE current_stage = $1`, string(lifecycle.StageDeployed))
	if err != nil {
		return nil, fmt.Errorf("registry: deployed strategies: %w", err)
	}
	return rows, nil
}

// LifecycleStrikes reads a strategy's current degradation_strikes
// count, defaulting to 0 for a hash with no row yet.
func (r *Registry) LifecycleStrikes(ctx context.Context, hash string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var strikes int
	err := r.db.GetContext(ctx, &strikes,
		`SELECT degradation_strikes FROM strategy_lifecycle WHERE strategy_hash = $1`, hash)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("registry: read strikes for %s: %w", hash, err)
	}
	return strikes, nil
}

// UpdateWinnerStage updates only the current_stage column of an
// existing winning_strategies row, used when a DEPLOYED strategy is
// archived after exhausting its degradation strikes.
func (r *Registry) UpdateWinnerStage(ctx context.Context, hash, stage string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE winning_strategies SET current_stage = $2, updated_at = $3 WHERE hash_id = $1`,
		hash, stage, time.Now())
	if err != nil {
		return fmt.Errorf("registry: update winner stage for %s: %w", hash, err)
	}
	return nil
}

// PipelineCounts is the read-only per-stage population count the
// dashboard's pipeline view projects.
type PipelineCounts struct {
	Stage string `db:"current_stage"`
	Count int    `db:"count"`
}

// PipelineState returns a count of strategies currently at each
// lifecycle stage.
func (r *Registry) PipelineState(ctx context.Context) ([]PipelineCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []PipelineCounts
	err := r.db.SelectContext(ctx, &rows, `
		SELECT current_stage, COUNT(*) AS count
		FROM strategy_lifecycle
		GROUP BY current_stage`)
	if err != nil {
		return nil, fmt.Errorf("registry: pipeline state: %w", err)
	}
	return rows, nil
}
