// Package daemon implements the cycle scheduler: it coordinates the
// research cycle (package cycle) on a fixed cadence, persists daemon
// state, and exposes the pause/stop/directive control surface.
//
// The state file is shared with the dashboard, which writes the
// control flags; every routine daemon write merges its own fields
// into whatever is on disk so those flags survive. A PID lock with a
// liveness probe enforces a single running instance.
package daemon

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/bostonrobbie/marcus/internal/complement"
	"github.com/bostonrobbie/marcus/internal/config"
	"github.com/bostonrobbie/marcus/internal/cycle"
	"github.com/bostonrobbie/marcus/internal/ideasource"
	"github.com/bostonrobbie/marcus/internal/lifecycle"
	"github.com/bostonrobbie/marcus/internal/registry"
)

// Daemon is the long-running scheduler. Construct with New, then call
// exactly one of Run, RunOnce, or DashboardOnce.
type Daemon struct {
	cfg       config.Config
	log       zerolog.Logger
	reg       *registry.Registry
	bars      *barstore.Store
	ideas     *ideasource.Source
	portfolio complement.Portfolio
	metrics   *MetricsRegistry
	rng       *rand.Rand

	statePath string
	lockPath  string
}

// New builds a Daemon from its fully-wired collaborators.
func New(cfg config.Config, log zerolog.Logger, reg *registry.Registry, bars *barstore.Store,
	ideas *ideasource.Source, portfolio complement.Portfolio) *Daemon {
	return &Daemon{
		cfg:       cfg,
		log:       log,
		reg:       reg,
		bars:      bars,
		ideas:     ideas,
		portfolio: portfolio,
		metrics:   NewMetricsRegistry(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		statePath: cfg.StateFile,
		lockPath:  cfg.StateFile + ".lock",
	}
}

// preflight runs the non-fatal startup checks: data directory
// non-empty, idea-source reachability. Each failure degrades the run
// with a warning rather than aborting it.
func (d *Daemon) preflight(ctx context.Context) {
	entries, err := os.ReadDir(d.cfg.DataDir)
	if err != nil || len(entries) == 0 {
		d.log.Warn().Str("data_dir", d.cfg.DataDir).Msg("preflight: data directory missing or empty, degraded")
		d.recordHealth(ctx, "data_dir", "degraded", "missing or empty")
	} else {
		d.recordHealth(ctx, "data_dir", "ok", "")
	}

	if d.cfg.IdeaSourceEnabled && d.cfg.IdeaSourceURL != "" {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, d.cfg.IdeaSourceURL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			d.log.Warn().Err(err).Msg("preflight: idea source unreachable, degraded")
			d.recordHealth(ctx, "idea_source", "degraded", err.Error())
		} else {
			resp.Body.Close()
			d.recordHealth(ctx, "idea_source", "ok", "")
		}
	}
}

// recoverOrphanCycles closes cycle_log rows a crashed run left open
// past twice the cycle interval. Each orphan is logged before it is
// closed; the cycle itself is not re-run -- the candidates it already
// persisted stand, and anything it never got to will be regenerated.
func (d *Daemon) recoverOrphanCycles(ctx context.Context) {
	maxAge := 2 * d.cfg.CycleInterval()
	orphans, err := d.reg.OrphanCycles(ctx, maxAge)
	if err != nil {
		d.log.Warn().Err(err).Msg("daemon: orphan cycle scan failed")
		return
	}
	for _, o := range orphans {
		d.log.Warn().Int64("cycle_num", o.CycleNum).Time("started_at", o.StartedAt).
			Msg("daemon: closing cycle row orphaned by a previous crash")
	}
	if len(orphans) > 0 {
		if _, err := d.reg.CloseOrphanCycles(ctx, maxAge); err != nil {
			d.log.Warn().Err(err).Msg("daemon: failed to close orphan cycle rows")
		}
	}
}

func (d *Daemon) recordHealth(ctx context.Context, component, status, detail string) {
	if err := d.reg.RecordHealth(ctx, component, status, detail); err != nil {
		d.log.Warn().Err(err).Str("component", component).Msg("daemon: failed to record health row")
	}
}

// RunOnce executes exactly one cycle and returns, per the CLI's
// --once flag. It does not touch the PID lock or control loop state
// beyond bumping the persisted counters.
func (d *Daemon) RunOnce(ctx context.Context) error {
	d.preflight(ctx)

	state, _ := loadState(d.statePath)
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now()
	}

	summary, err := d.runCycle(ctx, &state)
	if err != nil {
		return fmt.Errorf("daemon: cycle failed: %w", err)
	}
	d.log.Info().Int64("cycle_num", summary.CycleNum).Int("backtests_run", summary.BacktestsRun).
		Int("stage5_passed", summary.Stage5Passed).Msg("once: cycle complete")

	if err := saveState(d.statePath, state); err != nil {
		d.log.Warn().Err(err).Msg("daemon: failed to persist state after --once run")
	}
	return nil
}

// DashboardOnce triggers one dashboard refresh and returns, per the
// CLI's --dashboard-only flag. The dashboard itself is an external
// collaborator; refreshing it here means only updating
// last_dashboard_at so the collaborator's own poll loop picks up the
// signal.
func (d *Daemon) DashboardOnce(ctx context.Context) error {
	state, _ := loadState(d.statePath)
	state.LastDashboardAt = time.Now()
	return saveState(d.statePath, state)
}

// Run starts the continuous control loop, blocking until a stop is
// requested via the state file or a SIGINT/
// SIGTERM is received, then returns after the loop finishes any
// in-flight cycle and writes a final summary.
func (d *Daemon) Run(ctx context.Context) error {
	lock, err := Acquire(d.lockPath)
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	defer lock.Release()

	d.preflight(ctx)
	d.recoverOrphanCycles(ctx)

	state, ok := loadState(d.statePath)
	if !ok {
		d.log.Warn().Msg("daemon: no readable state file, cold start")
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = time.Now()
	}
	// Explicit start clears any stale pause/stop left from a previous
	// run; the file is otherwise authoritative for these flags.
	state.Paused = false
	state.Stopped = false
	if err := saveStateForcingFlags(d.statePath, state, false, false); err != nil {
		d.log.Warn().Err(err).Msg("daemon: failed to persist startup state")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var stopRequested atomic.Bool
	go func() {
		<-sigCh
		d.log.Info().Msg("daemon: shutdown signal received, finishing in-flight cycle")
		stopRequested.Store(true)
	}()

	ticker := time.NewTicker(d.cfg.PollInterval())
	defer ticker.Stop()

	for {
		applyControlFlags(&state, d.statePath)
		if state.Stopped || stopRequested.Load() {
			if err := saveStateForcingFlags(d.statePath, state, false, true); err != nil {
				d.log.Warn().Err(err).Msg("daemon: failed to persist final state")
			}
			return nil
		}

		if state.Paused {
			d.heartbeat(&state)
			if err := saveState(d.statePath, state); err != nil {
				d.log.Warn().Err(err).Msg("daemon: failed to persist state while paused")
			}
			d.sleepOrStop(ctx, ticker)
			continue
		}

		if time.Since(state.LastCycleAt) >= d.cfg.CycleInterval() || state.LastCycleAt.IsZero() {
			summary, err := d.runCycle(ctx, &state)
			if err != nil {
				state.TotalErrors++
				d.log.Error().Err(err).Msg("daemon: cycle errored, backing off")
				d.metrics.ErrorsTotal.Inc()
				time.Sleep(minDuration(60*time.Second, d.cfg.PollInterval()))
			} else if summary.DurationSeconds > d.cfg.SlowCycleThreshold().Seconds() {
				d.log.Warn().Float64("duration_seconds", summary.DurationSeconds).Msg("daemon: slow cycle")
			}
		}

		if time.Since(state.LastDashboardAt) >= d.cfg.DashboardInterval() {
			state.LastDashboardAt = time.Now()
		}

		if time.Since(state.LastHeartbeatAt) >= d.cfg.HeartbeatInterval() {
			d.heartbeat(&state)
		}

		if err := saveState(d.statePath, state); err != nil {
			d.log.Warn().Err(err).Msg("daemon: failed to persist state")
		}

		d.sleepOrStop(ctx, ticker)
	}
}

// sleepOrStop waits for the next poll tick or context cancellation.
// A SIGINT/SIGTERM is handled by the separate goroutine in Run, which
// sets stopRequested; the next tick (at most one poll_interval_s
// later) picks that up at the top of the loop.
func (d *Daemon) sleepOrStop(ctx context.Context, ticker *time.Ticker) {
	select {
	case <-ctx.Done():
	case <-ticker.C:
	}
}

func (d *Daemon) heartbeat(state *State) {
	state.LastHeartbeatAt = time.Now()
	d.log.Info().Int64("total_cycles", state.TotalCycles).Int64("total_errors", state.TotalErrors).
		Msg("daemon: heartbeat")
}

func (d *Daemon) runCycle(ctx context.Context, state *State) (cycle.Summary, error) {
	d.metrics.ActiveCycle.Set(1)
	defer d.metrics.ActiveCycle.Set(0)

	cycleNum := state.TotalCycles + 1
	deps := cycle.Deps{
		Bars:       d.bars,
		IdeaSource: d.ideas,
		Reg:        d.reg,
		Portfolio:  d.portfolio,
		Cfg:        d.cfg,
		Log:        d.log,
		Rng:        d.rng,
	}

	summary, err := cycle.Run(ctx, deps, cycleNum, state.Directive)
	state.TotalCycles = cycleNum
	state.LastCycleAt = time.Now()
	state.TotalErrors += int64(summary.Errors)
	d.metrics.RecordCycle(summary.DurationSeconds, err != nil, summary.BacktestsRun, summary.Rejected, summary.Stage5Passed)

	if lifecycle.ShouldRedeployCheck(int(cycleNum), d.cfg.RedeployCheckEveryNCycles) {
		cycle.RedeployCheck(ctx, deps, cycleNum)
	}

	return summary, err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
