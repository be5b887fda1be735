// Command marcusd is the research daemon's entry point: continuous
// cycle scheduling by default, or one-shot --once/--dashboard-only
// runs for cron-style invocation.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/bostonrobbie/marcus/internal/complement"
	"github.com/bostonrobbie/marcus/internal/config"
	"github.com/bostonrobbie/marcus/internal/daemon"
	"github.com/bostonrobbie/marcus/internal/ideasource"
	"github.com/bostonrobbie/marcus/internal/logging"
	"github.com/bostonrobbie/marcus/internal/registry"
)

const appName = "marcusd"

var (
	configPath    string
	once          bool
	dashboardOnly bool
)

func main() {
	root := &cobra.Command{
		Use:   appName,
		Short: "Marcus: autonomous quantitative research engine",
		Long: `marcusd runs the research cycle on a fixed cadence: fetch
candidate strategy ideas, backtest them, and push survivors through the
five-stage lifecycle gate ladder. With no flags it runs continuously
until stopped; --once and --dashboard-only support cron-style
invocation instead of a long-lived process.`,
		RunE: run,
	}

	root.Flags().StringVar(&configPath, "config", "", "path to JSON config file (compiled defaults if omitted)")
	root.Flags().BoolVar(&once, "once", false, "execute exactly one cycle then exit")
	root.Flags().BoolVar(&dashboardOnly, "dashboard-only", false, "trigger one dashboard refresh then exit")

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// startupError marks a fatal startup failure (exit code 1): duplicate
// instance, unreadable config, unopenable registry.
type startupError struct{ err error }

func (e startupError) Error() string { return e.err.Error() }
func (e startupError) Unwrap() error { return e.err }

// exitCodeFor maps a returned error to the process exit codes: 0
// success (handled by cobra returning nil), 1 fatal startup error, 2
// unhandled cycle error from --once.
func exitCodeFor(err error) int {
	var se startupError
	if errors.As(err, &se) {
		return 1
	}
	return 2
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return startupError{fmt.Errorf("marcusd: %w", err)}
	}
	if err := config.LoadSecrets(""); err != nil {
		return startupError{fmt.Errorf("marcusd: load secrets: %w", err)}
	}

	logger := logging.Init(logging.Options{
		Level:           cfg.LogLevel,
		LogsDir:         cfg.LogsDir,
		RotateBytes:     cfg.LogRotateBytes,
		MaxLogFiles:     cfg.MaxLogFiles,
		ConsoleForHuman: isInteractive(),
	})
	logger.Info().Str("app", appName).Msg("starting")

	d, err := buildDaemon(cfg, logger)
	if err != nil {
		return startupError{err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	switch {
	case dashboardOnly:
		if err := d.DashboardOnce(ctx); err != nil {
			return fmt.Errorf("marcusd: dashboard refresh failed: %w", err)
		}
		return nil
	case once:
		if err := d.RunOnce(ctx); err != nil {
			// A single-cycle failure under --once is not a startup
			// error; it surfaces as exit code 2.
			return fmt.Errorf("marcusd: %w", err)
		}
		return nil
	default:
		if err := d.Run(ctx); err != nil {
			return startupError{err}
		}
		return nil
	}
}

// buildDaemon wires the fully-assembled daemon from cfg: the bar
// store (optionally Redis-cached), the idea source, the registry, and
// the reference portfolio.
func buildDaemon(cfg config.Config, logger zerolog.Logger) (*daemon.Daemon, error) {
	var cache barstore.Cache
	if cfg.RedisAddr != "" {
		cache = barstore.NewRedisCache(cfg.RedisAddr, 10*time.Minute)
	}
	bars := barstore.New(cfg.DataDir, cache)

	ideas := ideasource.New(ideasource.Options{
		Enabled:       cfg.IdeaSourceEnabled,
		URL:           cfg.IdeaSourceURL,
		Model:         cfg.IdeaSourceModel,
		APIKey:        config.IdeaSourceAPIKey(),
		RatePerSecond: 0.5,
	})

	portfolio := complement.DefaultPortfolio()
	if cfg.ReferencePortfolioPath != "" {
		if p, err := complement.LoadPortfolio(cfg.ReferencePortfolioPath); err == nil {
			portfolio = p
		} else {
			logger.Warn().Err(err).Msg("reference portfolio unreadable, using compiled default")
		}
	}

	if cfg.RegistryDSN == "" {
		return nil, fmt.Errorf("registry_dsn is required")
	}
	db, err := sqlx.Open("postgres", cfg.RegistryDSN)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping registry: %w", err)
	}
	reg := registry.New(db, 10*time.Second)

	return daemon.New(cfg, logger, reg, bars, ideas, portfolio), nil
}

func isInteractive() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
