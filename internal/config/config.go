// Package config loads Marcus's flat JSON configuration file: read
// the file and unmarshal it onto the compiled defaults, so any key the
// file omits keeps its compiled default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the flat JSON configuration recognized by the daemon.
type Config struct {
	CycleIntervalMinutes    int `json:"cycle_interval_minutes"`
	DashboardRefreshMinutes int `json:"dashboard_refresh_minutes"`
	HealthCheckMinutes      int `json:"health_check_minutes"`

	DBPath        string `json:"db_path"`
	DataDir       string `json:"data_dir"`
	LogsDir       string `json:"logs_dir"`
	ReportsDir    string `json:"reports_dir"`
	StateFile     string `json:"state_file"`
	DashboardPath string `json:"dashboard_path"`

	LogLevel       string `json:"log_level"`
	LogRotateBytes int64  `json:"log_rotate_bytes"`
	MaxLogFiles    int    `json:"max_log_files"`

	Symbol           string  `json:"symbol"`
	Interval         string  `json:"interval"`
	InitialCapital   float64 `json:"initial_capital"`
	Commission       float64 `json:"commission"`
	Slippage         float64 `json:"slippage"`
	VolatilityFactor float64 `json:"volatility_factor"`
	PointValue       float64 `json:"point_value"`
	BarsPerYear      float64 `json:"bars_per_year"`

	MinTradesS1               int     `json:"min_trades_s1"`
	S2Sharpe                  float64 `json:"s2_sharpe"`
	S2ProfitFactor            float64 `json:"s2_pf"`
	S2MaxDrawdownPct          float64 `json:"s2_max_dd"`
	S2WinRate                 float64 `json:"s2_wr"`
	S3SharpeFloor             float64 `json:"s3_sharpe_floor"`
	S3PerturbationDelta       float64 `json:"s3_perturbation_delta"`
	PMax                      float64 `json:"p_max"`
	DSRFloor                  float64 `json:"dsr_floor"`
	VarFloor                  float64 `json:"var_floor"`
	NMonteCarlo               int     `json:"n_mc"`
	NPermutation              int     `json:"n_perm"`
	ComplementFloor           float64 `json:"complement_floor"`
	MaxStrikes                int     `json:"max_strikes"`
	RedeployCheckEveryNCycles int     `json:"redeploy_check_every_n_cycles"`

	IdeaSourceEnabled bool   `json:"idea_source_enabled"`
	IdeaSourceURL     string `json:"idea_source_url"`
	IdeaSourceModel   string `json:"idea_source_model"`

	ReferencePortfolioPath string `json:"reference_portfolio_path"`
	RedisAddr              string `json:"redis_addr"`
	RegistryDSN            string `json:"registry_dsn"`

	SlowCycleThresholdSeconds int `json:"slow_cycle_threshold_seconds"`
	PollIntervalSeconds       int `json:"poll_interval_s"`
}

// Default returns the compiled-in default configuration.
func Default() Config {
	return Config{
		CycleIntervalMinutes:    240,
		DashboardRefreshMinutes: 15,
		HealthCheckMinutes:      5,

		DBPath:        "data/marcus.db",
		DataDir:       "data",
		LogsDir:       "logs",
		ReportsDir:    "reports",
		StateFile:     "state/daemon_state.json",
		DashboardPath: "dashboard/index.html",

		LogLevel:       "info",
		LogRotateBytes: 10 * 1024 * 1024,
		MaxLogFiles:    5,

		Symbol:           "NQ",
		Interval:         "5m",
		InitialCapital:   100000.0,
		Commission:       1.0,
		Slippage:         1.0,
		VolatilityFactor: 0.01,
		PointValue:       20.0,
		BarsPerYear:      252.0 * 78.0, // ~78 five-minute RTH bars/day

		MinTradesS1:               200,
		S2Sharpe:                  1.0,
		S2ProfitFactor:            1.3,
		S2MaxDrawdownPct:          20.0,
		S2WinRate:                 0.40,
		S3SharpeFloor:             0.5,
		S3PerturbationDelta:       0.10,
		PMax:                      0.05,
		DSRFloor:                  0.0,
		VarFloor:                  -0.25,
		NMonteCarlo:               1000,
		NPermutation:              500,
		ComplementFloor:           50.0,
		MaxStrikes:                3,
		RedeployCheckEveryNCycles: 10,

		IdeaSourceEnabled: false,
		IdeaSourceURL:     "",
		IdeaSourceModel:   "",

		ReferencePortfolioPath: "config/reference_portfolio.yaml",
		RedisAddr:              "",
		RegistryDSN:            "",

		SlowCycleThresholdSeconds: 600,
		PollIntervalSeconds:       30,
	}
}

// Load reads a JSON config file from path, applying compiled defaults to
// any key the file omits; a key present in the file overrides its
// default even when its value is zero. A missing file is a fatal
// startup error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	// Unmarshal onto the defaults so unspecified keys keep their default.
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// CycleInterval returns the configured cycle cadence as a duration.
func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMinutes) * time.Minute
}

// DashboardInterval returns the configured dashboard refresh cadence.
func (c Config) DashboardInterval() time.Duration {
	return time.Duration(c.DashboardRefreshMinutes) * time.Minute
}

// HeartbeatInterval returns the configured heartbeat cadence.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HealthCheckMinutes) * time.Minute
}

// PollInterval returns the inter-iteration sleep duration.
func (c Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SlowCycleThreshold returns the duration past which a cycle is logged
// as slow but not aborted.
func (c Config) SlowCycleThreshold() time.Duration {
	if c.SlowCycleThresholdSeconds <= 0 {
		return 600 * time.Second
	}
	return time.Duration(c.SlowCycleThresholdSeconds) * time.Second
}
