package daemon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry holds the daemon's Prometheus instrumentation,
// observability only -- there is no /metrics HTTP exposition wired
// up. The collectors are registered on a private prometheus.Registry
// that this type does not expose.
type MetricsRegistry struct {
	CycleDuration *prometheus.HistogramVec
	CyclesTotal   *prometheus.CounterVec
	ErrorsTotal   prometheus.Counter
	ActiveCycle   prometheus.Gauge
	LastCycleAt   prometheus.Gauge
	Backtests     prometheus.Counter
	Rejected      prometheus.Counter
	Winners       prometheus.Counter
}

// NewMetricsRegistry builds the daemon's metrics and registers them
// against a fresh prometheus.Registry (not the global DefaultRegisterer,
// since nothing in this process currently exposes promhttp.Handler --
// this keeps repeated construction, e.g. across --once invocations or
// tests, from panicking on duplicate registration).
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marcus_cycle_duration_seconds",
				Help:    "Duration of each research cycle in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
			},
			[]string{"outcome"},
		),
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marcus_cycles_total",
				Help: "Total number of research cycles run, by outcome",
			},
			[]string{"outcome"},
		),
		ErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marcus_errors_total",
				Help: "Total number of control-loop level errors",
			},
		),
		ActiveCycle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marcus_cycle_active",
				Help: "1 while a research cycle is in flight, 0 otherwise",
			},
		),
		LastCycleAt: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marcus_last_cycle_unixtime",
				Help: "Unix timestamp of the last completed cycle",
			},
		),
		Backtests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marcus_backtests_run_total",
				Help: "Total number of candidate backtests executed",
			},
		),
		Rejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marcus_candidates_rejected_total",
				Help: "Total number of candidates rejected at any stage gate",
			},
		),
		Winners: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marcus_stage5_passed_total",
				Help: "Total number of candidates that reached STAGE5_PASS",
			},
		),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m.CycleDuration, m.CyclesTotal, m.ErrorsTotal, m.ActiveCycle,
		m.LastCycleAt, m.Backtests, m.Rejected, m.Winners,
	)
	return m
}

// RecordCycle folds a completed cycle summary into the registry.
func (m *MetricsRegistry) RecordCycle(durationSeconds float64, errored bool, backtestsRun, rejected, stage5Passed int) {
	outcome := "ok"
	if errored {
		outcome = "errored"
	}
	m.CycleDuration.WithLabelValues(outcome).Observe(durationSeconds)
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.LastCycleAt.Set(float64(time.Now().Unix()))
	m.Backtests.Add(float64(backtestsRun))
	m.Rejected.Add(float64(rejected))
	m.Winners.Add(float64(stage5Passed))
}
