// Package metrics exposes sync run metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/septivank/energy-sync-worker/internal/series"
)

const (
	metricPrefix = "energy_sync_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultBusy    = "busy"
)

// Metrics holds the sync collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	accountFetches   *prometheus.CounterVec
	pointsWritten    *prometheus.CounterVec
	pointsRejected   prometheus.Counter
	skippedWindows   prometheus.Counter
	lastSuccess      prometheus.Gauge
	credentialWrites *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total sync runs by result",
			},
			[]string{"result"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		accountFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "account_fetches_total",
				Help: "Account fetches by provider and result",
			},
			[]string{"provider", "result"},
		),
		pointsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "points_written_total",
				Help: "Points written to storage by measurement",
			},
			[]string{"measurement"},
		),
		pointsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "points_rejected_total",
			Help: "Points dropped by validation",
		}),
		skippedWindows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "load_curve_windows_skipped_total",
			Help: "Load curve sub-windows that could not be fetched",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_success_timestamp_seconds",
			Help: "Unix time of the last run whose write succeeded",
		}),
		credentialWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "credential_refreshes_total",
				Help: "Token refresh persistence attempts by result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.runs,
		m.runDuration,
		m.accountFetches,
		m.pointsWritten,
		m.pointsRejected,
		m.skippedWindows,
		m.lastSuccess,
		m.credentialWrites,
	)
	return m
}

// RecordRun records a finished run
func (m *Metrics) RecordRun(result string, duration time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if result == ResultBusy {
		return
	}
	m.runDuration.Observe(duration.Seconds())
	if result == ResultSuccess {
		m.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// RecordAccount records the outcome of one account fetch
func (m *Metrics) RecordAccount(provider string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.accountFetches.WithLabelValues(provider, result).Inc()
}

// RecordWritten counts written points per measurement
func (m *Metrics) RecordWritten(points []series.Point) {
	if m == nil {
		return
	}
	counts := make(map[string]int)
	for _, p := range points {
		counts[p.Measurement]++
	}
	for measurement, n := range counts {
		m.pointsWritten.WithLabelValues(measurement).Add(float64(n))
	}
}

// RecordRejected counts points dropped by validation
func (m *Metrics) RecordRejected(n int) {
	if m == nil {
		return
	}
	m.pointsRejected.Add(float64(n))
}

// RecordSkippedWindows counts skipped load curve sub-windows
func (m *Metrics) RecordSkippedWindows(n int) {
	if m == nil {
		return
	}
	m.skippedWindows.Add(float64(n))
}

// RecordCredentialRefresh records a token refresh persistence attempt
func (m *Metrics) RecordCredentialRefresh(err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.credentialWrites.WithLabelValues(result).Inc()
}
