package telemetry

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates run-level counters and stage timings on a private
// registry, written out as a text snapshot with the run artifacts.
type Metrics struct {
	registry *prometheus.Registry

	fundsScored   prometheus.Counter
	fundsUnscored *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// NewMetrics builds a registry with the fundrank collectors registered.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.fundsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fundrank_funds_scored_total",
		Help: "Funds that received a composite score this run.",
	})
	m.fundsUnscored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fundrank_funds_unscored_total",
		Help: "Funds recorded as unscored, by pipeline stage.",
	}, []string{"stage"})
	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundrank_stage_duration_seconds",
		Help:    "Wall-clock duration of each pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"stage"})
	m.registry.MustRegister(m.fundsScored, m.fundsUnscored, m.stageDuration)
	return m
}

// FundScored increments the scored counter.
func (m *Metrics) FundScored() { m.fundsScored.Inc() }

// FundUnscored increments the unscored counter for a stage.
func (m *Metrics) FundUnscored(stage string) { m.fundsUnscored.WithLabelValues(stage).Inc() }

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// WriteSnapshot dumps the gathered metrics in text exposition format into
// the run's artifact directory.
func (m *Metrics) WriteSnapshot(dir string) (string, error) {
	path := filepath.Join(dir, "metrics.prom")
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return "", fmt.Errorf("writing metrics snapshot: %w", err)
	}
	return path, nil
}
