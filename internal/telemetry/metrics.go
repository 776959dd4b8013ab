package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aiidateam/renku2-aiida-integration/internal/constants"
)

const namespace = "renku_aiida"

// Metrics records the outcome of bootstrap runs. A nil *Metrics discards
// everything.
type Metrics struct {
	registry        *prometheus.Registry
	runs            *prometheus.CounterVec
	steps           *prometheus.HistogramVec
	profileOutcomes *prometheus.CounterVec
	metadataFetches *prometheus.CounterVec
	lastRun         prometheus.Gauge
}

// NewMetrics creates run metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bootstrap_runs_total",
			Help:      "Bootstrap runs by rendering state and result.",
		}, []string{"state", "result"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bootstrap_step_duration_seconds",
			Help:      "Duration of each bootstrap step.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"step"}),
		profileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_ensure_total",
			Help:      "Profile provisioning attempts by outcome.",
		}, []string{"outcome"}),
		metadataFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_fetch_total",
			Help:      "Catalog metadata fetches, split by whether the result was degraded.",
		}, []string{"degraded"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bootstrap_last_run_timestamp_seconds",
			Help:      "Unix time the last bootstrap run finished.",
		}),
	}
	m.registry.MustRegister(m.runs, m.steps, m.profileOutcomes, m.metadataFetches, m.lastRun)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) ObserveRun(state string, failed bool, finished time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.runs.WithLabelValues(state, result).Inc()
	m.lastRun.Set(float64(finished.Unix()))
}

func (m *Metrics) ObserveProfile(outcome string) {
	if m == nil {
		return
	}
	m.profileOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveMetadata(degraded bool) {
	if m == nil {
		return
	}
	m.metadataFetches.WithLabelValues(fmt.Sprint(degraded)).Inc()
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
// An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
