// Package metrics collects run statistics and writes them as a
// node-exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rpmrepo_export"

// Metrics holds the collectors of one run.
type Metrics struct {
	registry *prometheus.Registry

	Jobs          *prometheus.GaugeVec
	Packages      *prometheus.CounterVec
	Errata        *prometheus.GaugeVec
	Repomd        *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	LastRun       prometheus.Gauge
}

// New registers the run collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Jobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Export jobs by final state",
		}, []string{"state"}),
		Packages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packages_checked_total",
			Help:      "Checked packages by signature status",
		}, []string{"status"}),
		Errata: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "errata",
			Help:      "Deduplicated advisories per platform",
		}, []string{"platform"}),
		Repomd: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repomd_total",
			Help:      "Repository metadata files by signing outcome",
		}, []string{"outcome"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Recorded failures by stage and kind",
		}, []string{"stage", "kind"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each run stage",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"stage"}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the run finished",
		}),
	}
}

// Time observes the duration of stage when the returned func is called.
func (m *Metrics) Time(stage string) func() {
	start := time.Now()
	return func() {
		m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile stamps the run end time and writes every collector to path.
// An empty path writes nothing.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	m.LastRun.SetToCurrentTime()
	return prometheus.WriteToTextfile(path, m.registry)
}
