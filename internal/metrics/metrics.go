package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/alexisbeaulieu97/stagehand/internal/config"
	"github.com/alexisbeaulieu97/stagehand/internal/installer"
)

// Metrics holds the Prometheus collectors for commands and installation runs.
// A disabled instance accepts every call and records nothing.
type Metrics struct {
	commands      *prometheus.CounterVec
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	transferBytes prometheus.Counter
	activeRuns    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates collectors registered on a private registry.
func New(cfg config.MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}
	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Commands dispatched, by audit action",
			},
			[]string{"action"},
		),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Installation runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Installation runs finished, by terminal status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of installation runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "result"},
		),
		transferBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Artifact bytes held on disk at the end of each run",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Installation runs currently in progress",
		}),
	}

	registry.MustRegister(
		m.commands,
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stageDuration,
		m.transferBytes,
		m.activeRuns,
	)
	return m
}

// Enabled reports whether collectors are registered.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordCommand counts one dispatched command by its audit action.
func (m *Metrics) RecordCommand(action string) {
	if !m.Enabled() {
		return
	}
	m.commands.WithLabelValues(action).Inc()
}

// OnInstallStart implements installer.Hooks.
func (m *Metrics) OnInstallStart(context.Context, string, config.Profile) {
	if !m.Enabled() {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// OnInstallComplete implements installer.Hooks.
func (m *Metrics) OnInstallComplete(_ context.Context, state installer.State) {
	if !m.Enabled() {
		return
	}
	m.activeRuns.Dec()
	m.runsCompleted.WithLabelValues(string(state.Status)).Inc()
	m.runDuration.Observe(state.Duration(state.EndTime).Seconds())
	if state.Transfer.Downloaded > 0 {
		m.transferBytes.Add(float64(state.Transfer.Downloaded))
	}
}

// OnStageFinished implements installer.StageObserver.
func (m *Metrics) OnStageFinished(stage string, elapsed time.Duration, err error) {
	if !m.Enabled() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(elapsed.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Summary renders counters and gauges as "name{labels} value" lines, sorted by name.
func (m *Metrics) Summary() (string, error) {
	if !m.Enabled() {
		return "metrics are disabled", nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var lines []string
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			name := family.GetName() + formatLabels(metric.GetLabel())
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetCounter().GetValue()))
			case dto.MetricType_GAUGE:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetGauge().GetValue()))
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%.3fs", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	if len(lines) == 0 {
		return "no metrics recorded yet", nil
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
