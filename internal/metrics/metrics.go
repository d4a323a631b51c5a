// Package metrics wraps a prometheus.Registry with the counters, gauges,
// and histogram the worker exposes, passed by shared reference rather
// than a hidden global.
package metrics

import (
	"bytes"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Registry holds every metric the worker publishes.
type Registry struct {
	reg *prometheus.Registry

	NATSConnectAttempts prometheus.Counter
	NATSConnected       prometheus.Gauge
	SubsActive          prometheus.Gauge
	TaskReceived        prometheus.Counter
	TaskCompleted       prometheus.Counter
	TaskFailed          prometheus.Counter
	TaskTimeout         prometheus.Counter
	TasksInProgress     prometheus.Gauge
	DLQPublishedTotal   prometheus.Counter
	TaskDurationSeconds prometheus.Histogram
}

// New constructs and registers every metric.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		NATSConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_connect_attempts", Help: "Total NATS connect attempts.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nats_connected", Help: "1 if connected to NATS, else 0.",
		}),
		SubsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "subs_active", Help: "Active assign-subject subscriptions.",
		}),
		TaskReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "task_received", Help: "Assignments accepted into the pipeline.",
		}),
		TaskCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "task_completed", Help: "Tasks completed successfully.",
		}),
		TaskFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "task_failed", Help: "Tasks that ended in error.",
		}),
		TaskTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "task_timeout", Help: "Tasks that hit their deadline.",
		}),
		TasksInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tasks_in_progress", Help: "Currently running tasks.",
		}),
		DLQPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dlq_published_total", Help: "Dead-letters published, file and bus combined.",
		}),
		TaskDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "task_duration_seconds", Help: "Task execution duration in seconds.",
		}),
	}

	reg.MustRegister(
		m.NATSConnectAttempts,
		m.NATSConnected,
		m.SubsActive,
		m.TaskReceived,
		m.TaskCompleted,
		m.TaskFailed,
		m.TaskTimeout,
		m.TasksInProgress,
		m.DLQPublishedTotal,
		m.TaskDurationSeconds,
	)

	return m
}

// Handler returns the Prometheus text-exposition HTTP handler for /metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Encode renders the current metric families as Prometheus text exposition,
// used by tests that want the raw bytes without standing up an HTTP server.
func (m *Registry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	mfs, err := m.reg.Gather()
	if err != nil {
		return nil, err
	}
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
