// Package metrics exposes watcher metrics in Prometheus format.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional metrics handle without nil checks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "instancewatch"

// Evaluation results used as the "result" label.
const (
	ResultOperating    = "operating"
	ResultNotOperating = "not_operating"
	ResultDisabled     = "disabled"
)

// Command results used as the "result" label.
const (
	CommandOK     = "ok"
	CommandFailed = "failed"
)

// Metrics holds the watcher's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	evaluations        *prometheus.CounterVec
	evaluationErrors   prometheus.Counter
	evaluationDuration prometheus.Histogram
	notOperating       prometheus.Gauge
	instances          prometheus.Gauge
	coalesced          prometheus.Counter
	commands           *prometheus.CounterVec
	scheduleFires      prometheus.Counter
}

// New creates and registers the watcher metrics together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Completed status evaluations by result",
		}, []string{"result"}),

		evaluationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_errors_total",
			Help:      "Evaluation passes aborted by a missing or malformed read",
		}),

		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent in one evaluation pass",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		}),

		notOperating: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "not_operating",
			Help:      "Enabled instances that are not operating",
		}),

		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances",
			Help:      "Watched instances",
		}),

		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Update requests absorbed by a pending debounce timer",
		}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_commands_total",
			Help:      "On/off commands by action and result",
		}, []string{"action", "result"}),

		scheduleFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fires_total",
			Help:      "Expected runs of scheduled instances",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.evaluations,
		m.evaluationErrors,
		m.evaluationDuration,
		m.notOperating,
		m.instances,
		m.coalesced,
		m.commands,
		m.scheduleFires,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvaluation records a completed pass.
func (m *Metrics) ObserveEvaluation(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(result).Inc()
	m.evaluationDuration.Observe(d.Seconds())
}

// EvaluationFailed records an aborted pass.
func (m *Metrics) EvaluationFailed() {
	if m == nil {
		return
	}
	m.evaluationErrors.Inc()
}

// SetNotOperating sets the size of the enabled-not-operating list.
func (m *Metrics) SetNotOperating(n int) {
	if m == nil {
		return
	}
	m.notOperating.Set(float64(n))
}

// SetInstances sets the catalog size.
func (m *Metrics) SetInstances(n int) {
	if m == nil {
		return
	}
	m.instances.Set(float64(n))
}

// Coalesced records a request absorbed by the debounce.
func (m *Metrics) Coalesced(string) {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// ControlCommand records an on/off command.
func (m *Metrics) ControlCommand(action string, err error) {
	if m == nil {
		return
	}
	result := CommandOK
	if err != nil {
		result = CommandFailed
	}
	m.commands.WithLabelValues(action, result).Inc()
}

// ScheduleFired records an expected run.
func (m *Metrics) ScheduleFired(string) {
	if m == nil {
		return
	}
	m.scheduleFires.Inc()
}
