package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects counters and histograms for the action loop.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// ActionCounter counts dispatched actions.
	// Labels: kind (click|scroll|keypress|type|wait|screenshot|unrecognized),
	// outcome (success|execution_failed|unrecognized|dispatch_failed)
	ActionCounter *prometheus.CounterVec

	// IterationCounter counts completed loop iterations.
	IterationCounter prometheus.Counter

	// AgentRequestCounter counts remote agent round trips.
	// Labels: status (success|error)
	AgentRequestCounter *prometheus.CounterVec

	// AgentRequestDuration measures remote agent latency in seconds.
	AgentRequestDuration prometheus.Histogram

	// CommandDuration measures environment command latency in seconds.
	// Labels: program, status (success|error)
	CommandDuration *prometheus.HistogramVec

	// ScreenshotBytes tracks the size of captured screenshots.
	ScreenshotBytes prometheus.Histogram
}

// NewMetrics creates the loop metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskrelay_actions_total",
				Help: "Total number of agent actions dispatched by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		IterationCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deskrelay_loop_iterations_total",
				Help: "Total number of completed action loop iterations",
			},
		),

		AgentRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskrelay_agent_requests_total",
				Help: "Total number of remote agent requests by status",
			},
			[]string{"status"},
		),

		AgentRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deskrelay_agent_request_duration_seconds",
				Help:    "Duration of remote agent requests in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskrelay_command_duration_seconds",
				Help:    "Duration of environment commands in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
			},
			[]string{"program", "status"},
		),

		ScreenshotBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deskrelay_screenshot_bytes",
				Help:    "Size of captured screenshots in bytes",
				Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8),
			},
		),
	}
}

// ActionDispatched records one dispatched action.
func (m *Metrics) ActionDispatched(kind, outcome string) {
	if m == nil {
		return
	}
	m.ActionCounter.WithLabelValues(kind, outcome).Inc()
}

// IterationCompleted records one completed loop iteration.
func (m *Metrics) IterationCompleted() {
	if m == nil {
		return
	}
	m.IterationCounter.Inc()
}

// AgentRequest records one remote agent round trip.
func (m *Metrics) AgentRequest(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AgentRequestCounter.WithLabelValues(statusLabel(err)).Inc()
	m.AgentRequestDuration.Observe(elapsed.Seconds())
}

// CommandObserved records one environment command. Its signature matches
// sandbox.Observer.
func (m *Metrics) CommandObserved(program string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.CommandDuration.WithLabelValues(program, statusLabel(err)).Observe(elapsed.Seconds())
}

// ScreenshotCaptured records the size of one screenshot.
func (m *Metrics) ScreenshotCaptured(size int) {
	if m == nil {
		return
	}
	m.ScreenshotBytes.Observe(float64(size))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
