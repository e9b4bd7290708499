// Package metrics groups the Prometheus instruments of the experiment
// core. A nil *Metrics is valid and records nothing, so components can
// run without a registry in tests and in the terminal UI.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crosstask"

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted       *prometheus.CounterVec
	ActiveSessions        prometheus.Gauge
	TasksCompleted        *prometheus.CounterVec
	TaskDuration          *prometheus.HistogramVec
	EnhancementsActivated *prometheus.CounterVec
	Breaks                *prometheus.CounterVec
	SessionsBlocked       *prometheus.CounterVec
	ChatPrompts           *prometheus.CounterVec
	ChatFailures          prometheus.Counter
	ChatLatency           prometheus.Histogram
	RecorderQueueDepth    prometheus.Gauge
	RecorderFailures      *prometheus.CounterVec
	HTTPRequests          *prometheus.CounterVec
	WSMessages            *prometheus.CounterVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions started by mode.",
		}, []string{"mode"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live sessions.",
		}),
		TasksCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Task completions by task and correctness.",
		}, []string{"task", "correct"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent on a task before completing it.",
			Buckets:   []float64{5, 10, 20, 30, 60, 90, 120, 180, 300},
		}, []string{"family"}),
		EnhancementsActivated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enhancements_activated_total",
			Help:      "Dependency rule firings by effect.",
		}, []string{"effect"}),
		Breaks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaks_total",
			Help:      "Breaks by outcome (started, superseded, finished).",
		}, []string{"outcome"}),
		SessionsBlocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_blocked_total",
			Help:      "Sessions ended by a watchdog, by reason.",
		}, []string{"reason"}),
		ChatPrompts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_prompts_total",
			Help:      "Chat prompts by result (granted, tokens, prompts).",
		}, []string{"result"}),
		ChatFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_failures_total",
			Help:      "Reply service failures.",
		}),
		ChatLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_latency_ms",
			Help:      "Reply service latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}),
		RecorderQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recorder_queue_depth",
			Help:      "Events waiting to be persisted.",
		}),
		RecorderFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_failures_total",
			Help:      "Persistence failures by operation.",
		}, []string{"op"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Websocket frames by direction and type.",
		}, []string{"direction", "type"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionStarted(mode string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(mode).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) TaskCompleted(taskID, family string, correct bool, spent time.Duration) {
	if m == nil {
		return
	}
	c := "false"
	if correct {
		c = "true"
	}
	m.TasksCompleted.WithLabelValues(taskID, c).Inc()
	m.TaskDuration.WithLabelValues(family).Observe(spent.Seconds())
}

func (m *Metrics) EnhancementActivated(effect string) {
	if m == nil {
		return
	}
	m.EnhancementsActivated.WithLabelValues(effect).Inc()
}

func (m *Metrics) Break(outcome string) {
	if m == nil {
		return
	}
	m.Breaks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionBlocked(reason string) {
	if m == nil {
		return
	}
	m.SessionsBlocked.WithLabelValues(reason).Inc()
}

func (m *Metrics) ChatPrompt(result string) {
	if m == nil {
		return
	}
	m.ChatPrompts.WithLabelValues(result).Inc()
}

func (m *Metrics) ChatFailed() {
	if m == nil {
		return
	}
	m.ChatFailures.Inc()
}

// ObserveChatLatency records one reply round trip.
func (m *Metrics) ObserveChatLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ChatLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.RecorderQueueDepth.Set(float64(n))
}

func (m *Metrics) RecorderFailed(op string) {
	if m == nil {
		return
	}
	m.RecorderFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) WSMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, typ).Inc()
}
