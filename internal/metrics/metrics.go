package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Remote task metrics
	TasksSubmitted *prometheus.CounterVec
	TaskPolls      *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec

	// Pipeline metrics
	ImageSlots *prometheus.CounterVec
	Videos     *prometheus.CounterVec
	Jobs       *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a private registry so several
// instances (tests, two front ends in one process) never collide.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dance_studio"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "task",
				Name:      "submitted_total",
				Help:      "Remote generation tasks submitted",
			},
			[]string{"kind", "result"}, // result: ok, error
		),
		TaskPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "task",
				Name:      "polls_total",
				Help:      "Status polls issued for remote tasks",
			},
			[]string{"kind"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "task",
				Name:      "duration_seconds",
				Help:      "Time from submission to terminal task state",
				Buckets:   []float64{5, 10, 20, 30, 60, 90, 120, 180, 240, 360, 600},
			},
			[]string{"kind", "outcome"}, // outcome: success, failed, timeout, error
		),

		ImageSlots: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "image_slots_total",
				Help:      "Image fan-out slots by outcome",
			},
			[]string{"status"},
		),
		Videos: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "videos_total",
				Help:      "Video requests by outcome",
			},
			[]string{"status"},
		),
		Jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "jobs_total",
				Help:      "Jobs reaching a terminal or ready state",
			},
			[]string{"status"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
	}
}

// Handler exposes the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) TaskSubmitted(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TasksSubmitted.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) TaskPolled(kind string) {
	if m == nil {
		return
	}
	m.TaskPolls.WithLabelValues(kind).Inc()
}

func (m *Metrics) TaskFinished(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

func (m *Metrics) SlotFinished(status string) {
	if m == nil {
		return
	}
	m.ImageSlots.WithLabelValues(status).Inc()
}

func (m *Metrics) VideoFinished(status string) {
	if m == nil {
		return
	}
	m.Videos.WithLabelValues(status).Inc()
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(status).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
