// ABOUTME: Prometheus metrics for chatdeck request, generation and session activity
// ABOUTME: Registered on a private registry served by Handler

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/chatdeck/internal/upstream"
)

const namespace = "chatdeck"

// Metrics holds all Prometheus metrics for chatdeck
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Collaborator metrics
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	ImagesTotal        *prometheus.CounterVec

	// Session metrics
	ActiveSessions   prometheus.Gauge
	EventSubscribers prometheus.Gauge
	DuplicateSends   prometheus.Counter

	StartTime time.Time
}

// New creates and registers all metrics on a fresh registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg, StartTime: time.Now()}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.GenerationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Chat replies by result (success, failure, discarded) and error kind",
		},
		[]string{"result", "kind"},
	)

	m.GenerationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent waiting for the chat model",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"result"},
	)

	m.ImagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_total",
			Help:      "Image generations by result and error kind",
		},
		[]string{"result", "kind"},
	)

	m.ActiveSessions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of user sessions held in memory",
	})

	m.EventSubscribers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_subscribers",
		Help:      "Number of open session event streams",
	})

	m.DuplicateSends = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_sends_total",
		Help:      "Sends rejected because their idempotency key was already used",
	})

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// GenerationFinished records a settled chat send
func (m *Metrics) GenerationFinished(result string, kind upstream.Kind, elapsed time.Duration) {
	m.GenerationsTotal.WithLabelValues(result, string(kind)).Inc()
	m.GenerationDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ImageFinished records an image generation; err is nil on success
func (m *Metrics) ImageFinished(err error) {
	if err == nil {
		m.ImagesTotal.WithLabelValues("success", "").Inc()
		return
	}
	m.ImagesTotal.WithLabelValues("failure", string(upstream.KindOf(err))).Inc()
}
