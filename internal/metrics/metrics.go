// Package metrics exposes Prometheus collectors for the bridge service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsPublishedTotal       *prometheus.CounterVec
	eventsDroppedTotal         prometheus.Counter
	streamSubscribers          prometheus.Gauge
	runsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		eventsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_events_published_total",
				Help: "Total number of events published to the bus, labeled by type.",
			},
			[]string{"type"},
		)

		eventsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_events_dropped_total",
				Help: "Total events evicted from slow subscriber mailboxes.",
			},
		)

		streamSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_stream_subscribers",
				Help: "Number of currently connected event stream subscribers.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_runs_total",
				Help: "Total worker runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EventPublished increments the published-events counter for an event type.
func EventPublished(eventType string) {
	if eventsPublishedTotal == nil {
		return
	}
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// EventDropped counts one mailbox eviction.
func EventDropped() {
	if eventsDroppedTotal == nil {
		return
	}
	eventsDroppedTotal.Inc()
}

// SetSubscribers records the current subscriber count.
func SetSubscribers(n int) {
	if streamSubscribers == nil {
		return
	}
	streamSubscribers.Set(float64(n))
}

// RunCompleted increments the run counter for the given outcome
// (success, failed, spawn_error).
func RunCompleted(outcome string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
