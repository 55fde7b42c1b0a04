// Package metrics exposes drawer-hal's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "drawer_hal"

// Collector records drawer activations and HTTP traffic. It satisfies
// drawer.Recorder.
type Collector struct {
	registry *prometheus.Registry

	openTotal    *prometheus.CounterVec
	openDuration *prometheus.HistogramVec
	attempts     *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// NewCollector creates and registers all collectors.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.openTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "drawer",
			Name:      "open_total",
			Help:      "Drawer open invocations by transport and outcome.",
		},
		[]string{"type", "success"},
	)

	c.openDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "drawer",
			Name:      "open_duration_seconds",
			Help:      "Wall time of one drawer open invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"type"},
	)

	c.attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "drawer",
			Name:      "attempts_total",
			Help:      "Individual probe, network and serial attempts by outcome.",
		},
		[]string{"transport", "outcome"},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"method", "route"},
	)

	c.httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	c.registry.MustRegister(
		c.openTotal,
		c.openDuration,
		c.attempts,
		c.httpRequests,
		c.httpDuration,
		c.httpInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveOpen records one finished drawer open.
func (c *Collector) ObserveOpen(transport string, success bool, d time.Duration) {
	if transport == "" {
		transport = "unknown"
	}
	c.openTotal.WithLabelValues(transport, strconv.FormatBool(success)).Inc()
	c.openDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// ObserveAttempt records one probe or delivery attempt.
func (c *Collector) ObserveAttempt(transport, outcome string) {
	c.attempts.WithLabelValues(transport, outcome).Inc()
}

// Instrument wraps a handler with HTTP request metrics. Routes are labelled
// by their chi pattern so path parameters don't explode cardinality.
func (c *Collector) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		c.httpInFlight.Inc()
		defer c.httpInFlight.Dec()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
