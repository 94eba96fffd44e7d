package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/bookingdesk/internal/ratelimit"
	"github.com/Tyrowin/bookingdesk/internal/session"
)

const metricsNamespace = "bookingdesk"

// Metrics holds the Prometheus collectors exported at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RateLimited     *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
}

// NewMetrics registers the request collectors plus gauges that read live
// values from registry and limiter at scrape time. Either may be nil.
func NewMetrics(registry *session.Registry, limiter *ratelimit.Limiter) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "Requests and messages rejected by the rate limiter",
			},
			[]string{"pool"},
		),
		WSMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ws_messages_total",
				Help:      "WebSocket frames received from clients",
			},
			[]string{"endpoint", "type"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.RateLimited, m.WSMessages)

	if registry != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "ws_connections_active",
				Help:      "Number of registered WebSocket sessions",
			}, func() float64 { return float64(registry.ActiveConnections()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "broadcast_pruned_total",
				Help:      "Sessions removed after a failed delivery",
			}, func() float64 { return float64(registry.Pruned()) }),
		)
	}

	if limiter != nil {
		for _, p := range []ratelimit.Pool{ratelimit.PoolHTTP, ratelimit.PoolWS} {
			reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   metricsNamespace,
				Name:        "ratelimit_keys",
				Help:        "Number of keys tracked by the rate limiter",
				ConstLabels: prometheus.Labels{"pool": string(p)},
			}, func() float64 { return float64(limiter.Len(p)) }))
		}
	}

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(methodLabel(method), strconv.Itoa(status)).Inc()
	m.RequestDuration.Observe(duration.Seconds())
}

// methodLabel bounds the method label to the methods the server routes.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions:
		return method
	default:
		return "other"
	}
}

// RecordRateLimited records a rejection from pool.
func (m *Metrics) RecordRateLimited(pool ratelimit.Pool) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(string(pool)).Inc()
}

// RecordWSMessage records an inbound frame on endpoint.
func (m *Metrics) RecordWSMessage(endpoint, frameType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(endpoint, frameType).Inc()
}
