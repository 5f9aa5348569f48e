// Package metrics exposes the gateway's Prometheus instrumentation,
// served on GET /metrics from the main listener.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records every gateway metric.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ttftSeconds     *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	activeRequests  prometheus.Gauge
	dbQueueDepth    prometheus.Gauge
	authFailures    *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the gateway metrics on the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Model requests by endpoint family, provider, and status class",
		},
		[]string{"endpoint", "provider", "status"},
	)
	c.requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end model request duration",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint", "provider"},
	)
	c.ttftSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ttft_seconds",
			Help:      "Time to first streamed output token",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)
	c.tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Token throughput by provider and direction",
		},
		[]string{"provider", "type"},
	)
	c.activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Model requests currently in flight",
		},
	)
	c.dbQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_write_queue_depth",
			Help:      "Pending writes in the store queue",
		},
	)
	c.authFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected model-endpoint authentications",
		},
		[]string{"endpoint"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordRequest records one terminal model request.
func (c *Collector) RecordRequest(endpoint, provider string, status int, duration, ttft time.Duration, inputTokens, outputTokens, cachedTokens int) {
	c.requestsTotal.WithLabelValues(endpoint, provider, statusClass(status)).Inc()
	c.requestDuration.WithLabelValues(endpoint, provider).Observe(duration.Seconds())
	if ttft > 0 {
		c.ttftSeconds.WithLabelValues(provider).Observe(ttft.Seconds())
	}
	c.tokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	c.tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	c.tokensTotal.WithLabelValues(provider, "cached").Add(float64(cachedTokens))
}

// RecordAuthFailure counts a rejected model-endpoint authentication.
func (c *Collector) RecordAuthFailure(endpoint string) {
	c.authFailures.WithLabelValues(endpoint).Inc()
}

// RequestStarted marks a request entering flight.
func (c *Collector) RequestStarted() { c.activeRequests.Inc() }

// RequestFinished marks a request leaving flight.
func (c *Collector) RequestFinished() { c.activeRequests.Dec() }

// QueueGauge returns the gauge tracking store write-queue depth, shaped
// for store.Options.
func (c *Collector) QueueGauge() prometheus.Gauge { return c.dbQueueDepth }

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
