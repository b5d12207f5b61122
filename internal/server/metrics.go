package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the HTTP surface and the realtime
// session.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	UIClientsActive prometheus.Gauge

	SessionTransitions *prometheus.CounterVec
	SessionErrors      *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicecanvas"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"endpoint", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	uiClientsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ui_clients_active",
			Help:      "Number of connected UI websocket clients",
		},
	)

	sessionTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Realtime session status transitions",
		},
		[]string{"status", "reason"},
	)

	sessionErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Non-fatal session errors by code",
		},
		[]string{"code"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		uiClientsActive,
		sessionTransitions,
		sessionErrors,
	)

	return &Metrics{
		registry:           registry,
		RequestsTotal:      requestsTotal,
		RequestDuration:    requestDuration,
		UIClientsActive:    uiClientsActive,
		SessionTransitions: sessionTransitions,
		SessionErrors:      sessionErrors,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordSessionTransition(status, reason string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) RecordSessionError(code string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) clientConnected() {
	if m != nil {
		m.UIClientsActive.Inc()
	}
}

func (m *Metrics) clientDisconnected() {
	if m != nil {
		m.UIClientsActive.Dec()
	}
}
