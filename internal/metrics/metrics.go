// Package metrics exposes Prometheus collectors for the Tabichan SDK.
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
	requestsTotal          *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	wsSessionsActive       prometheus.Gauge
	wsEventsTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabichan_requests_total",
				Help: "Total number of API requests, labeled by endpoint, method, and code.",
			},
			[]string{"endpoint", "method", "code"},
		)

		requestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tabichan_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by endpoint and method.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint", "method"},
		)

		wsSessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabichan_ws_sessions_active",
				Help: "Number of WebSocket sessions currently open.",
			},
		)

		wsEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabichan_ws_events_total",
				Help: "Total number of WebSocket frames received, labeled by frame type.",
			},
			[]string{"type"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one API request. A code of 0 means the request
// never produced a response (transport error).
func ObserveRequest(endpoint, method string, code int, duration time.Duration) {
	if requestsTotal == nil {
		return
	}
	requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(code)).Inc()
	requestDurationSeconds.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// IncWSSessions increments the active session gauge.
func IncWSSessions() {
	if wsSessionsActive == nil {
		return
	}
	wsSessionsActive.Inc()
}

// DecWSSessions decrements the active session gauge.
func DecWSSessions() {
	if wsSessionsActive == nil {
		return
	}
	wsSessionsActive.Dec()
}

// ObserveWSEvent counts one inbound WebSocket frame by type.
func ObserveWSEvent(frameType string) {
	if wsEventsTotal == nil {
		return
	}
	if frameType == "" {
		frameType = "unknown"
	}
	wsEventsTotal.WithLabelValues(frameType).Inc()
}
