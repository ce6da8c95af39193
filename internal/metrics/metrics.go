// Package metrics exposes Prometheus collectors for the lead service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	leadsRecordedTotal         *prometheus.CounterVec
	leadNotificationsTotal     *prometheus.CounterVec
	databaseProbesTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		leadsRecordedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leads_recorded_total",
				Help: "Accepted lead submissions, labeled by where they were stored.",
			},
			[]string{"stored"},
		)

		leadNotificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lead_notifications_total",
				Help: "Lead event publishes, labeled by result.",
			},
			[]string{"result"},
		)

		databaseProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_probes_total",
				Help: "Diagnostic database probes, labeled by reported status.",
			},
			[]string{"status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveLead counts one accepted lead by storage destination.
func ObserveLead(stored string) {
	Init()
	leadsRecordedTotal.WithLabelValues(stored).Inc()
}

// ObserveNotification counts one publish attempt; result is "ok" or "error".
func ObserveNotification(result string) {
	Init()
	leadNotificationsTotal.WithLabelValues(result).Inc()
}

// ObserveProbe counts one diagnostic probe by status.
func ObserveProbe(status string) {
	Init()
	databaseProbesTotal.WithLabelValues(status).Inc()
}
