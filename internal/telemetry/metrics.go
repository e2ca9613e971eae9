// Package telemetry holds the logger setup and the Prometheus metrics.
//
// Metrics are registered against the default registry and served at /metrics.
// HTTP metrics are labelled with the chi route pattern (e.g. /admin/bin), never
// the raw URL.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"congregation-admin-go/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// AuditEntriesTotal counts event-log entries by action.
var AuditEntriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_entries_total",
		Help: "Total number of audit log entries appended, by action.",
	},
	[]string{"action"},
)

// Recycle bin sweep metrics, recorded by the bin sweeper and the cron endpoint.
var (
	BinSweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bin_sweep_runs_total",
			Help: "Total number of recycle bin sweeps, by outcome (ok, error, skipped).",
		},
		[]string{"outcome"},
	)

	BinItemsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bin_items_purged_total",
			Help: "Total number of recycle bin items purged after their retention window.",
		},
	)

	BinSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bin_sweep_duration_seconds",
			Help:    "Duration of a single recycle bin sweep.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// PushNotificationsTotal counts web-push deliveries by outcome (sent, failed, expired).
var PushNotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "push_notifications_total",
		Help: "Total number of web push notifications, by outcome.",
	},
	[]string{"outcome"},
)

// CountAuditEntry is an audit listener that feeds AuditEntriesTotal.
func CountAuditEntry(_ context.Context, entry models.AuditLogEntry) {
	AuditEntriesTotal.WithLabelValues(entry.Action).Inc()
}

// ObserveSweep records the outcome of one sweep.
func ObserveSweep(purged int, took time.Duration, err error) {
	BinSweepDuration.Observe(took.Seconds())
	BinItemsPurgedTotal.Add(float64(purged))
	if err != nil {
		BinSweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	BinSweepRunsTotal.WithLabelValues("ok").Inc()
}

// MetricsMiddleware records request count and latency per route pattern.
// Requests that match no route are labelled "unmatched".
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
