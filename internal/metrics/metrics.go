package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postdispatch_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postdispatch_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	batchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postdispatch_batches_total",
			Help: "Total dispatch batch runs",
		},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postdispatch_batch_duration_seconds",
			Help:    "Dispatch batch run duration",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60},
		},
	)

	schedulesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postdispatch_schedules_processed_total",
			Help: "Total schedules processed by outcome",
		},
		[]string{"outcome"},
	)

	claimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postdispatch_claim_conflicts_total",
			Help: "Due schedules already claimed by a concurrent batch run",
		},
	)

	webhookLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postdispatch_webhook_latency_seconds",
			Help:    "Outbound webhook delivery latency",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBatch records one completed batch run
func RecordBatch(duration time.Duration) {
	batchesTotal.Inc()
	batchDuration.Observe(duration.Seconds())
}

// RecordScheduleProcessed records the outcome of one claimed schedule
func RecordScheduleProcessed(outcome string) {
	schedulesProcessed.WithLabelValues(outcome).Inc()
}

// RecordClaimConflict records a claim lost to a concurrent run
func RecordClaimConflict() {
	claimConflicts.Inc()
}

// RecordWebhookLatency records one outbound delivery round trip
func RecordWebhookLatency(latency time.Duration) {
	webhookLatency.Observe(latency.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
