package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "code"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	salesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sales_generated_total",
			Help: "Total number of generated sales.",
		},
		[]string{"worker"},
	)
	salesMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sales_malformed_total",
			Help: "Generated sales carrying the invalid confirmation code.",
		},
		[]string{"worker"},
	)
	saleGenerationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sale_generation_errors_total",
			Help: "Sales that could not be generated because no order id was allocated.",
		},
		[]string{"worker"},
	)
	saleDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sale_deliveries_total",
			Help: "Delivery attempts by attempt kind and outcome.",
		},
		[]string{"worker", "attempt", "outcome"},
	)
	saleDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sale_delivery_duration_seconds",
			Help:    "Time from send to acknowledgment.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker", "attempt"},
	)
	ledgerDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_entries_dropped_total",
			Help: "Ledger entries dropped because the buffer was full.",
		},
	)
	ledgerFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_flush_errors_total",
			Help: "Failed ledger batch inserts.",
		},
	)
)

// ObserveGenerated counts a generated sale.
func ObserveGenerated(worker string, malformed bool) {
	salesGenerated.WithLabelValues(worker).Inc()
	if malformed {
		salesMalformed.WithLabelValues(worker).Inc()
	}
}

// ObserveGenerationError counts a failed order id allocation.
func ObserveGenerationError(worker string) {
	saleGenerationErrors.WithLabelValues(worker).Inc()
}

// ObserveDelivery counts one delivery attempt and its latency.
func ObserveDelivery(worker, attempt string, err error, took time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	saleDeliveries.WithLabelValues(worker, attempt, outcome).Inc()
	saleDeliveryDuration.WithLabelValues(worker, attempt).Observe(took.Seconds())
}

// ObserveLedgerDrop counts a ledger entry lost to back-pressure.
func ObserveLedgerDrop() {
	ledgerDropped.Inc()
}

// ObserveLedgerFlushError counts a failed ledger batch.
func ObserveLedgerFlushError() {
	ledgerFlushErrors.Inc()
}

// NewMetricsMiddleware Creates HTTP middleware for collecting Prometheus metrics.
func NewMetricsMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				duration := time.Since(start)
				path := r.URL.Path

				httpRequestDuration.WithLabelValues(serviceName, r.Method, path).Observe(duration.Seconds())
				httpRequestsTotal.WithLabelValues(serviceName, r.Method, path, strconv.Itoa(ww.Status())).Inc()
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
