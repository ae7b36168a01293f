package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payments-datagen/internal/app"
	"payments-datagen/internal/observability"
)

// StatsProvider exposes the running workers.
type StatsProvider interface {
	Stats() []app.WorkerStats
}

// StatusHandler serves health and worker status for the producer.
type StatusHandler struct {
	stats  StatsProvider
	logger *slog.Logger
}

func NewStatusHandler(stats StatsProvider, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		stats:  stats,
		logger: logger,
	}
}

// NewRouter builds the status router with the observability middleware.
func NewRouter(h *StatusHandler, serviceName string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		observability.NewLoggerMiddleware(h.logger),
		observability.NewMetricsMiddleware(serviceName),
		observability.NewTracingMiddleware(serviceName),
	)

	r.Get("/health", h.HandleHealth)
	r.Get("/workers", h.HandleWorkers)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// NewServer wraps the router in an http.Server with sane timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// HandleHealth reports healthy while at least one worker has not failed.
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.stats.Stats()
	running := 0
	for _, s := range stats {
		if s.State != app.StateFailed.String() && s.State != app.StateStopped.String() {
			running++
		}
	}

	status, code := "healthy", http.StatusOK
	if len(stats) > 0 && running == 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"status":  status,
		"workers": len(stats),
		"running": running,
	})
}

// HandleWorkers lists the totals of every worker.
func (h *StatusHandler) HandleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.stats.Stats())
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.LoggerFrom(r.Context()).Error("failed to write json response", "error", err)
	}
}
