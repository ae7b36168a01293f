package observability

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const loggerKey = contextKey("logger")

// SetupLogger builds the process logger and makes it the slog default.
// Development environments get text at debug level, everything else JSON.
func SetupLogger(env string) *slog.Logger {
	var logger *slog.Logger
	switch env {
	case "development", "dev":
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	slog.SetDefault(logger)
	return logger
}

// NewLoggerMiddleware puts a request scoped logger into the context.
// It must run after chi's RequestID middleware to pick up the id.
func NewLoggerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := logger.With("method", r.Method, "path", r.URL.Path)
			if id := middleware.GetReqID(r.Context()); id != "" {
				l = l.With("request_id", id)
			}
			ctx := context.WithValue(r.Context(), loggerKey, l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFrom returns the request logger, or the default one.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
