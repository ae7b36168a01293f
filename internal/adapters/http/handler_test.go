package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-datagen/internal/app"
)

type staticStats []app.WorkerStats

func (s staticStats) Stats() []app.WorkerStats { return s }

func newTestRouter(stats StatsProvider) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(NewStatusHandler(stats, logger), "payments-producer-test")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		stats    staticStats
		wantCode int
		wantBody string
	}{
		{name: "no workers yet", stats: nil, wantCode: http.StatusOK, wantBody: "healthy"},
		{name: "running", stats: staticStats{{Identity: "a", State: "advancing"}, {Identity: "b", State: "failed"}}, wantCode: http.StatusOK, wantBody: "healthy"},
		{name: "all failed", stats: staticStats{{Identity: "a", State: "failed"}}, wantCode: http.StatusServiceUnavailable, wantBody: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestRouter(tt.stats).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
		})
	}
}

func TestWorkers(t *testing.T) {
	stats := staticStats{{Identity: "Pos_Store_Oslo", State: "sending", Generated: 12, Delivered: 13, Duplicates: 1}}

	rec := httptest.NewRecorder()
	newTestRouter(stats).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workers", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []app.WorkerStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []app.WorkerStats(stats), got)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(staticStats{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
