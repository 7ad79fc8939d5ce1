// ABOUTME: Tests for the health, readiness and stats endpoints.
// ABOUTME: Exercises HTTP routes with httptest and the gRPC health service in-process.

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-bot/internal/plugins"
)

type fixedStats plugins.Stats

func (f fixedStats) GetStats() plugins.Stats { return plugins.Stats(f) }

func newTestServer(ready int) *Server {
	return New(Config{
		Stats:  fixedStats{TotalHandlers: 3, TotalCommands: 5, Dispatched: 7},
		Ready:  func() int { return ready },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestHealth(t *testing.T) {
	srv := newTestServer(0)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(0).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	newTestServer(2).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (2 sessions)", rec.Body.String())
}

func TestStats(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(1).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.EqualValues(t, 3, got["total_handlers"])
	assert.EqualValues(t, 5, got["total_commands"])
	assert.EqualValues(t, 7, got["dispatched"])
}

func TestStatsRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(1).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGRPCHealthFollowsReadiness(t *testing.T) {
	srv := newTestServer(1)
	ctx := context.Background()
	req := &healthpb.HealthCheckRequest{Service: ServiceName}

	resp, err := srv.health.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	srv.SetReady(true)
	resp, err = srv.health.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := New(Config{
		HTTPAddr: "127.0.0.1:0",
		GRPCAddr: "127.0.0.1:0",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	assert.NoError(t, <-done)
}
