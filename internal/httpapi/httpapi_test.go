package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jobengine/worker-core/internal/actions"
	"github.com/jobengine/worker-core/internal/errs"
	"github.com/jobengine/worker-core/internal/health"
	"github.com/jobengine/worker-core/internal/metrics"
	"github.com/jobengine/worker-core/internal/queue"
	"github.com/jobengine/worker-core/internal/worker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticResolver map[string]any

func (s staticResolver) Resolve(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

func TestHealthHandlerReturns200WhenGreen(t *testing.T) {
	checks := health.NewRegistry()
	mux := NewMux(Config{}, checks, metrics.New(), queue.NewMemQueue(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "green", body.Status)
}

func TestHealthHandlerReturns503WhenRed(t *testing.T) {
	checks := health.NewRegistry()
	checks.Register("job_queue")
	require.NoError(t, checks.Update("job_queue", health.Red, map[string]any{"error": "connection refused"}))
	mux := NewMux(Config{}, checks, metrics.New(), queue.NewMemQueue(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsHandlerServesPrometheusExposition(t *testing.T) {
	collector := metrics.New()
	mux := NewMux(Config{}, health.NewRegistry(), collector, queue.NewMemQueue(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestDevJobHandlerRunsJobToCompletion(t *testing.T) {
	registry := actions.NewRegistry()
	require.NoError(t, registry.Register(actions.Definition{
		Name: "echo",
		Handler: func(ctx context.Context, input map[string]any, deps map[string]any) (any, error) {
			return input, nil
		},
	}))

	q := queue.NewMemQueue()
	checks := health.NewRegistry()
	w := worker.New(worker.Config{PollInterval: 10 * time.Millisecond, MaxConcurrentJobs: 2, JobTimeout: time.Second, ShutdownTimeout: time.Second},
		q, registry, staticResolver{}, checks, metrics.New(), zap.NewNop(), "test-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	mux := NewMux(Config{DevMode: true, DevJobTimeout: time.Second}, checks, metrics.New(), q, zap.NewNop())

	body := []byte(`{"action":"echo","greeting":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/dev/job", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp devJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "completed", resp.Status)
}

func TestDevJobHandlerReturns422OnFailedJob(t *testing.T) {
	registry := actions.NewRegistry()
	require.NoError(t, registry.Register(actions.Definition{
		Name: "boom",
		Handler: func(ctx context.Context, input map[string]any, deps map[string]any) (any, error) {
			return nil, errs.New(errs.HandlerError, "kaboom")
		},
	}))

	q := queue.NewMemQueue()
	checks := health.NewRegistry()
	w := worker.New(worker.Config{PollInterval: 10 * time.Millisecond, MaxConcurrentJobs: 2, JobTimeout: time.Second, ShutdownTimeout: time.Second},
		q, registry, staticResolver{}, checks, metrics.New(), zap.NewNop(), "test-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	mux := NewMux(Config{DevMode: true, DevJobTimeout: time.Second}, checks, metrics.New(), q, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/dev/job", bytes.NewReader([]byte(`{"action":"boom"}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	var resp devJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, errs.HandlerError, resp.Error.Code)
}

func TestDevJobRouteAbsentWhenNotDevMode(t *testing.T) {
	mux := NewMux(Config{DevMode: false}, health.NewRegistry(), metrics.New(), queue.NewMemQueue(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/dev/job", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
