// Package httpapi implements the worker's external HTTP control surface
// (spec.md section 6): GET /health, GET /metrics, and (dev mode only)
// POST /dev/job. It stays on the standard library's http.ServeMux, the
// way the teacher's core job-queue HTTP server does, reserving a richer
// router for its admin-api sub-feature only.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jobengine/worker-core/internal/errs"
	"github.com/jobengine/worker-core/internal/health"
	"github.com/jobengine/worker-core/internal/metrics"
	"github.com/jobengine/worker-core/internal/obslog"
	"github.com/jobengine/worker-core/internal/queue"
	"go.uber.org/zap"
)

// Config controls route registration.
type Config struct {
	// DevMode enables POST /dev/job. DevJobTimeout bounds how long a
	// submission waits for a terminal state; the caller may supply a
	// shorter deadline on the request's own context.
	DevMode       bool
	DevJobTimeout time.Duration
}

// NewMux builds the *http.ServeMux serving the control surface. q must
// be a queue.DevQueue when cfg.DevMode is true (the dev-only submit path
// requires Submit/WaitForTerminal).
func NewMux(cfg Config, checks *health.Registry, collector *metrics.Collector, q queue.Queue, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(checks))
	mux.Handle("/metrics", collector.Handler())

	if cfg.DevMode {
		devQueue, ok := q.(queue.DevQueue)
		if !ok {
			log.Warn("dev_mode enabled but queue backend does not support /dev/job submission")
		} else {
			mux.HandleFunc("/dev/job", devJobHandler(cfg, devQueue, log))
		}
	}
	return mux
}

type healthResponse struct {
	Status    string                        `json:"status"`
	Timestamp time.Time                     `json:"timestamp"`
	Checks    map[string]healthCheckSummary `json:"checks"`
}

type healthCheckSummary struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

func healthHandler(checks *health.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := checks.Snapshot()
		resp := healthResponse{
			Status:    snap.Aggregate.String(),
			Timestamp: time.Now(),
			Checks:    make(map[string]healthCheckSummary, len(snap.Checks)),
		}
		for name, c := range snap.Checks {
			resp.Checks[name] = healthCheckSummary{Status: c.Status.String(), Details: c.Details}
		}

		code := http.StatusOK
		if snap.Aggregate == health.Red {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

type devJobRequest = json.RawMessage

type devJobResponse struct {
	JobID     string          `json:"job_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"results,omitempty"`
	Error     *errs.JobError  `json:"error,omitempty"`
	RuntimeMS int64           `json:"runtime_ms"`
}

func devJobHandler(cfg Config, q queue.DevQueue, log *zap.Logger) http.HandlerFunc {
	timeout := cfg.DevJobTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body devJobRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		ctx := r.Context()
		// Inherit the submitter's own deadline if shorter than the
		// configured job timeout (spec.md section 9's resolved open
		// question: inherit unless a client deadline is tighter).
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		jobID, err := q.Submit(ctx, body)
		if err != nil {
			log.Error("dev job submit failed", obslog.Err(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		job, err := q.WaitForTerminal(ctx, jobID, timeout)
		runtimeMS := time.Since(start).Milliseconds()
		if err != nil {
			writeJSON(w, http.StatusGatewayTimeout, devJobResponse{
				JobID:     jobID,
				Status:    "timeout",
				RuntimeMS: runtimeMS,
				Error:     errs.New(errs.JobTimeout, "job %q did not reach a terminal state: %v", jobID, err),
			})
			return
		}

		resp := devJobResponse{
			JobID:     job.ID,
			Status:    job.Status.String(),
			Result:    job.Result,
			Error:     job.Error,
			RuntimeMS: runtimeMS,
		}
		code := http.StatusOK
		if job.Status == queue.Failed {
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
