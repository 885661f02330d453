package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jobengine/worker-core/internal/actions"
	"github.com/jobengine/worker-core/internal/errs"
	"github.com/jobengine/worker-core/internal/health"
	"github.com/jobengine/worker-core/internal/metrics"
	"github.com/jobengine/worker-core/internal/queue"
	"go.uber.org/zap"
)

type emptyResolver struct{}

func (emptyResolver) Resolve(name string) (any, bool) { return nil, false }

func newTestWorker(t *testing.T, cfg Config) (*Worker, *queue.MemQueue, *health.Registry) {
	t.Helper()
	q := queue.NewMemQueue()
	reg := actions.NewRegistry()
	checks := health.NewRegistry()
	collector := metrics.New()
	log := zap.NewNop()
	w := New(cfg, q, reg, emptyResolver{}, checks, collector, log, "test-worker")
	return w, q, checks
}

func TestWorkerProcessesSubmittedJobToCompletion(t *testing.T) {
	q := queue.NewMemQueue()
	reg := actions.NewRegistry()
	_ = reg.Register(actions.Definition{
		Name: "noop",
		Handler: func(ctx context.Context, input map[string]any, deps map[string]any) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	checks := health.NewRegistry()
	collector := metrics.New()
	w := New(Config{PollInterval: 5 * time.Millisecond, MaxConcurrentJobs: 2, JobTimeout: time.Second, ShutdownTimeout: time.Second},
		q, reg, emptyResolver{}, checks, collector, zap.NewNop(), "test-worker")

	ctx, cancel := context.WithCancel(context.Background())
	id, err := q.Submit(ctx, []byte(`{"action":"noop"}`))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	job, err := q.WaitForTerminal(context.Background(), id, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != queue.Completed {
		t.Fatalf("expected Completed, got %s", job.Status)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestWorkerHandlerErrorFailsJob(t *testing.T) {
	q := queue.NewMemQueue()
	reg := actions.NewRegistry()
	_ = reg.Register(actions.Definition{
		Name: "boom",
		Handler: func(ctx context.Context, input map[string]any, deps map[string]any) (any, error) {
			return nil, fmt.Errorf("kaboom")
		},
	})
	checks := health.NewRegistry()
	collector := metrics.New()
	w := New(Config{PollInterval: 5 * time.Millisecond, MaxConcurrentJobs: 1, JobTimeout: time.Second, ShutdownTimeout: time.Second},
		q, reg, emptyResolver{}, checks, collector, zap.NewNop(), "test-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id, _ := q.Submit(ctx, []byte(`{"action":"boom"}`))

	go func() { _ = w.Run(ctx) }()

	job, err := q.WaitForTerminal(context.Background(), id, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != queue.Failed {
		t.Fatalf("expected Failed, got %s", job.Status)
	}
}

func TestWorkerJobTimeoutFailsWithJobTimeoutCode(t *testing.T) {
	q := queue.NewMemQueue()
	reg := actions.NewRegistry()
	_ = reg.Register(actions.Definition{
		Name: "slow",
		Handler: func(ctx context.Context, input map[string]any, deps map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	checks := health.NewRegistry()
	collector := metrics.New()
	w := New(Config{PollInterval: 5 * time.Millisecond, MaxConcurrentJobs: 1, JobTimeout: 20 * time.Millisecond, ShutdownTimeout: time.Second},
		q, reg, emptyResolver{}, checks, collector, zap.NewNop(), "test-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id, _ := q.Submit(ctx, []byte(`{"action":"slow"}`))

	go func() { _ = w.Run(ctx) }()

	job, err := q.WaitForTerminal(context.Background(), id, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != queue.Failed || job.Error == nil || job.Error.Code != errs.JobTimeout {
		t.Fatalf("expected Failed with JOB_TIMEOUT, got %#v", job)
	}
}

func TestWorkerQueuePollErrorUpdatesHealthRed(t *testing.T) {
	w, _, checks := newTestWorker(t, Config{PollInterval: 5 * time.Millisecond, MaxConcurrentJobs: 1, JobTimeout: time.Second, ShutdownTimeout: time.Second})

	w.q = erroringQueue{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	snap := checks.Snapshot()
	if snap.Checks[QueueHealthCheck].Status != health.Red {
		t.Fatalf("expected job_queue health RED, got %s", snap.Checks[QueueHealthCheck].Status)
	}
}

type erroringQueue struct{ queue.Queue }

func (erroringQueue) Poll(ctx context.Context, batchSize int, workerID string) ([]queue.Job, error) {
	return nil, fmt.Errorf("connection refused")
}
