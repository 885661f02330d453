// Package worker implements the poll-claim-dispatch engine (spec.md
// section 4.8): a single poll loop bounded to max_concurrent_jobs
// in-flight dispatch tasks, each running a job through the action
// registry under a per-job timeout, with a shutdown drain that fails
// any straggler with SHUTDOWN_INTERRUPTED once shutdown_timeout elapses.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jobengine/worker-core/internal/actions"
	"github.com/jobengine/worker-core/internal/errs"
	"github.com/jobengine/worker-core/internal/health"
	"github.com/jobengine/worker-core/internal/metrics"
	"github.com/jobengine/worker-core/internal/obslog"
	"github.com/jobengine/worker-core/internal/queue"
	"go.uber.org/zap"
)

// QueueHealthCheck is the health.Registry name the worker reports queue
// connectivity against.
const QueueHealthCheck = "job_queue"

// Config carries the worker's scheduling knobs, sourced from
// spec.md section 6's environment variables.
type Config struct {
	PollInterval      time.Duration
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	ShutdownTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 1
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Worker drives one process's job-claiming loop against a Queue,
// dispatching claimed jobs through an action registry.
type Worker struct {
	cfg     Config
	q       queue.Queue
	actions *actions.Registry
	deps    actions.DependencyResolver
	health  *health.Registry
	metrics *metrics.Collector
	log     *zap.Logger
	id      string

	sem      chan struct{}
	inFlight sync.WaitGroup
	mu       sync.Mutex
	active   int
	cancels  map[string]context.CancelFunc
}

// New builds a Worker identified by id (defaults to hostname-pid if
// empty).
func New(cfg Config, q queue.Queue, registry *actions.Registry, deps actions.DependencyResolver, checks *health.Registry, collector *metrics.Collector, log *zap.Logger, id string) *Worker {
	cfg = cfg.withDefaults()
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	checks.Register(QueueHealthCheck)
	return &Worker{
		cfg:     cfg,
		q:       q,
		actions: registry,
		deps:    deps,
		health:  checks,
		metrics: collector,
		log:     log,
		id:      id,
		sem:     make(chan struct{}, cfg.MaxConcurrentJobs),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run executes the poll loop until ctx is cancelled, then drains
// in-flight dispatch tasks (see drain).
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return w.drain()
		default:
		}

		w.mu.Lock()
		free := w.cfg.MaxConcurrentJobs - w.active
		w.mu.Unlock()
		if free <= 0 {
			w.waitForSlot(ctx)
			continue
		}

		jobs, err := w.q.Poll(ctx, free, w.id)
		if err != nil {
			_ = w.health.Update(QueueHealthCheck, health.Red, map[string]any{"error": err.Error()})
			w.sleepOrDone(ctx, w.cfg.PollInterval)
			continue
		}
		_ = w.health.Update(QueueHealthCheck, health.Green, nil)

		if len(jobs) == 0 {
			w.sleepOrDone(ctx, w.cfg.PollInterval)
			continue
		}

		for _, job := range jobs {
			w.launch(ctx, job)
		}
	}
}

// waitForSlot blocks briefly until a dispatch slot frees or ctx is done.
func (w *Worker) waitForSlot(ctx context.Context) {
	select {
	case w.sem <- struct{}{}:
		<-w.sem
	case <-ctx.Done():
	case <-time.After(w.cfg.PollInterval):
	}
}

func (w *Worker) sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (w *Worker) launch(parent context.Context, job queue.Job) {
	w.sem <- struct{}{}
	w.mu.Lock()
	w.active++
	w.mu.Unlock()
	w.metrics.ActiveJobs.Inc()
	w.inFlight.Add(1)

	// The dispatch's own lifetime is independent of Run's poll-loop ctx:
	// it is only ever cut short by its own job_timeout or by drain's
	// forced cancel once shutdown_timeout elapses, never by Run's ctx
	// cancellation alone (which only stops new polling).
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancels[job.ID] = shutdownCancel
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			delete(w.cancels, job.ID)
			w.active--
			w.mu.Unlock()
			shutdownCancel()
			<-w.sem
			w.metrics.ActiveJobs.Dec()
			w.inFlight.Done()
		}()
		w.dispatch(shutdownCtx, job)
	}()
}

func (w *Worker) dispatch(shutdownCtx context.Context, job queue.Job) {
	log := w.log.With(obslog.Token(job.ID))
	bg := context.Background()

	if err := w.q.MarkProcessing(bg, job.ID); err != nil {
		log.Error("mark_processing failed", obslog.Err(err))
		return
	}

	payload, err := job.DecodePayload()
	if err != nil {
		w.fail(bg, job.ID, errs.Wrap(errs.InvalidPayload, err), log)
		return
	}

	jobCtx, cancel := context.WithTimeout(shutdownCtx, w.cfg.JobTimeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := w.actions.Dispatch(jobCtx, payload, w.deps)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			w.fail(bg, job.ID, asJobError(out.err), log)
			return
		}
		w.complete(bg, job.ID, out.result, log)
	case <-jobCtx.Done():
		if jobCtx.Err() == context.DeadlineExceeded {
			w.fail(bg, job.ID, errs.New(errs.JobTimeout, "job %q exceeded %s", job.ID, w.cfg.JobTimeout), log)
		} else {
			w.fail(bg, job.ID, errs.New(errs.ShutdownInterrupted, "job %q cancelled during shutdown drain", job.ID), log)
		}
	}
}

func (w *Worker) complete(ctx context.Context, jobID string, result any, log *zap.Logger) {
	encoded, err := json.Marshal(result)
	if err != nil {
		w.fail(ctx, jobID, errs.New(errs.HandlerError, "encode result: %v", err), log)
		return
	}
	if err := w.q.Complete(ctx, jobID, encoded); err != nil {
		log.Error("complete failed", obslog.Err(err))
		return
	}
	w.metrics.JobsProcessedTotal.Inc()
	log.Info("job completed", obslog.Event("job.completed"))
}

func (w *Worker) fail(ctx context.Context, jobID string, jobErr *errs.JobError, log *zap.Logger) {
	if err := w.q.Fail(ctx, jobID, jobErr); err != nil {
		log.Error("fail failed", obslog.Err(err))
	}
	w.metrics.JobsErrorsTotal.WithLabelValues(string(jobErr.Code)).Inc()
	log.Warn("job failed", obslog.Event("job.failed"), obslog.String("code", string(jobErr.Code)), obslog.String("message", jobErr.Message))
}

func asJobError(err error) *errs.JobError {
	if je, ok := err.(*errs.JobError); ok {
		return je
	}
	return errs.New(errs.HandlerError, "%v", err)
}

// drain waits up to cfg.ShutdownTimeout for in-flight dispatch tasks to
// finish. Any task still running at the deadline has its context
// force-cancelled, which causes its own dispatch goroutine to fail the
// job with SHUTDOWN_INTERRUPTED and return.
func (w *Worker) drain() error {
	done := make(chan struct{})
	go func() {
		w.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(w.cfg.ShutdownTimeout):
		stragglers := w.activeCount()
		w.cancelAll()
		<-done // dispatch goroutines observe cancellation and exit promptly
		return errs.New(errs.ShutdownInterrupted, "worker %q: force-cancelled %d job(s) still in flight after shutdown_timeout", w.id, stragglers)
	}
}

func (w *Worker) cancelAll() {
	w.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(w.cancels))
	for _, c := range w.cancels {
		cancels = append(cancels, c)
	}
	w.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (w *Worker) activeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}
