package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jobengine/worker-core/internal/errs"
)

// MemQueue is the in-process development backend (spec.md section 4.6):
// a mutex-guarded map standing in for the durable SQL queue, plus the
// submit/wait_for_terminal pair dev mode's /dev/job endpoint needs.
type MemQueue struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string // insertion order, for FIFO-ish polling
	waiters map[string][]chan struct{}
}

// NewMemQueue creates an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{
		jobs:    make(map[string]*Job),
		waiters: make(map[string][]chan struct{}),
	}
}

// Submit enqueues payload as a new Ready job.
func (q *MemQueue) Submit(ctx context.Context, payload []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	q.jobs[id] = &Job{ID: id, Payload: buf, Status: Ready}
	q.order = append(q.order, id)
	return id, nil
}

// Poll claims up to batchSize Ready jobs in FIFO order.
func (q *MemQueue) Poll(ctx context.Context, batchSize int, workerID string) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var claimed []Job
	now := time.Now()
	for _, id := range q.order {
		if len(claimed) >= batchSize {
			break
		}
		job := q.jobs[id]
		if job == nil || job.Status != Ready {
			continue
		}
		job.Status = Assigned
		job.ClaimedBy = workerID
		job.ClaimedAt = &now
		job.Attempts++
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

// MarkProcessing transitions Assigned -> Processing, idempotently.
func (q *MemQueue) MarkProcessing(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return errs.New(errs.QueueConsistency, "mark_processing: unknown job %q", jobID)
	}
	if job.Status == Processing {
		return nil
	}
	if job.Status != Assigned {
		return errs.New(errs.QueueConsistency, "mark_processing: job %q is %s, not assigned", jobID, job.Status)
	}
	job.Status = Processing
	return nil
}

// Complete transitions a job to Completed and persists result.
func (q *MemQueue) Complete(ctx context.Context, jobID string, result []byte) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return errs.New(errs.QueueConsistency, "complete: unknown job %q", jobID)
	}
	now := time.Now()
	buf := make([]byte, len(result))
	copy(buf, result)
	job.Status = Completed
	job.Result = buf
	job.CompletedAt = &now
	q.mu.Unlock()

	q.notify(jobID)
	return nil
}

// Fail transitions a job to Failed and persists jobErr.
func (q *MemQueue) Fail(ctx context.Context, jobID string, jobErr *errs.JobError) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return errs.New(errs.QueueConsistency, "fail: unknown job %q", jobID)
	}
	now := time.Now()
	job.Status = Failed
	job.Error = jobErr
	job.CompletedAt = &now
	q.mu.Unlock()

	q.notify(jobID)
	return nil
}

// Shutdown is a no-op: there is nothing pooled to release.
func (q *MemQueue) Shutdown(ctx context.Context) error {
	return nil
}

// WaitForTerminal blocks until jobID reaches Completed or Failed, or
// timeout elapses.
func (q *MemQueue) WaitForTerminal(ctx context.Context, jobID string, timeout time.Duration) (Job, error) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return Job{}, errs.New(errs.QueueConsistency, "wait_for_terminal: unknown job %q", jobID)
	}
	if job.Status.Terminal() {
		out := *job
		q.mu.Unlock()
		return out, nil
	}
	ch := make(chan struct{})
	q.waiters[jobID] = append(q.waiters[jobID], ch)
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		q.mu.Lock()
		out := *q.jobs[jobID]
		q.mu.Unlock()
		return out, nil
	case <-timer.C:
		return Job{}, errs.New(errs.JobTimeout, "wait_for_terminal: job %q did not reach a terminal state within %s", jobID, timeout)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemQueue) notify(jobID string) {
	q.mu.Lock()
	waiters := q.waiters[jobID]
	delete(q.waiters, jobID)
	q.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

var (
	_ Queue    = (*MemQueue)(nil)
	_ DevQueue = (*MemQueue)(nil)
)
