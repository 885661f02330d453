package queue

import (
	"context"
	"time"

	"github.com/jobengine/worker-core/internal/errs"
)

// Queue is the backend-polymorphic contract the worker engine drives.
// Every operation may suspend on I/O; implementations must tolerate
// transient backend loss by surfacing a QUEUE_UNAVAILABLE error rather
// than panicking, so the worker can retry the poll cycle.
type Queue interface {
	// Poll atomically claims up to batchSize Ready jobs, marks them
	// Assigned to workerID, increments their attempts counter, and
	// returns them. An empty result is legal and not an error.
	Poll(ctx context.Context, batchSize int, workerID string) ([]Job, error)

	// MarkProcessing transitions a claimed job Assigned -> Processing.
	// Idempotent if the job is already Processing.
	MarkProcessing(ctx context.Context, jobID string) error

	// Complete transitions a job to Completed and persists result.
	// Returns only after the write is durable.
	Complete(ctx context.Context, jobID string, result []byte) error

	// Fail transitions a job to Failed and persists jobErr. Backends
	// may requeue internally based on attempts vs. a max-attempts
	// policy; from the core's perspective Failed is always terminal.
	Fail(ctx context.Context, jobID string, jobErr *errs.JobError) error

	// Shutdown releases any pooled connections or background resources.
	Shutdown(ctx context.Context) error
}

// DevQueue is the superset contract the in-memory backend exposes for
// local development and /dev/job: on top of Queue, callers may submit
// a job directly and block for its terminal state.
type DevQueue interface {
	Queue

	// Submit enqueues payload as a new Ready job and returns its id.
	Submit(ctx context.Context, payload []byte) (string, error)

	// WaitForTerminal blocks until the named job reaches Completed or
	// Failed, or timeout elapses.
	WaitForTerminal(ctx context.Context, jobID string, timeout time.Duration) (Job, error)
}
