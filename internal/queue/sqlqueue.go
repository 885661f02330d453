package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jobengine/worker-core/internal/errs"
)

// SQLQueue is the durable backend: a thin wrapper over database/sql
// (via pgx/v5's stdlib driver) that claims rows inside one transaction:
// a SELECT ... FOR UPDATE SKIP LOCKED picks the candidates and a per-row
// UPDATE ... RETURNING marks each one Assigned, so concurrent workers -- in this process or another -- never observe
// the same Ready row.
type SQLQueue struct {
	db    *sql.DB
	table string
}

// Columns the queue table must carry, per spec.md section 3:
// id, payload, status, claimed_by, claimed_at, attempts, result, error,
// completed_at.

// OpenSQLQueue opens a pgx-backed connection pool against dsn and
// verifies it with a ping; it does not check that the queue table exists.
// table defaults to "job_queue" when empty.
func OpenSQLQueue(ctx context.Context, dsn, table string) (*SQLQueue, error) {
	if table == "" {
		table = "job_queue"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errs.New(errs.QueueUnavailable, "open queue connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errs.New(errs.QueueUnavailable, "ping queue connection: %v", err)
	}
	return &SQLQueue{db: db, table: table}, nil
}

// Poll atomically claims up to batchSize Ready rows via
// FOR UPDATE SKIP LOCKED, marking them Assigned to workerID.
func (q *SQLQueue) Poll(ctx context.Context, batchSize int, workerID string) ([]Job, error) {
	if batchSize <= 0 {
		return nil, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.New(errs.QueueUnavailable, "poll: begin tx: %v", err)
	}
	defer tx.Rollback()

	selectStmt := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE status = 'ready'
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, q.table)

	rows, err := tx.QueryContext(ctx, selectStmt, batchSize)
	if err != nil {
		return nil, errs.New(errs.QueueUnavailable, "poll: select candidates: %v", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errs.New(errs.QueueUnavailable, "poll: scan candidate: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.QueueUnavailable, "poll: iterate candidates: %v", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	claimed := make([]Job, 0, len(ids))
	updateStmt := fmt.Sprintf(`
		UPDATE %s
		SET status = 'assigned', claimed_by = $1, claimed_at = $2, attempts = attempts + 1
		WHERE id = $3
		RETURNING id, payload, attempts`, q.table)

	now := time.Now()
	for _, id := range ids {
		var job Job
		var payload []byte
		row := tx.QueryRowContext(ctx, updateStmt, workerID, now, id)
		if err := row.Scan(&job.ID, &payload, &job.Attempts); err != nil {
			return nil, errs.New(errs.QueueUnavailable, "poll: claim %q: %v", id, err)
		}
		job.Payload = json.RawMessage(payload)
		job.Status = Assigned
		job.ClaimedBy = workerID
		job.ClaimedAt = &now
		claimed = append(claimed, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.New(errs.QueueUnavailable, "poll: commit claim: %v", err)
	}
	return claimed, nil
}

// MarkProcessing transitions Assigned -> Processing. Idempotent when
// the row is already Processing.
func (q *SQLQueue) MarkProcessing(ctx context.Context, jobID string) error {
	stmt := fmt.Sprintf(`
		UPDATE %s SET status = 'processing'
		WHERE id = $1 AND status IN ('assigned', 'processing')`, q.table)
	res, err := q.db.ExecContext(ctx, stmt, jobID)
	if err != nil {
		return errs.New(errs.QueueUnavailable, "mark_processing: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.New(errs.QueueUnavailable, "mark_processing: rows affected: %v", err)
	}
	if n == 0 {
		return errs.New(errs.QueueConsistency, "mark_processing: job %q is not assigned or processing", jobID)
	}
	return nil
}

// Complete transitions a job to Completed and persists result.
func (q *SQLQueue) Complete(ctx context.Context, jobID string, result []byte) error {
	stmt := fmt.Sprintf(`
		UPDATE %s SET status = 'completed', result = $1, completed_at = $2
		WHERE id = $3`, q.table)
	_, err := q.db.ExecContext(ctx, stmt, result, time.Now(), jobID)
	if err != nil {
		return errs.New(errs.QueueUnavailable, "complete: %v", err)
	}
	return nil
}

// Fail transitions a job to Failed and persists jobErr. The table may
// carry a trigger or application-level policy that requeues based on
// attempts vs. a max-attempts column; from here Failed is terminal.
func (q *SQLQueue) Fail(ctx context.Context, jobID string, jobErr *errs.JobError) error {
	encoded, err := json.Marshal(jobErr)
	if err != nil {
		return errs.New(errs.QueueConsistency, "fail: encode error: %v", err)
	}
	stmt := fmt.Sprintf(`
		UPDATE %s SET status = 'failed', error = $1, completed_at = $2
		WHERE id = $3`, q.table)
	if _, err := q.db.ExecContext(ctx, stmt, encoded, time.Now(), jobID); err != nil {
		return errs.New(errs.QueueUnavailable, "fail: %v", err)
	}
	return nil
}

// Shutdown closes the underlying connection pool.
func (q *SQLQueue) Shutdown(ctx context.Context) error {
	if err := q.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return errs.New(errs.QueueUnavailable, "shutdown: %v", err)
	}
	return nil
}

var _ Queue = (*SQLQueue)(nil)
