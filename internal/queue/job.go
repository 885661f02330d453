// Package queue defines the backend-polymorphic job queue contract
// (spec.md section 4.6) and two implementations: a durable SQL-backed
// queue (sqlqueue, in a sibling file) and an in-process development queue
// (memqueue) used by dev mode and by tests that don't want a database.
package queue

import (
	"encoding/json"
	"time"

	"github.com/jobengine/worker-core/internal/errs"
)

// Status is a job's position in its terminal-monotonic lifecycle.
type Status int

const (
	Ready Status = iota
	Assigned
	Processing
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Assigned:
		return "assigned"
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a terminal status (Completed or Failed);
// no further status transition is legal from a terminal job.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// Job is one unit of work moving through the queue. Payload must
// contain a string "action" field once decoded; the queue itself never
// inspects payload contents beyond opaque storage and retrieval.
type Job struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	ClaimedBy   string          `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *errs.JobError  `json:"error,omitempty"`
}

// DecodePayload unmarshals Payload into a generic map, the shape
// actions.Registry.Dispatch expects.
func (j Job) DecodePayload() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(j.Payload, &out); err != nil {
		return nil, errs.New(errs.InvalidPayload, "decode job payload: %v", err)
	}
	return out, nil
}
