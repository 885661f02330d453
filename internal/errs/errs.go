// Package errs defines the job-error code taxonomy shared by the action
// registry, queue backends, worker engine, and REST client template.
// Every terminal job failure and every outbound-call failure carries one
// of these codes so operators and /dev/job callers see a stable,
// machine-readable reason.
package errs

import "fmt"

// Code is a stable, closed error-code string used in job error records
// and log fields (spec.md section 7).
type Code string

const (
	// Validation / routing
	InvalidPayload       Code = "INVALID_PAYLOAD"
	UnknownAction        Code = "UNKNOWN_ACTION"
	ValidationError      Code = "VALIDATION_ERROR"
	DependencyUnresolved Code = "DEPENDENCY_UNRESOLVED"
	DuplicateAction      Code = "DUPLICATE_ACTION"
	DependencyCycle      Code = "DEPENDENCY_CYCLE"

	// Execution
	HandlerError        Code = "HANDLER_ERROR"
	JobTimeout          Code = "JOB_TIMEOUT"
	ShutdownInterrupted Code = "SHUTDOWN_INTERRUPTED"

	// Outbound
	CircuitOpen       Code = "CIRCUIT_OPEN"
	RateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	Upstream5xx       Code = "UPSTREAM_5XX"
	UpstreamTimeout   Code = "UPSTREAM_TIMEOUT"
	UpstreamConnect   Code = "UPSTREAM_CONNECT"

	// Queue / infra
	QueueUnavailable Code = "QUEUE_UNAVAILABLE"
	QueueConsistency Code = "QUEUE_CONSISTENCY"
)

// JobError is the structured {code, message} pair persisted on a job's
// terminal Failed record (spec.md section 3) and surfaced verbatim by
// /dev/job (spec.md section 6).
type JobError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a *JobError with a formatted message.
func New(code Code, format string, args ...any) *JobError {
	return &JobError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a *JobError from an existing error, preserving its message.
func Wrap(code Code, err error) *JobError {
	return &JobError{Code: code, Message: err.Error()}
}

// FieldError is one field-level validation failure, used to build the
// detail payload of a VALIDATION_ERROR.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationFailure collects field-level errors under a single
// VALIDATION_ERROR JobError.
type ValidationFailure struct {
	Fields []FieldError
}

func (v *ValidationFailure) Error() string {
	if len(v.Fields) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s: %s", v.Fields[0].Field, v.Fields[0].Message)
}

// AsJobError renders a ValidationFailure into the standard JobError shape.
func (v *ValidationFailure) AsJobError() *JobError {
	return &JobError{Code: ValidationError, Message: v.Error()}
}
