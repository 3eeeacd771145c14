package status

import (
	"errors"
	"fmt"
)

// Domain errors for the status package.
var (
	// ErrMissingEnabled is returned when the instance object has no enabled flag.
	ErrMissingEnabled = errors.New("status: enabled flag missing")

	// ErrMissingHeartbeat is returned when the alive state has no timestamp.
	ErrMissingHeartbeat = errors.New("status: heartbeat timestamp missing")

	// ErrMissingSchedule is returned for a scheduled instance without a usable expression.
	ErrMissingSchedule = errors.New("status: schedule missing")
)

// EvaluationError reports a failed evaluation pass of one instance.
type EvaluationError struct {
	ID  string
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %s: %v", e.ID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
