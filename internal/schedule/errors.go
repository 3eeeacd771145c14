package schedule

import "errors"

// Domain errors for the schedule package.
var (
	// ErrInvalidSchedule is returned for missing, short or unparsable expressions.
	ErrInvalidSchedule = errors.New("schedule: invalid expression")

	// ErrNotScheduled is returned when arming an instance that is not scheduled.
	ErrNotScheduled = errors.New("schedule: instance is not scheduled")

	// ErrNoPrevious is returned when no earlier fire time exists within the look-back limit.
	ErrNoPrevious = errors.New("schedule: no previous fire time")

	// ErrDisarmed is returned by Arm after Disarm.
	ErrDisarmed = errors.New("schedule: manager disarmed")
)
