package taskloop

import "errors"

var (
	ErrInvalidCapacity  = errors.New("taskloop: capacity must be > 0")
	ErrInvalidTimeUnit  = errors.New("taskloop: unknown time unit")
	ErrCapacityExceeded = errors.New("taskloop: task capacity exceeded")
	ErrInvalidTaskID    = errors.New("taskloop: invalid task id")
	ErrNilCallback      = errors.New("taskloop: nil callback")
	ErrPeriodOutOfRange = errors.New("taskloop: period out of range")
)
