package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotRunning          = errors.New("scheduler is not running")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrContentItemNotFound = errors.New("content item not found")
	ErrInvalidTransition   = errors.New("invalid schedule status transition")
)

// SchedulingError wraps failures of the scheduler's own lifecycle and job
// registration paths (start, stop, register, recover).
type SchedulingError struct {
	Op  string
	Err error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling %s: %v", e.Op, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// JobExecutionError wraps an error raised inside a job body. It is recorded
// on the schedule row as a failed transition and never reaches the engine
// loop.
type JobExecutionError struct {
	ScheduleID uint
	Err        error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job for schedule %d: %v", e.ScheduleID, e.Err)
}

func (e *JobExecutionError) Unwrap() error { return e.Err }

// PlatformError wraps a failure from a single publish or notification sink.
// Sinks are best-effort: one platform's failure never blocks the others.
type PlatformError struct {
	Platform string
	Err      error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform %s: %v", e.Platform, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// DatabaseError wraps persistence failures. The enclosing transaction has
// already been rolled back by the time the caller sees one.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }
