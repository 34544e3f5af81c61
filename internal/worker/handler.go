package worker

import (
	"context"
	"errors"
)

// Task defines the interface that all periodic tasks must implement.
type Task interface {
	// Name returns the task identifier used in logs and metrics.
	// It must be unique within a worker.
	Name() string

	// Run executes one pass of the task.
	// Returns an error if the pass fails. Use NewPermanentError to stop the
	// task from being scheduled again.
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

// Name implements Task.
func (f TaskFunc) Name() string {
	return f.TaskName
}

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context) error {
	return f.Fn(ctx)
}

// PermanentError wraps an error to indicate the task should not run again.
// A task that fails with a PermanentError is removed from the schedule
// instead of running on its next tick.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
// Use this to indicate that a task should not run again.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
// Returns true if the error (or any error it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
