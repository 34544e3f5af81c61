package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the background task runner.
type Config struct {
	// PollInterval is the default interval between runs of a task
	// registered without its own interval.
	// Default: 15 seconds
	PollInterval time.Duration

	// TaskTimeout is the maximum time a single task run is allowed to take.
	// If a run exceeds this timeout, its context is canceled and it's recorded as failed.
	// Default: 5 minutes
	TaskTimeout time.Duration

	// ShutdownTimeout is how long to wait for running tasks to complete during graceful shutdown.
	// After this timeout, the worker stops even if tasks are still running.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// RunOnStart runs every task once immediately when the worker starts
	// instead of waiting for the first tick.
	// Default: true
	RunOnStart bool
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		PollInterval:    15 * time.Second,
		TaskTimeout:     5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		RunOnStart:      true,
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any values are invalid.
func (c Config) Validate() error {
	if c.PollInterval < 1*time.Second {
		return fmt.Errorf("poll interval must be at least 1 second, got %v", c.PollInterval)
	}
	if c.TaskTimeout < 1*time.Second {
		return fmt.Errorf("task timeout must be at least 1 second, got %v", c.TaskTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
