package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/wellpass/internal/metrics"
)

// ErrUnknownTask is returned by RunOnce for an unregistered task name.
var ErrUnknownTask = errors.New("unknown task")

type scheduled struct {
	task     Task
	interval time.Duration
}

// Worker runs registered tasks on fixed intervals, one goroutine per task.
// Runs of the same task never overlap.
type Worker struct {
	tasks  map[string]scheduled
	order  []string
	config Config
	logger *slog.Logger

	// Synchronization
	mu      sync.Mutex
	running map[string]*sync.Mutex
	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped bool
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		tasks:   make(map[string]scheduled),
		running: make(map[string]*sync.Mutex),
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Register adds a task to the worker. An interval of zero uses the
// configured PollInterval. Call this before Start().
func (w *Worker) Register(task Task, interval time.Duration) {
	if interval <= 0 {
		interval = w.config.PollInterval
	}
	name := task.Name()
	if _, exists := w.tasks[name]; exists {
		w.logger.Warn("Overwriting existing task", "task", name)
	} else {
		w.order = append(w.order, name)
	}
	w.tasks[name] = scheduled{task: task, interval: interval}
	w.running[name] = &sync.Mutex{}
	w.logger.Debug("Registered task", "task", name, "interval", interval)
}

// Start launches one goroutine per registered task.
func (w *Worker) Start(ctx context.Context) {
	for _, name := range w.order {
		w.wg.Add(1)
		go w.runLoop(ctx, w.tasks[name])
	}

	w.logger.Info("Worker started", "tasks", len(w.order))
}

// Stop signals all task loops to stop and waits for them to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	w.logger.Info("Stopping worker...")
	close(w.stopCh)

	// Wait for task loops with timeout
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some tasks may still be running")
	}
}

// RunOnce executes a registered task immediately, waiting for any
// scheduled run of the same task to finish first.
func (w *Worker) RunOnce(ctx context.Context, name string) error {
	s, ok := w.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return w.execute(ctx, s.task, w.logger.With("task", name))
}

// runLoop is the main loop for a task goroutine.
// It runs the task on every tick until stopCh is closed, the context ends
// or the task fails permanently.
func (w *Worker) runLoop(ctx context.Context, s scheduled) {
	defer w.wg.Done()

	logger := w.logger.With("task", s.task.Name())
	logger.Debug("Task loop started")

	if w.config.RunOnStart {
		if w.runTick(ctx, s, logger) {
			return
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			logger.Debug("Task loop stopping")
			return
		case <-ctx.Done():
			logger.Debug("Task loop context done")
			return
		case <-ticker.C:
			if w.runTick(ctx, s, logger) {
				return
			}
		}
	}
}

// runTick runs the task once and reports whether it must not run again.
func (w *Worker) runTick(ctx context.Context, s scheduled, logger *slog.Logger) bool {
	err := w.execute(ctx, s.task, logger)
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		logger.Warn("Task failed with permanent error, will not run again", "error", err)
		return true
	}
	logger.Error("Task failed", "error", err)
	return false
}

// execute runs the task with a timeout context and records metrics.
func (w *Worker) execute(ctx context.Context, task Task, logger *slog.Logger) error {
	lock := w.running[task.Name()]
	lock.Lock()
	defer lock.Unlock()

	// Create a context with timeout
	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	err := task.Run(taskCtx)
	duration := time.Since(start)

	if err != nil {
		metrics.TaskFailed(task.Name(), duration)
		return fmt.Errorf("run task %s: %w", task.Name(), err)
	}

	metrics.TaskCompleted(task.Name(), duration)
	logger.Debug("Task completed", "duration_ms", duration.Milliseconds())
	return nil
}
