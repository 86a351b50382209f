package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrFatal marks a task error as unrecoverable. It is reported distinctly
// from an ordinary failure but does not stop the watch loop on its own.
var ErrFatal = errors.New("fatal")

// Fatal wraps err so that errors.Is(err, ErrFatal) holds.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// Task is a unit of work run for a target. files are the changed paths
// relative to the target's working directory and may be empty. Run must
// return promptly once ctx is cancelled.
type Task interface {
	Run(ctx context.Context, target string, files []string) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, target string, files []string) error

// Run calls f.
func (f TaskFunc) Run(ctx context.Context, target string, files []string) error {
	return f(ctx, target, files)
}

// Status is the terminal state of one execution.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Outcome is the result of Dispatcher.Execute.
type Outcome struct {
	Status   Status
	Err      error // Set for failed runs
	Fatal    bool
	Duration time.Duration
}

// Dispatcher runs the task registered for a target and turns its result
// into an Outcome. It is safe for concurrent use.
type Dispatcher struct {
	mu     sync.RWMutex
	tasks  map[string]Task
	logger *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tasks:  make(map[string]Task),
		logger: logger,
	}
}

// Register sets the task run for target, replacing any previous one.
func (d *Dispatcher) Register(target string, task Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks[target] = task
}

// Execute runs the task of target exactly once and blocks until it has
// returned. A cancelled ctx always yields StatusInterrupted, whatever the
// task returned. Panics are recovered and reported as fatal failures.
func (d *Dispatcher) Execute(ctx context.Context, target string, files []string) (outcome Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", "target", target, "panic", r)
			outcome = Outcome{
				Status: StatusFailed,
				Err:    Fatal(fmt.Errorf("task panicked: %v", r)),
				Fatal:  true,
			}
		}
		outcome.Duration = time.Since(start)
	}()

	d.mu.RLock()
	task, ok := d.tasks[target]
	d.mu.RUnlock()
	if !ok {
		return Outcome{
			Status: StatusFailed,
			Err:    Fatal(fmt.Errorf("no task registered for target %q", target)),
			Fatal:  true,
		}
	}

	d.logger.Debug("executing task", "target", target, "files", len(files))
	err := task.Run(ctx, target, files)

	switch {
	case ctx.Err() != nil:
		return Outcome{Status: StatusInterrupted}
	case err == nil:
		return Outcome{Status: StatusSucceeded}
	default:
		return Outcome{
			Status: StatusFailed,
			Err:    err,
			Fatal:  errors.Is(err, ErrFatal),
		}
	}
}
