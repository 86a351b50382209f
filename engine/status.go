package engine

import (
	"time"

	"github.com/lexandro/taskwatch/runner"
)

// RunSummary describes the last terminal run of a target.
type RunSummary struct {
	ID       string
	Files    int
	Outcome  string
	Fatal    bool
	Reason   string
	Finished time.Time
	Duration time.Duration
}

// TargetStatus is the state of one target at snapshot time.
type TargetStatus struct {
	Name         string
	Cwd          string
	Patterns     []string
	State        string // idle, queued or running
	PendingFiles int
	RunningID    string
	LastRun      *RunSummary
}

// Status is an immutable snapshot of the engine, safe to read from any
// goroutine.
type Status struct {
	Running           bool
	Concurrent        bool
	Succeeded         int
	Failed            int
	Interrupted       int
	Fatal             int
	ConsecutiveFatals int
	Targets           []TargetStatus
}

// Status returns the latest published snapshot.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Engine) setRunning(running bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.Running = running
}

func (e *Engine) updateTargetStatus(run *Run, outcome runner.Outcome) {
	e.counts[outcome.Status]++
	if outcome.Fatal {
		e.fatals++
	}
	summary := RunSummary{
		ID:       run.ID,
		Files:    run.Batch.Len(),
		Outcome:  outcome.Status.String(),
		Fatal:    outcome.Fatal,
		Finished: time.Now(),
		Duration: outcome.Duration,
	}
	if outcome.Err != nil {
		summary.Reason = outcome.Err.Error()
	}
	e.lastRuns[run.Target.Name] = summary
}

// publish rebuilds the snapshot from loop-owned state.
func (e *Engine) publish() {
	running := make(map[string]string)
	for _, run := range e.coordinator.Active() {
		running[run.Target.Name] = run.ID
	}

	targets := make([]TargetStatus, 0, len(e.cfg.Targets))
	for _, t := range e.cfg.Targets {
		ts := TargetStatus{
			Name:     t.Name,
			Cwd:      t.Options.Cwd,
			Patterns: append([]string(nil), t.Patterns...),
			State:    "idle",
		}
		if batch, ok := e.coordinator.Pending(t.Name); ok {
			ts.State = "queued"
			ts.PendingFiles = batch.Len()
		}
		if id, ok := running[t.Name]; ok {
			ts.State = "running"
			ts.RunningID = id
		}
		if last, ok := e.lastRuns[t.Name]; ok {
			summary := last
			ts.LastRun = &summary
		}
		targets = append(targets, ts)
	}

	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.Concurrent = e.cfg.Concurrent
	e.status.Succeeded = e.counts[runner.StatusSucceeded]
	e.status.Failed = e.counts[runner.StatusFailed]
	e.status.Interrupted = e.counts[runner.StatusInterrupted]
	e.status.Fatal = e.fatals
	e.status.ConsecutiveFatals = e.consecutiveFatals
	e.status.Targets = targets
}
