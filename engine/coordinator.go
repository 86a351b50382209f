package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lexandro/taskwatch/runner"
	"github.com/lexandro/taskwatch/target"
	"github.com/lexandro/taskwatch/watcher"
)

// sharedGroup is the single target-group used when targets do not run concurrently.
const sharedGroup = "*"

// State is the lifecycle state of a Run.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateInterrupted
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateInterrupted:
		return "interrupted"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Run is one execution of a target's task for a sealed batch.
type Run struct {
	ID      string
	Target  *target.Target
	Batch   watcher.Batch
	State   State
	Started time.Time

	cancel      context.CancelFunc
	interrupted bool
	requeue     bool // Batch goes back to pending when the run drains
	byOperator  bool
}

// Interrupt cancels the run. Only the first call has an effect; it
// reports whether this call was that first one.
func (r *Run) Interrupt() bool {
	if r.interrupted {
		return false
	}
	r.interrupted = true
	if r.cancel != nil {
		r.cancel()
	}
	return true
}

// Interrupted reports whether Interrupt has been called.
func (r *Run) Interrupted() bool {
	return r.interrupted
}

// ActionKind says what the engine must do for a Run.
type ActionKind int

const (
	ActionStart ActionKind = iota
	ActionInterrupt
)

// Action is an instruction returned by the Coordinator.
type Action struct {
	Kind ActionKind
	Run  *Run
}

// Coordinator is the run state machine. It holds at most one active Run per
// target-group and at most one pending batch per target. It performs no I/O
// and must be used from a single goroutine.
type Coordinator struct {
	order      []*target.Target
	concurrent bool

	pending map[string]*watcher.Batch // by target name
	active  map[string]*Run           // by group
	held    bool
}

// NewCoordinator creates a coordinator for targets in declaration order.
// Without concurrent, all targets share one group.
func NewCoordinator(targets []*target.Target, concurrent bool) *Coordinator {
	return &Coordinator{
		order:      targets,
		concurrent: concurrent,
		pending:    make(map[string]*watcher.Batch),
		active:     make(map[string]*Run),
	}
}

func (c *Coordinator) group(name string) string {
	if c.concurrent {
		return name
	}
	return sharedGroup
}

// Submit hands a sealed batch to the coordinator. The batch is merged into
// the target's pending batch. A running run of the same target is
// interrupted when the target allows it; otherwise free groups get started.
func (c *Coordinator) Submit(batch watcher.Batch) []Action {
	if existing, ok := c.pending[batch.Target]; ok {
		merged := existing.Merge(batch)
		c.pending[batch.Target] = &merged
	} else {
		b := batch
		c.pending[batch.Target] = &b
	}

	if run, ok := c.active[c.group(batch.Target)]; ok {
		if run.Target.Name == batch.Target && run.Target.CanInterrupt() && !run.interrupted {
			run.requeue = true
			return []Action{{Kind: ActionInterrupt, Run: run}}
		}
		return nil
	}
	return c.schedule()
}

// Finish records the terminal state of an active run and returns the runs
// that can start now. An interrupted run that was superseded puts its batch
// back in front of whatever accumulated meanwhile.
func (c *Coordinator) Finish(run *Run, status runner.Status) []Action {
	group := c.group(run.Target.Name)
	if c.active[group] == run {
		delete(c.active, group)
	}

	switch status {
	case runner.StatusSucceeded:
		run.State = StateSucceeded
	case runner.StatusFailed:
		run.State = StateFailed
	default:
		run.State = StateInterrupted
	}

	if run.requeue && !c.held {
		merged := run.Batch
		if newer, ok := c.pending[run.Target.Name]; ok {
			merged = merged.Merge(*newer)
		}
		c.pending[run.Target.Name] = &merged
	}
	return c.schedule()
}

// InterruptAll interrupts every active run on behalf of the operator. The
// interrupted batches are not run again; batches queued behind them start
// once the runs drain. It returns the runs it interrupted.
func (c *Coordinator) InterruptAll() []*Run {
	var runs []*Run
	for _, run := range c.Active() {
		run.requeue = false
		run.byOperator = true
		if run.Interrupt() {
			runs = append(runs, run)
		}
	}
	return runs
}

// Interrupting reports whether an operator interrupt is still draining.
func (c *Coordinator) Interrupting() bool {
	for _, run := range c.active {
		if run.byOperator {
			return true
		}
	}
	return false
}

// Hold stops the coordinator from starting any further run.
func (c *Coordinator) Hold() {
	c.held = true
}

// Idle reports whether nothing is running and nothing is pending.
func (c *Coordinator) Idle() bool {
	return len(c.active) == 0 && len(c.pending) == 0
}

// Active returns the active runs in target declaration order.
func (c *Coordinator) Active() []*Run {
	runs := make([]*Run, 0, len(c.active))
	for _, t := range c.order {
		if run, ok := c.active[c.group(t.Name)]; ok && run.Target.Name == t.Name {
			runs = append(runs, run)
		}
	}
	return runs
}

// Pending returns the pending batch of a target, if any.
func (c *Coordinator) Pending(name string) (watcher.Batch, bool) {
	batch, ok := c.pending[name]
	if !ok {
		return watcher.Batch{}, false
	}
	return *batch, true
}

// schedule starts pending targets whose group is free, in declaration order.
func (c *Coordinator) schedule() []Action {
	if c.held {
		return nil
	}
	var actions []Action
	for _, t := range c.order {
		batch, ok := c.pending[t.Name]
		if !ok {
			continue
		}
		group := c.group(t.Name)
		if _, busy := c.active[group]; busy {
			continue
		}
		run := &Run{
			ID:     uuid.NewString(),
			Target: t,
			Batch:  *batch,
			State:  StateRunning,
		}
		c.active[group] = run
		delete(c.pending, t.Name)
		actions = append(actions, Action{Kind: ActionStart, Run: run})
	}
	return actions
}
