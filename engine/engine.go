package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lexandro/taskwatch/history"
	"github.com/lexandro/taskwatch/runner"
	"github.com/lexandro/taskwatch/target"
	"github.com/lexandro/taskwatch/watcher"
)

var (
	// ErrReload is returned by Run when the watch loop must be rebuilt from
	// a fresh configuration.
	ErrReload = errors.New("reload requested")
	// ErrTooManyFatals is returned by Run once the configured number of
	// consecutive fatal outcomes is reached.
	ErrTooManyFatals = errors.New("too many consecutive fatal errors")
	// ErrNotRunning is returned by Trigger when the loop is not running.
	ErrNotRunning = errors.New("engine is not running")
	// ErrUnknownTarget is returned by Trigger for a target that does not exist.
	ErrUnknownTarget = errors.New("unknown target")
)

// Executor runs the task of a target and reports its outcome.
// *runner.Dispatcher implements it.
type Executor interface {
	Execute(ctx context.Context, target string, files []string) runner.Outcome
}

// Recorder stores terminal runs. *history.Ledger implements it.
type Recorder interface {
	Add(record history.Record) error
}

// Notifier is told about files changed by a successful livereload run.
// *livereload.Server implements it.
type Notifier interface {
	Notify(files []string)
}

// Config wires an Engine.
type Config struct {
	Targets              []*target.Target
	Concurrent           bool
	MaxConsecutiveFatals int // 0 means unlimited

	Executor   Executor
	Events     <-chan watcher.Event // Usually Watcher.Events(); may be nil
	Interrupts <-chan struct{}      // Operator interrupts; may be nil
	Reporter   *Reporter
	Recorder   Recorder // Optional
	Notifier   Notifier // Optional
	Logger     *slog.Logger
}

type finished struct {
	run     *Run
	outcome runner.Outcome
}

// Engine is the watch-and-dispatch loop. All scheduling decisions happen on
// the goroutine running Run; timers and runs talk to it over channels.
type Engine struct {
	cfg         Config
	resolver    *target.Resolver
	coordinator *Coordinator
	debouncers  map[string]*watcher.Debouncer
	logger      *slog.Logger
	reporter    *Reporter

	batches  chan watcher.Batch
	outcomes chan finished
	started  chan struct{}
	done     chan struct{}

	consecutiveFatals int
	forceRestart      bool
	counts            map[runner.Status]int
	fatals            int
	lastRuns          map[string]RunSummary // by target; loop goroutine only

	statusMu sync.RWMutex
	status   Status
}

// New validates the configuration and creates an engine ready to Run.
func New(cfg Config) (*Engine, error) {
	if cfg.Executor == nil {
		return nil, errors.New("engine needs an executor")
	}
	if cfg.Logger == nil {
		return nil, errors.New("engine needs a logger")
	}
	resolver, err := target.NewResolver(cfg.Targets)
	if err != nil {
		return nil, fmt.Errorf("resolving targets: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		resolver:    resolver,
		coordinator: NewCoordinator(cfg.Targets, cfg.Concurrent),
		debouncers:  make(map[string]*watcher.Debouncer, len(cfg.Targets)),
		logger:      cfg.Logger,
		reporter:    cfg.Reporter,
		batches:     make(chan watcher.Batch, len(cfg.Targets)+16),
		outcomes:    make(chan finished, len(cfg.Targets)),
		counts:      make(map[runner.Status]int),
		started:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	if e.reporter == nil {
		e.reporter = NewReporter(io.Discard, cfg.Logger)
	}
	for _, t := range cfg.Targets {
		e.debouncers[t.Name] = watcher.NewDebouncer(t.Name, t.Options.DebounceDelay, e.batches)
	}
	e.lastRuns = make(map[string]RunSummary, len(cfg.Targets))
	e.publish()
	return e, nil
}

// Resolver returns the target resolver built from the configuration.
func (e *Engine) Resolver() *target.Resolver {
	return e.resolver
}

// Run drives the loop until ctx is cancelled (returns nil), the operator
// asks to stop (returns nil), a reload is requested (returns ErrReload) or
// the fatal limit is reached (returns ErrTooManyFatals). It waits for every
// active run to finish before returning. Run may be called only once.
func (e *Engine) Run(ctx context.Context) error {
	close(e.started)
	defer close(e.done)

	e.setRunning(true)
	defer e.setRunning(false)

	now := time.Now()
	for _, t := range e.resolver.Targets() {
		if t.Options.AtBegin {
			if err := e.handleBatch(ctx, watcher.Batch{Target: t.Name, Opened: now, Sealed: now}); err != nil {
				return e.shutdown(err)
			}
		}
	}
	if e.coordinator.Idle() {
		e.reporter.Waiting()
	}
	e.publish()

	events := e.cfg.Events
	interrupts := e.cfg.Interrupts

	for {
		var loopErr error
		select {
		case <-ctx.Done():
			e.logger.Info("watch loop cancelled")
			return e.shutdown(nil)

		case event, ok := <-events:
			if !ok {
				e.logger.Warn("watcher stopped delivering events")
				events = nil
				continue
			}
			e.handleEvent(event)

		case batch := <-e.batches:
			loopErr = e.handleBatch(ctx, batch)

		case f := <-e.outcomes:
			loopErr = e.handleOutcome(ctx, f)

		case <-interrupts:
			if e.handleInterrupt() {
				e.logger.Info("stopping on operator request")
				return e.shutdown(nil)
			}
		}
		e.publish()
		if loopErr != nil {
			return e.shutdown(loopErr)
		}
	}
}

// Trigger seals the open batch of a target right away, even when it holds
// no change, as if its debounce window had elapsed.
func (e *Engine) Trigger(ctx context.Context, name string) error {
	d, ok := e.debouncers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	select {
	case <-e.started:
	default:
		return ErrNotRunning
	}
	select {
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	d.FireNow()
	e.logger.Info("manual trigger", "target", name)
	return nil
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) handleEvent(event watcher.Event) {
	matches := e.resolver.Match(event.Path, event.Kind)
	if len(matches) == 0 {
		e.logger.Debug("change matches no target", "path", event.Path, "kind", event.Kind)
		return
	}
	for _, m := range matches {
		e.debouncers[m.Target.Name].Add(m.RelPath, event.Kind)
	}
}

func (e *Engine) handleBatch(ctx context.Context, batch watcher.Batch) error {
	t, ok := e.resolver.Target(batch.Target)
	if !ok {
		e.logger.Warn("batch for unknown target", "target", batch.Target)
		return nil
	}
	for _, change := range batch.Changes {
		e.reporter.FileChanged(change.Path, change.Kind)
	}
	e.logger.Debug("batch sealed", "target", t.Name, "files", batch.Len(),
		"window", batch.Sealed.Sub(batch.Opened))

	if t.Options.Reload {
		e.reporter.Reloading()
		return ErrReload
	}
	e.perform(ctx, e.coordinator.Submit(batch))
	return nil
}

func (e *Engine) handleOutcome(ctx context.Context, f finished) error {
	run, outcome := f.run, f.outcome

	var err error
	switch {
	case outcome.Status == runner.StatusFailed && outcome.Fatal:
		e.consecutiveFatals++
		if limit := e.cfg.MaxConsecutiveFatals; limit > 0 && e.consecutiveFatals >= limit {
			err = fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFatals, e.consecutiveFatals, outcome.Err)
		}
	case outcome.Status != runner.StatusInterrupted:
		e.consecutiveFatals = 0
	}
	if err == nil && outcome.Status != runner.StatusInterrupted && run.Target.Options.ForceRestart {
		e.forceRestart = true
	}
	// Nothing new may start once the loop is about to end.
	if err != nil || e.forceRestart {
		e.coordinator.Hold()
	}

	actions := e.coordinator.Finish(run, outcome.Status)
	e.record(run, outcome)

	switch outcome.Status {
	case runner.StatusInterrupted:
		e.logger.Info("run interrupted", "target", run.Target.Name, "id", run.ID, "duration", outcome.Duration)
	case runner.StatusSucceeded:
		e.logger.Info("run succeeded", "target", run.Target.Name, "id", run.ID, "duration", outcome.Duration)
		e.reporter.Done(false)
		if run.Target.Options.LiveReload && e.cfg.Notifier != nil {
			e.cfg.Notifier.Notify(run.Batch.Paths())
		}
	case runner.StatusFailed:
		if outcome.Fatal {
			e.logger.Error("run failed fatally", "target", run.Target.Name, "id", run.ID, "error", outcome.Err)
			e.reporter.Fatal(outcome.Err)
		} else {
			e.logger.Warn("run failed", "target", run.Target.Name, "id", run.ID, "error", outcome.Err)
			e.reporter.Warning(outcome.Err)
		}
		e.reporter.Done(true)
	}

	e.perform(ctx, actions)

	idle := e.coordinator.Idle() && err == nil && !e.forceRestart
	if outcome.Status == runner.StatusInterrupted {
		if idle {
			e.reporter.Waiting()
		}
	} else {
		e.reporter.Completed(outcome.Duration, run.Batch.Sealed, run.Target.Options.DateFormat, idle)
	}

	if err != nil {
		return err
	}
	if e.forceRestart && len(e.coordinator.Active()) == 0 {
		e.reporter.Reloading()
		return ErrReload
	}
	return nil
}

// handleInterrupt reacts to an operator interrupt and reports whether the
// engine must stop.
func (e *Engine) handleInterrupt() bool {
	if len(e.coordinator.Active()) == 0 || e.coordinator.Interrupting() {
		return true
	}
	for _, run := range e.coordinator.InterruptAll() {
		e.logger.Info("interrupting run", "target", run.Target.Name, "id", run.ID)
		e.reporter.Interrupted()
	}
	return false
}

func (e *Engine) perform(ctx context.Context, actions []Action) {
	for _, action := range actions {
		switch action.Kind {
		case ActionStart:
			e.start(ctx, action.Run)
		case ActionInterrupt:
			if action.Run.Interrupt() {
				e.logger.Info("interrupting superseded run", "target", action.Run.Target.Name, "id", action.Run.ID)
				e.reporter.Interrupted()
			}
		}
	}
}

func (e *Engine) start(ctx context.Context, run *Run) {
	runCtx, cancel := context.WithCancel(ctx)
	run.cancel = cancel
	run.Started = time.Now()
	files := run.Batch.Paths()

	e.logger.Info("starting run", "target", run.Target.Name, "id", run.ID, "files", len(files))

	go func() {
		defer cancel()
		outcome := e.cfg.Executor.Execute(runCtx, run.Target.Name, files)
		e.outcomes <- finished{run: run, outcome: outcome}
	}()
}

// shutdown stops scheduling, interrupts what is still running and waits
// for those runs to drain before returning cause.
func (e *Engine) shutdown(cause error) error {
	e.coordinator.Hold()
	e.stopDebouncers()

	for _, run := range e.coordinator.Active() {
		if run.Interrupt() {
			e.reporter.Interrupted()
		}
	}
	for len(e.coordinator.Active()) > 0 {
		f := <-e.outcomes
		e.coordinator.Finish(f.run, f.outcome.Status)
		e.record(f.run, f.outcome)
		e.logger.Info("run drained", "target", f.run.Target.Name, "id", f.run.ID, "status", f.outcome.Status)
	}
	e.publish()
	return cause
}

func (e *Engine) stopDebouncers() {
	for _, d := range e.debouncers {
		d.Stop()
	}
}

func (e *Engine) record(run *Run, outcome runner.Outcome) {
	e.updateTargetStatus(run, outcome)
	if e.cfg.Recorder == nil {
		return
	}
	rec := history.Record{
		ID:       run.ID,
		Target:   run.Target.Name,
		Files:    run.Batch.Paths(),
		Outcome:  outcome.Status.String(),
		Fatal:    outcome.Fatal,
		Started:  run.Started,
		Duration: outcome.Duration,
	}
	if outcome.Err != nil {
		rec.Reason = outcome.Err.Error()
	}
	if err := e.cfg.Recorder.Add(rec); err != nil {
		e.logger.Warn("failed to record run", "id", run.ID, "error", err)
	}
}
