package engine

import (
	"testing"
	"time"

	"github.com/lexandro/taskwatch/runner"
	"github.com/lexandro/taskwatch/target"
	"github.com/lexandro/taskwatch/watcher"
)

func coordTarget(name string, interrupt bool) *target.Target {
	return &target.Target{
		Name:     name,
		Patterns: []string{"**"},
		Options:  target.Options{Cwd: "/project", Spawn: true, Interrupt: interrupt},
	}
}

func batchOf(name string, paths ...string) watcher.Batch {
	now := time.Now()
	changes := make([]watcher.Change, len(paths))
	for i, p := range paths {
		changes[i] = watcher.Change{Path: p, Kind: watcher.KindChanged}
	}
	return watcher.Batch{Target: name, Changes: changes, Opened: now, Sealed: now}
}

func expectStart(t *testing.T, actions []Action, name string, paths ...string) *Run {
	t.Helper()
	if len(actions) != 1 || actions[0].Kind != ActionStart {
		t.Fatalf("expected one start action, got %+v", actions)
	}
	run := actions[0].Run
	if run.Target.Name != name {
		t.Fatalf("expected start of %s, got %s", name, run.Target.Name)
	}
	got := run.Batch.Paths()
	if len(got) != len(paths) {
		t.Fatalf("expected paths %v, got %v", paths, got)
	}
	for i := range paths {
		if got[i] != paths[i] {
			t.Fatalf("expected paths %v, got %v", paths, got)
		}
	}
	if run.ID == "" {
		t.Error("expected run to have an ID")
	}
	return run
}

func Test_Coordinator_StartsWhenFree(t *testing.T) {
	c := NewCoordinator([]*target.Target{coordTarget("scripts", false)}, false)

	run := expectStart(t, c.Submit(batchOf("scripts", "a.js")), "scripts", "a.js")
	if run.State != StateRunning {
		t.Errorf("expected running state, got %v", run.State)
	}
	if c.Idle() {
		t.Error("coordinator must not be idle while running")
	}

	if actions := c.Finish(run, runner.StatusSucceeded); len(actions) != 0 {
		t.Errorf("expected no follow-up actions, got %+v", actions)
	}
	if run.State != StateSucceeded {
		t.Errorf("expected succeeded state, got %v", run.State)
	}
	if !c.Idle() {
		t.Error("coordinator must be idle after the only run finished")
	}
}

func Test_Coordinator_CoalescesWhileBusy(t *testing.T) {
	c := NewCoordinator([]*target.Target{coordTarget("scripts", false)}, false)

	run := expectStart(t, c.Submit(batchOf("scripts", "a.js")), "scripts", "a.js")

	if actions := c.Submit(batchOf("scripts", "b.js")); len(actions) != 0 {
		t.Fatalf("expected no action while busy, got %+v", actions)
	}
	if actions := c.Submit(batchOf("scripts", "c.js", "b.js")); len(actions) != 0 {
		t.Fatalf("expected no action while busy, got %+v", actions)
	}
	pending, ok := c.Pending("scripts")
	if !ok || pending.Len() != 2 {
		t.Fatalf("expected merged pending batch of 2, got %v", pending.Paths())
	}

	// Without interrupt the first run keeps its batch; the next one gets only the newer changes
	expectStart(t, c.Finish(run, runner.StatusFailed), "scripts", "b.js", "c.js")
}

func Test_Coordinator_PreemptsInterruptibleTarget(t *testing.T) {
	c := NewCoordinator([]*target.Target{coordTarget("scripts", true)}, false)

	run := expectStart(t, c.Submit(batchOf("scripts", "a.js")), "scripts", "a.js")

	actions := c.Submit(batchOf("scripts", "b.js"))
	if len(actions) != 1 || actions[0].Kind != ActionInterrupt || actions[0].Run != run {
		t.Fatalf("expected interrupt of the running run, got %+v", actions)
	}
	if !run.Interrupt() {
		t.Fatal("first interrupt must take effect")
	}

	// A further batch while draining is merged, not interrupted again
	if actions := c.Submit(batchOf("scripts", "c.js")); len(actions) != 0 {
		t.Fatalf("expected no action while draining, got %+v", actions)
	}

	next := expectStart(t, c.Finish(run, runner.StatusInterrupted), "scripts", "a.js", "b.js", "c.js")
	if run.State != StateInterrupted {
		t.Errorf("expected interrupted state, got %v", run.State)
	}
	if next == run {
		t.Error("expected a fresh run")
	}
}

func Test_Coordinator_NoPreemptionAcrossTargets(t *testing.T) {
	c := NewCoordinator([]*target.Target{coordTarget("a", true), coordTarget("b", true)}, false)

	expectStart(t, c.Submit(batchOf("a", "a.js")), "a", "a.js")
	if actions := c.Submit(batchOf("b", "b.js")); len(actions) != 0 {
		t.Fatalf("a batch for another target must wait, got %+v", actions)
	}
}

func Test_Coordinator_SharedGroupSerializes(t *testing.T) {
	c := NewCoordinator([]*target.Target{coordTarget("a", false), coordTarget("b", false)}, false)

	runA := expectStart(t, c.Submit(batchOf("a", "a.js")), "a", "a.js")
	if actions := c.Submit(batchOf("b", "b.js")); len(actions) != 0 {
		t.Fatalf("expected b to wait for the shared slot, got %+v", actions)
	}
	expectStart(t, c.Finish(runA, runner.StatusSucceeded), "b", "b.js")
}

func Test_Coordinator_ConcurrentGroups(t *testing.T) {
	c := NewCoordinator([]*target.Target{coordTarget("a", false), coordTarget("b", false)}, true)

	expectStart(t, c.Submit(batchOf("a", "a.js")), "a", "a.js")
	expectStart(t, c.Submit(batchOf("b", "b.js")), "b", "b.js")

	if active := c.Active(); len(active) != 2 {
		t.Errorf("expected 2 active runs, got %d", len(active))
	}
}

func Test_Coordinator_TieBreakDeclarationOrder(t *testing.T) {
	c := NewCoordinator([]*target.Target{
		coordTarget("first", false),
		coordTarget("second", false),
		coordTarget("third", false),
	}, false)

	runThird := expectStart(t, c.Submit(batchOf("third", "x")), "third", "x")
	c.Submit(batchOf("second", "y"))
	c.Submit(batchOf("first", "z"))

	runFirst := expectStart(t, c.Finish(runThird, runner.StatusSucceeded), "first", "z")
	expectStart(t, c.Finish(runFirst, runner.StatusSucceeded), "second", "y")
}

func Test_Coordinator_InterruptAll(t *testing.T) {
	c := NewCoordinator([]*target.Target{coordTarget("a", true), coordTarget("b", false)}, true)

	runA := expectStart(t, c.Submit(batchOf("a", "a.js")), "a", "a.js")
	runB := expectStart(t, c.Submit(batchOf("b", "b.js")), "b", "b.js")
	c.Submit(batchOf("b", "b2.js"))

	interrupted := c.InterruptAll()
	if len(interrupted) != 2 {
		t.Fatalf("expected 2 interrupted runs, got %d", len(interrupted))
	}
	if !c.Interrupting() {
		t.Error("expected operator interrupt to be draining")
	}
	if pending, ok := c.Pending("b"); !ok || pending.Len() != 1 || pending.Changes[0].Path != "b2.js" {
		t.Errorf("expected the batch queued behind b to be kept, got %v (ok=%v)", pending.Paths(), ok)
	}

	// Operator interrupts never requeue the interrupted batch
	if actions := c.Finish(runA, runner.StatusInterrupted); len(actions) != 0 {
		t.Errorf("expected no restart, got %+v", actions)
	}
	expectStart(t, c.Finish(runB, runner.StatusInterrupted), "b", "b2.js")
	if c.Interrupting() {
		t.Error("expected operator interrupt to be drained")
	}
}

func Test_Coordinator_InterruptAllKeepsQueuedTargets(t *testing.T) {
	c := NewCoordinator([]*target.Target{coordTarget("a", false), coordTarget("b", false)}, false)

	runA := expectStart(t, c.Submit(batchOf("a", "a.js")), "a", "a.js")
	if actions := c.Submit(batchOf("b", "b.js")); len(actions) != 0 {
		t.Fatalf("expected b to wait for the shared slot, got %+v", actions)
	}

	if interrupted := c.InterruptAll(); len(interrupted) != 1 || interrupted[0] != runA {
		t.Fatalf("expected only the active run to be interrupted, got %+v", interrupted)
	}

	expectStart(t, c.Finish(runA, runner.StatusInterrupted), "b", "b.js")
	if _, ok := c.Pending("a"); ok {
		t.Error("the interrupted batch must not be queued again")
	}
}

func Test_Coordinator_HoldStopsScheduling(t *testing.T) {
	c := NewCoordinator([]*target.Target{coordTarget("a", true)}, false)

	run := expectStart(t, c.Submit(batchOf("a", "a.js")), "a", "a.js")
	c.Submit(batchOf("a", "b.js"))
	c.Hold()

	if actions := c.Finish(run, runner.StatusInterrupted); len(actions) != 0 {
		t.Errorf("expected no start while held, got %+v", actions)
	}
	if actions := c.Submit(batchOf("a", "c.js")); len(actions) != 0 {
		t.Errorf("expected no start while held, got %+v", actions)
	}
}

func Test_Run_InterruptIdempotent(t *testing.T) {
	cancelled := 0
	run := &Run{cancel: func() { cancelled++ }}

	if !run.Interrupt() {
		t.Error("first interrupt must report true")
	}
	if run.Interrupt() {
		t.Error("second interrupt must report false")
	}
	if cancelled != 1 {
		t.Errorf("expected cancel once, got %d", cancelled)
	}
	if !run.Interrupted() {
		t.Error("expected Interrupted() to be true")
	}
}
