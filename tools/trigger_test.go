package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lexandro/taskwatch/engine"
)

type fakeTriggerer struct {
	triggered []string
	err       error
}

func (f *fakeTriggerer) Trigger(ctx context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, name)
	return nil
}

func Test_TriggerHandler_Handle(t *testing.T) {
	fake := &fakeTriggerer{}
	h := &TriggerHandler{Engine: fake, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, TriggerArgs{Target: "scripts"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got: %s", resultText(t, result))
	}
	if len(fake.triggered) != 1 || fake.triggered[0] != "scripts" {
		t.Errorf("expected scripts to be triggered, got %v", fake.triggered)
	}
	if !strings.Contains(resultText(t, result), `Triggered target "scripts"`) {
		t.Errorf("unexpected text: %s", resultText(t, result))
	}
}

func Test_TriggerHandler_EmptyTarget(t *testing.T) {
	fake := &fakeTriggerer{}
	h := &TriggerHandler{Engine: fake, Logger: testLogger()}

	result, _, err := h.Handle(context.Background(), nil, TriggerArgs{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for empty target")
	}
	if len(fake.triggered) != 0 {
		t.Error("nothing must be triggered")
	}
}

func Test_TriggerHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"UnknownTarget", errors.New("unknown target: missing"), "unknown target: missing"},
		{"NotRunning", engine.ErrNotRunning, "not running"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &TriggerHandler{Engine: &fakeTriggerer{err: tt.err}, Logger: testLogger()}

			result, _, err := h.Handle(context.Background(), nil, TriggerArgs{Target: "missing"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected error result")
			}
			if !strings.Contains(resultText(t, result), tt.expected) {
				t.Errorf("expected %q in %q", tt.expected, resultText(t, result))
			}
		})
	}
}
