package tools

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lexandro/taskwatch/engine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("expected content in result")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return text.Text
}

// --- formatDuration ---

func Test_FormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"Seconds_zero", 0, "0s"},
		{"Seconds_30", 30 * time.Second, "30s"},
		{"Seconds_59", 59 * time.Second, "59s"},
		{"Minutes_1m0s", 60 * time.Second, "1m0s"},
		{"Minutes_5m30s", 5*time.Minute + 30*time.Second, "5m30s"},
		{"Hours_1h30m", 90 * time.Minute, "1h30m"},
		{"Hours_2h0m", 2 * time.Hour, "2h0m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatDuration(tt.duration)
			if got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

// --- StatusHandler ---

type fakeStatus struct {
	status engine.Status
}

func (f fakeStatus) Status() engine.Status { return f.status }

func newTestStatusHandler(status engine.Status) *StatusHandler {
	return &StatusHandler{
		Engine:     fakeStatus{status: status},
		StartTime:  time.Now(),
		ConfigPath: "/test/project/taskwatch.yaml",
		Logger:     testLogger(),
	}
}

func sampleStatus(cwd string) engine.Status {
	return engine.Status{
		Running:     true,
		Succeeded:   4,
		Failed:      2,
		Fatal:       1,
		Interrupted: 1,
		Targets: []engine.TargetStatus{
			{
				Name:      "scripts",
				Cwd:       cwd,
				Patterns:  []string{"lib/*.js"},
				State:     "running",
				RunningID: "run-2",
				LastRun: &engine.RunSummary{
					ID:       "run-1",
					Files:    2,
					Outcome:  "failed",
					Fatal:    true,
					Reason:   "command \"npm test\" exited with code 127",
					Finished: time.Date(2026, time.October, 17, 9, 4, 5, 0, time.UTC),
					Duration: 1500 * time.Millisecond,
				},
			},
			{
				Name:         "styles",
				Cwd:          cwd,
				Patterns:     []string{"css/*.css"},
				State:        "queued",
				PendingFiles: 3,
			},
		},
	}
}

func Test_StatusHandler_Handle(t *testing.T) {
	h := newTestStatusHandler(sampleStatus("/test/project"))

	result, _, err := h.Handle(context.Background(), nil, StatusArgs{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatal("expected success, got error result")
	}

	text := resultText(t, result)
	for _, want := range []string{
		"taskwatch Status",
		"Config: /test/project/taskwatch.yaml",
		"Watch loop: running",
		"Runs: 4 succeeded, 2 failed (1 fatal), 1 interrupted",
		"── scripts ──",
		"State: running (run run-2)",
		"Last run: failed (fatal) in 1.5s, 2 files, finished 09:04:05",
		"exited with code 127",
		"State: queued (3 files pending)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in status output:\n%s", want, text)
		}
	}
}

func Test_StatusHandler_Stopped(t *testing.T) {
	h := newTestStatusHandler(engine.Status{})

	result, _, err := h.Handle(context.Background(), nil, StatusArgs{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resultText(t, result), "Watch loop: stopped") {
		t.Errorf("expected stopped loop, got:\n%s", resultText(t, result))
	}
}

func Test_StatusHandler_SingleTargetWithFiles(t *testing.T) {
	cwd := t.TempDir()
	os.MkdirAll(filepath.Join(cwd, "lib"), 0755)
	os.WriteFile(filepath.Join(cwd, "lib", "one.js"), []byte("one"), 0644)
	os.WriteFile(filepath.Join(cwd, "lib", "two.js"), []byte("two"), 0644)
	os.WriteFile(filepath.Join(cwd, "lib", "readme.md"), []byte("docs"), 0644)

	h := newTestStatusHandler(sampleStatus(cwd))

	result, _, err := h.Handle(context.Background(), nil, StatusArgs{Target: "scripts", ShowFiles: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := resultText(t, result)
	if strings.Contains(text, "── styles ──") {
		t.Error("expected only the selected target")
	}
	if !strings.Contains(text, "Files (2):") || !strings.Contains(text, "lib/one.js") || !strings.Contains(text, "lib/two.js") {
		t.Errorf("expected matching files, got:\n%s", text)
	}
	if strings.Contains(text, "readme.md") {
		t.Error("non-matching file listed")
	}
}

func Test_StatusHandler_UnknownTarget(t *testing.T) {
	h := newTestStatusHandler(sampleStatus("/test/project"))

	result, _, err := h.Handle(context.Background(), nil, StatusArgs{Target: "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for unknown target")
	}
}
