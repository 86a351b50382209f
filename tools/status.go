package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lexandro/taskwatch/engine"
	"github.com/lexandro/taskwatch/target"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusSource provides engine snapshots. *engine.Holder implements it.
type StatusSource interface {
	Status() engine.Status
}

// StatusArgs defines the input parameters for the taskwatch_status tool.
type StatusArgs struct {
	Target    string `json:"target,omitempty" jsonschema:"Only show this target"`
	ShowFiles bool   `json:"showFiles,omitempty" jsonschema:"List the files currently matched by each target"`
}

// StatusHandler holds the dependencies for the status tool.
type StatusHandler struct {
	Engine     StatusSource
	StartTime  time.Time
	ConfigPath string
	Logger     *slog.Logger
}

// Handle processes a taskwatch_status request.
func (h *StatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args StatusArgs) (*mcp.CallToolResult, any, error) {
	status := h.Engine.Status()
	uptime := time.Since(h.StartTime)

	h.Logger.Info("taskwatch_status",
		"running", status.Running,
		"targets", len(status.Targets),
		"uptime", uptime,
	)

	targets := status.Targets
	if args.Target != "" {
		targets = nil
		for _, ts := range status.Targets {
			if ts.Name == args.Target {
				targets = append(targets, ts)
			}
		}
		if len(targets) == 0 {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: unknown target %q", args.Target)}},
				IsError: true,
			}, nil, nil
		}
	}

	var builder strings.Builder
	builder.WriteString("=== taskwatch Status ===\n\n")
	builder.WriteString(fmt.Sprintf("Config: %s\n", h.ConfigPath))
	builder.WriteString(fmt.Sprintf("Uptime: %s\n", formatDuration(uptime)))
	if status.Running {
		builder.WriteString("Watch loop: running\n")
	} else {
		builder.WriteString("Watch loop: stopped\n")
	}
	builder.WriteString(fmt.Sprintf("Concurrent: %t\n", status.Concurrent))
	builder.WriteString(fmt.Sprintf("Runs: %d succeeded, %d failed (%d fatal), %d interrupted\n",
		status.Succeeded, status.Failed, status.Fatal, status.Interrupted))
	if status.ConsecutiveFatals > 0 {
		builder.WriteString(fmt.Sprintf("Consecutive fatal runs: %d\n", status.ConsecutiveFatals))
	}

	for _, ts := range targets {
		builder.WriteString("\n")
		builder.WriteString(FormatTargetStatus(ts))
		if args.ShowFiles {
			builder.WriteString(h.matchingFiles(ts))
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: builder.String()}},
	}, nil, nil
}

func (h *StatusHandler) matchingFiles(ts engine.TargetStatus) string {
	files, err := target.Expand(&target.Target{
		Name:     ts.Name,
		Patterns: ts.Patterns,
		Options:  target.Options{Cwd: ts.Cwd},
	})
	if err != nil {
		h.Logger.Warn("expanding target patterns failed", "target", ts.Name, "error", err)
		return fmt.Sprintf("  Files: error: %v\n", err)
	}
	if len(files) == 0 {
		return "  Files: none\n"
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("  Files (%d):\n", len(files)))
	for _, file := range files {
		builder.WriteString(fmt.Sprintf("    %s\n", file))
	}
	return builder.String()
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	totalMinutes := totalSeconds / 60
	remainderSeconds := totalSeconds % 60
	if totalMinutes < 60 {
		return fmt.Sprintf("%dm%ds", totalMinutes, remainderSeconds)
	}
	hours := totalMinutes / 60
	remainderMinutes := totalMinutes % 60
	return fmt.Sprintf("%dh%dm", hours, remainderMinutes)
}
