package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lexandro/taskwatch/engine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Triggerer starts a target by name. *engine.Holder implements it.
type Triggerer interface {
	Trigger(ctx context.Context, name string) error
}

// TriggerArgs defines the input parameters for the taskwatch_trigger tool.
type TriggerArgs struct {
	Target string `json:"target" jsonschema:"Name of the target to run"`
}

// TriggerHandler holds the dependencies for the trigger tool.
type TriggerHandler struct {
	Engine Triggerer
	Logger *slog.Logger
}

// Handle processes a taskwatch_trigger request.
func (h *TriggerHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args TriggerArgs) (*mcp.CallToolResult, any, error) {
	if args.Target == "" {
		h.Logger.Warn("taskwatch_trigger called without target")
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "Error: target parameter is required"}},
			IsError: true,
		}, nil, nil
	}

	if err := h.Engine.Trigger(ctx, args.Target); err != nil {
		h.Logger.Error("taskwatch_trigger failed", "target", args.Target, "error", err)
		text := fmt.Sprintf("Trigger error: %v", err)
		if errors.Is(err, engine.ErrNotRunning) {
			text = "Trigger error: the watch loop is not running (it may be reloading), try again"
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
			IsError: true,
		}, nil, nil
	}

	h.Logger.Info("taskwatch_trigger", "target", args.Target)

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Triggered target %q. Use taskwatch_status or taskwatch_history to follow the run.", args.Target)}},
	}, nil, nil
}
