package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexandro/taskwatch/history"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HistorySearcher queries the run ledger. *history.Ledger implements it.
type HistorySearcher interface {
	Search(options history.SearchOptions) ([]history.Record, error)
}

// HistoryArgs defines the input parameters for the taskwatch_history tool.
type HistoryArgs struct {
	Query      string `json:"query,omitempty" jsonschema:"Search changed files and failure reasons. Plain text for word match, quoted for exact phrase, /regex/ for regular expression. Empty lists the latest runs"`
	Target     string `json:"target,omitempty" jsonschema:"Only runs of this target"`
	Outcome    string `json:"outcome,omitempty" jsonschema:"Only runs with this outcome: succeeded, failed or interrupted"`
	MaxResults int    `json:"maxResults,omitempty" jsonschema:"Maximum number of runs to return (default 20)"`
}

// HistoryHandler holds the dependencies for the history tool.
type HistoryHandler struct {
	Ledger HistorySearcher
	Logger *slog.Logger
}

// Handle processes a taskwatch_history request.
func (h *HistoryHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args HistoryArgs) (*mcp.CallToolResult, any, error) {
	start := time.Now()

	switch args.Outcome {
	case "", "succeeded", "failed", "interrupted":
	default:
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: unknown outcome %q (use succeeded, failed or interrupted)", args.Outcome)}},
			IsError: true,
		}, nil, nil
	}

	records, err := h.Ledger.Search(history.SearchOptions{
		Query:      args.Query,
		Target:     args.Target,
		Outcome:    args.Outcome,
		MaxResults: args.MaxResults,
	})
	if err != nil {
		h.Logger.Error("taskwatch_history failed", "query", args.Query, "error", err)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("History error: %v", err)}},
			IsError: true,
		}, nil, nil
	}

	h.Logger.Info("taskwatch_history",
		"query", args.Query,
		"target", args.Target,
		"outcome", args.Outcome,
		"results", len(records),
		"elapsed", time.Since(start),
	)

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatRecords(records)}},
	}, nil, nil
}
