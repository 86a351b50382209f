package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/lexandro/taskwatch/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Version is reported to MCP clients.
const Version = "0.3.0"

const shutdownTimeout = 5 * time.Second

// Setup creates and configures the MCP server with all tool registrations.
func Setup(
	statusHandler *tools.StatusHandler,
	triggerHandler *tools.TriggerHandler,
	historyHandler *tools.HistoryHandler,
) *mcp.Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "taskwatch",
			Version: Version,
		},
		&mcp.ServerOptions{
			Instructions: `This server controls a running taskwatch process, which runs configured tasks when watched files change.

- Use taskwatch_status to see which targets are idle, queued or running and how their last run ended
- Use taskwatch_trigger to run a target now, without waiting for a file change
- Use taskwatch_history to find past runs by changed file, failure reason, target or outcome`,
		},
	)

	// Register taskwatch_status tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "taskwatch_status",
		Description: "Show watch loop status: run counters and, per target, its state (idle, queued, running), patterns and last run. Set showFiles to list the files each target currently matches.",
	}, statusHandler.Handle)

	// Register taskwatch_trigger tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "taskwatch_trigger",
		Description: "Run a target now, as if its debounce window had elapsed. Changes already collected for the target are included in the run.",
	}, triggerHandler.Handle)

	// Register taskwatch_history tool
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name: "taskwatch_history",
		Description: `Search the history of runs, newest first.

Query formats:
  - Plain text: word-level matching on changed files and failure reasons (e.g., "app.css")
  - "quoted text": exact phrase matching (e.g., "\"exited with code 1\"")
  - /regex/: regular expression matching (e.g., "/time.*out/")

Filtering:
  - target: only runs of one target
  - outcome: succeeded, failed or interrupted`,
	}, historyHandler.Handle)

	return mcpServer
}

// NewHTTPHandler serves mcpServer over the streamable HTTP transport.
func NewHTTPHandler(mcpServer *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)
}

// Serve serves handler on ln until ctx is cancelled, then shuts down.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control server listening", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving control server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		// Long-lived client streams do not go idle on their own
		logger.Warn("control server shutdown timed out, closing connections", "error", err)
		httpServer.Close()
	}
	logger.Info("control server stopped")
	return nil
}
