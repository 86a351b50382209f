package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/lexandro/taskwatch/engine"
	"github.com/lexandro/taskwatch/history"
	"github.com/lexandro/taskwatch/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	triggered chan string
}

func (f *fakeEngine) Status() engine.Status {
	return engine.Status{
		Running: true,
		Targets: []engine.TargetStatus{{Name: "scripts", Cwd: "/project", Patterns: []string{"*.js"}, State: "idle"}},
	}
}

func (f *fakeEngine) Trigger(ctx context.Context, name string) error {
	f.triggered <- name
	return nil
}

func newTestServer(t *testing.T) (*mcp.Server, *fakeEngine) {
	t.Helper()
	ledger, err := history.NewLedger(0)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	fake := &fakeEngine{triggered: make(chan string, 1)}
	logger := testLogger()
	mcpServer := Setup(
		&tools.StatusHandler{Engine: fake, StartTime: time.Now(), ConfigPath: "/project/taskwatch.yaml", Logger: logger},
		&tools.TriggerHandler{Engine: fake, Logger: logger},
		&tools.HistoryHandler{Ledger: ledger, Logger: logger},
	)
	return mcpServer, fake
}

func connectClient(t *testing.T, transport mcp.Transport) *mcp.ClientSession {
	t.Helper()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), transport, nil)
	if err != nil {
		t.Fatalf("failed to connect client: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("calling %s failed: %v", name, err)
	}
	if result.IsError {
		t.Fatalf("%s returned an error result", name)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return text.Text
}

func Test_Setup_RegistersTools(t *testing.T) {
	mcpServer, _ := newTestServer(t)
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := mcpServer.Connect(context.Background(), serverTransport, nil)
	if err != nil {
		t.Fatalf("failed to connect server: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	session := connectClient(t, clientTransport)
	list, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}

	names := make(map[string]bool)
	for _, tool := range list.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"taskwatch_status", "taskwatch_trigger", "taskwatch_history"} {
		if !names[want] {
			t.Errorf("expected tool %s to be registered", want)
		}
	}
}

func Test_Setup_CallTools(t *testing.T) {
	mcpServer, fake := newTestServer(t)
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := mcpServer.Connect(context.Background(), serverTransport, nil)
	if err != nil {
		t.Fatalf("failed to connect server: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })
	session := connectClient(t, clientTransport)

	if text := callText(t, session, "taskwatch_status", map[string]any{}); !strings.Contains(text, "── scripts ──") {
		t.Errorf("unexpected status text:\n%s", text)
	}

	callText(t, session, "taskwatch_trigger", map[string]any{"target": "scripts"})
	select {
	case name := <-fake.triggered:
		if name != "scripts" {
			t.Errorf("expected scripts, got %s", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("trigger never reached the engine")
	}

	if text := callText(t, session, "taskwatch_history", map[string]any{}); text != "No runs found." {
		t.Errorf("unexpected history text: %s", text)
	}
}

func Test_Serve_StreamableHTTP(t *testing.T) {
	mcpServer, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- Serve(ctx, ln, NewHTTPHandler(mcpServer), testLogger())
	}()

	session := connectClient(t, &mcp.StreamableClientTransport{
		Endpoint:   "http://" + ln.Addr().String(),
		HTTPClient: http.DefaultClient,
	})
	if text := callText(t, session, "taskwatch_status", map[string]any{}); !strings.Contains(text, "Watch loop: running") {
		t.Errorf("unexpected status text:\n%s", text)
	}
	session.Close()

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("unexpected serve error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("control server did not stop")
	}
}
