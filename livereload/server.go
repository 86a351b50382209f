package livereload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// DefaultAddr is the address LiveReload browser extensions connect to.
const DefaultAddr = "127.0.0.1:35729"

// ProtocolV7 is the LiveReload protocol spoken by the server.
const ProtocolV7 = "http://livereload.com/protocols/official-7"

const writeTimeout = 5 * time.Second

// Message is a LiveReload protocol message. Only the fields of the
// commands the server handles are present.
type Message struct {
	Command    string   `json:"command"`
	Protocols  []string `json:"protocols,omitempty"`
	ServerName string   `json:"serverName,omitempty"`
	Path       string   `json:"path,omitempty"`
	LiveCSS    bool     `json:"liveCSS,omitempty"`
	LiveImg    bool     `json:"liveImg,omitempty"`
}

// Server pushes reload commands to connected browsers.
type Server struct {
	addr     string
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool

	broadcast chan []string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewServer creates a server for addr. Nothing listens until Start.
func NewServer(addr string, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []string, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livereload", s.handleWebSocket)
	mux.HandleFunc("/changed", s.handleChanged)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("livereload server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("livereload server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the server listens on, or the configured one
// before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var err error
	if s.server != nil {
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down livereload server: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	return err
}

// Notify queues a reload of the given paths for every client. It never
// blocks; when the queue is full the notice is dropped.
func (s *Server) Notify(files []string) {
	if len(files) == 0 {
		// A run without changed files reloads the whole page
		files = []string{"/"}
	}
	select {
	case s.broadcast <- append([]string(nil), files...):
	case <-s.ctx.Done():
	default:
		s.logger.Warn("livereload queue full, dropping notice", "files", len(files))
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case files := <-s.broadcast:
			s.sendReload(files)
		}
	}
}

func (s *Server) sendReload(files []string) {
	s.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
	}
	s.clientsMu.RUnlock()

	for _, file := range files {
		msg := Message{Command: "reload", Path: file, LiveCSS: true, LiveImg: true}
		for _, conn := range clients {
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := wsjson.Write(ctx, conn, msg)
			cancel()
			if err != nil {
				s.logger.Debug("livereload write failed", "error", err)
				s.removeClient(conn)
			}
		}
	}
	s.logger.Debug("livereload notified", "files", len(files), "clients", len(clients))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Pages on any origin embed the livereload client
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("livereload upgrade failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("livereload client connected", "clients", clientCount)

	s.wg.Add(1)
	go s.readLoop(conn)
}

// readLoop answers the hello handshake and notices disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	defer s.removeClient(conn)

	for {
		var msg Message
		if err := wsjson.Read(s.ctx, conn, &msg); err != nil {
			return
		}
		if msg.Command != "hello" {
			continue
		}
		reply := Message{
			Command:    "hello",
			Protocols:  []string{ProtocolV7},
			ServerName: "taskwatch",
		}
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := wsjson.Write(ctx, conn, reply)
		cancel()
		if err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("livereload client disconnected", "clients", clientCount)
}

// handleChanged lets other tools request a reload:
// GET or POST /changed?files=a.css,b.js
func (s *Server) handleChanged(w http.ResponseWriter, r *http.Request) {
	var files []string
	for _, value := range r.URL.Query()["files"] {
		for _, file := range strings.Split(value, ",") {
			if file = strings.TrimSpace(file); file != "" {
				files = append(files, file)
			}
		}
	}
	s.Notify(files)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"clients": s.ClientCount(),
		"files":   files,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
