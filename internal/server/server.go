// Package server provides the local HTTP and WebSocket control surface. It
// carries commands and state snapshots only, never audio.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/signal-monitor/internal/app"
	"github.com/rs/zerolog"
)

// StateInterval is the push cadence for state messages (10 fps).
const StateInterval = 100 * time.Millisecond

// StateMessage is pushed to every WebSocket client.
type StateMessage struct {
	Type string `json:"type"`
	app.Snapshot
}

type Server struct {
	ctrl     Controller
	commands *CommandHandler
	upgrader *websocket.Upgrader
	log      zerolog.Logger
}

func New(ctrl Controller, log zerolog.Logger) *Server {
	log = log.With().Str("component", "server").Logger()
	return &Server{
		ctrl:     ctrl,
		commands: NewCommandHandler(ctrl, log),
		upgrader: newUpgrader(log),
		log:      log,
	}
}

// Routes returns an [http.Handler] configured with all routes.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start begins serving on addr. The returned server is used for shutdown.
func (s *Server) Start(addr string) *http.Server {
	s.log.Info().Str("addr", addr).Msg("Starting control server")

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Control server error")
		}
	}()

	return srv
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.ctrl.Snapshot()); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode state")
	}
}

// handleWebSocket handles bidirectional WebSocket communication.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// Only the writer goroutine writes to the connection
	send := make(chan any, 16)
	done := make(chan struct{})
	stateUpdate := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(ctx, conn, send, done, stateUpdate)

	s.runWebSocketEventLoop(send, done, stateUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket close error")
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(ctx context.Context, conn WebSocketConn, send chan<- any, done, stateUpdate chan<- struct{}) {
	defer close(done)

	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(ctx, cmd, send, func() {
			select {
			case stateUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes state on a fixed cadence and after commands.
func (s *Server) runWebSocketEventLoop(send chan any, done, stateUpdate <-chan struct{}) {
	ticker := time.NewTicker(StateInterval)
	defer ticker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.stateMessage()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-stateUpdate:
			if !trySend(s.stateMessage()) {
				close(send)
				return
			}
		case <-ticker.C:
			if !trySend(s.stateMessage()) {
				close(send)
				return
			}
		}
	}
}

func (s *Server) stateMessage() StateMessage {
	return StateMessage{Type: "state", Snapshot: s.ctrl.Snapshot()}
}
