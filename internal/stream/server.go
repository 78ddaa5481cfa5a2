// Package stream exposes the consumer-facing surface of the engine: poll
// endpoints for the current emotion state and engine status, a mode-switch
// endpoint, and a websocket that pushes typed JSON updates to subscribed
// clients.
//
// The surface is read-mostly and stateless; all state lives in the fusion
// store and the app's status bookkeeping. A slow websocket client only ever
// misses intermediate states — it never blocks the store.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/affectd/affectd/internal/config"
	"github.com/affectd/affectd/internal/fusion"
	"github.com/affectd/affectd/internal/mode"
	"github.com/affectd/affectd/internal/observe"
)

// defaultStatusInterval is how often status frames are pushed to websocket
// clients between state updates.
const defaultStatusInterval = 2 * time.Second

// Server serves the /v1 consumer API. Create with [NewServer] and mount via
// [Server.Register].
type Server struct {
	store   *fusion.Store
	status  StatusSource
	modes   *mode.Controller
	metrics *observe.Metrics

	statusInterval time.Duration
}

// Option configures a [Server] during construction.
type Option func(*Server)

// WithMetrics wires the server's instrumentation. When nil (the default),
// nothing is recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStatusInterval overrides the websocket status push cadence. Tests use
// a short interval.
func WithStatusInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.statusInterval = d
		}
	}
}

// NewServer creates a Server over the given state store, status source, and
// mode controller.
func NewServer(store *fusion.Store, status StatusSource, modes *mode.Controller, opts ...Option) *Server {
	s := &Server{
		store:          store,
		status:         status,
		modes:          modes,
		statusInterval: defaultStatusInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the /v1 routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/mode", s.handleModeGet)
	mux.HandleFunc("PUT /v1/mode", s.handleModePut)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
}

// handleState serves the smoothed display state. It always succeeds; before
// the first update it returns the neutral fallback.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Smoothed())
}

// handleStatus serves the engine status snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleModeGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]config.Mode{"mode": s.modes.Current()})
}

// handleModePut switches the data-sourcing mode. Body: {"mode": "live"} or
// {"mode": "synthetic"}.
func (s *Server) handleModePut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode config.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if err := s.modes.Switch(req.Mode); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]config.Mode{"mode": s.modes.Current()})
}

// handleStream upgrades to a websocket and pushes state.update and
// status.update frames until the client disconnects. The subscription
// channel is latest-wins, so a slow client skips intermediate states rather
// than backing up the store.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("stream: websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Push-only connection: CloseRead keeps control frames flowing and
	// cancels the context when the client goes away.
	ctx := conn.CloseRead(r.Context())

	if s.metrics != nil {
		s.metrics.StreamClientConnected(ctx, 1)
		defer s.metrics.StreamClientConnected(ctx, -1)
	}

	sub, cancel := s.store.Subscribe()
	defer cancel()

	// Initial snapshot so the client renders immediately.
	if err := s.push(ctx, conn, MessageState, s.store.Smoothed()); err != nil {
		return
	}
	if err := s.push(ctx, conn, MessageStatus, s.status.Status()); err != nil {
		return
	}

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case sm, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream shutting down")
				return
			}
			if err := s.push(ctx, conn, MessageState, sm); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.push(ctx, conn, MessageStatus, s.status.Status()); err != nil {
				return
			}
		}
	}
}

// push marshals one typed frame and writes it to the connection.
func (s *Server) push(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
