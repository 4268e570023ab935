package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lox/holdemgrid/internal/gameid"
	"github.com/lox/holdemgrid/internal/httpx"
	"github.com/lox/holdemgrid/internal/registry"
	"github.com/lox/holdemgrid/internal/table"
)

const disconnectTimeout = 5 * time.Second

// Server is the client-facing side of a worker. It accepts player
// WebSockets, relays them to table runners and delivers what the runners
// send back. It implements table.Broadcaster.
type Server struct {
	id       string
	upgrader websocket.Upgrader
	registry *registry.Registry
	clock    quartz.Clock
	logger   *log.Logger

	mu          sync.RWMutex
	connections map[*Connection]struct{}
	players     map[string]*Connection
}

// Option configures a Server.
type Option func(*Server)

func WithClock(clock quartz.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// NewServer creates a server for the worker identified by serverID. The
// registry is attached with SetRegistry once both exist.
func NewServer(serverID string, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		id: serverID,
		upgrader: websocket.Upgrader{
			// Bots connect from anywhere.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clock:       quartz.NewReal(),
		logger:      logger.WithPrefix("server"),
		connections: make(map[*Connection]struct{}),
		players:     make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRegistry sets the tables this server fronts.
func (s *Server) SetRegistry(reg *registry.Registry) {
	s.registry = reg
}

// Handler returns the WebSocket endpoint and the admin API.
func (s *Server) Handler() http.Handler {
	r := httpx.NewRouter(s.logger)
	r.Get("/ws", s.handleWebSocket)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/load", s.handleLoad)
		r.Get("/tables", s.handleListTables)
		r.Post("/tables", s.handleCreateTable)
		r.Get("/tables/{id}", s.handleGetTable)
		r.Delete("/tables/{id}", s.handleCloseTable)
		r.Post("/tables/{id}/pause", s.handlePauseTable)
		r.Post("/tables/{id}/resume", s.handleResumeTable)
	})
	return r
}

// Connections returns the number of open WebSockets.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Close drops every connection.
func (s *Server) Close() {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Broadcast implements table.Broadcaster.
func (s *Server) Broadcast(tableID gameid.ID, msg table.Message) {
	m, err := fromTable(msg, s.clock.Now())
	if err != nil {
		s.logger.Error("Failed to encode table message", "type", msg.Type, "error", err)
		return
	}

	players := s.registry.Seated(tableID)
	s.mu.RLock()
	conns := make([]*Connection, 0, len(players))
	for _, id := range players {
		if c, ok := s.players[id]; ok {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.SendMessage(m)
	}
	s.logger.Debug("Broadcasted message to table", "table_id", tableID, "type", msg.Type, "recipients", len(conns))
}

// Send implements table.Broadcaster. Messages for players without a live
// connection are dropped.
func (s *Server) Send(playerID string, msg table.Message) {
	s.mu.RLock()
	c, ok := s.players[playerID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	m, err := fromTable(msg, s.clock.Now())
	if err != nil {
		s.logger.Error("Failed to encode table message", "type", msg.Type, "error", err)
		return
	}
	_ = c.SendMessage(m)
}

// handleWebSocket handles WebSocket upgrade requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	c := newConnection(conn, s)
	s.mu.Lock()
	s.connections[c] = struct{}{}
	total := len(s.connections)
	s.mu.Unlock()

	s.logger.Info("Client connected", "conn_id", c.id, "total", total)
	c.Start()
}

// bindPlayer makes c the connection for its player. A previous connection
// for the same player is closed.
func (s *Server) bindPlayer(c *Connection) {
	playerID := c.Player()
	s.mu.Lock()
	old := s.players[playerID]
	s.players[playerID] = c
	s.mu.Unlock()

	if old != nil && old != c {
		s.logger.Info("Replacing connection", "player_id", playerID, "old_conn_id", old.id, "conn_id", c.id)
		_ = old.Close()
	}
}

func (s *Server) unregister(c *Connection) {
	playerID := c.Player()
	s.mu.Lock()
	delete(s.connections, c)
	current := playerID != "" && s.players[playerID] == c
	if current {
		delete(s.players, playerID)
	}
	total := len(s.connections)
	s.mu.Unlock()

	s.logger.Info("Client disconnected", "conn_id", c.id, "player_id", playerID, "total", total)
	if !current {
		return
	}

	tableID, ok := s.registry.TableOf(playerID)
	if !ok {
		return
	}
	runner, err := s.registry.Runner(tableID)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := runner.Disconnect(ctx, playerID); err != nil {
		s.logger.Warn("Failed to report disconnect", "player_id", playerID, "table_id", tableID, "error", err)
	}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.registry.Load())
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, TableListData{Tables: s.registry.Tables()})
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var cfg table.Config
	if err := httpx.DecodeJSON(r, &cfg); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_config", err)
		return
	}
	info, err := s.registry.CreateTable(cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runner(w, r)
	if !ok {
		return
	}
	st, err := runner.Snapshot(r.Context(), "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) handleCloseTable(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runner(w, r)
	if !ok {
		return
	}
	if err := runner.Close(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseTable(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runner(w, r)
	if !ok {
		return
	}
	if err := runner.Pause(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeTable(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.runner(w, r)
	if !ok {
		return
	}
	if err := runner.Resume(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runner(w http.ResponseWriter, r *http.Request) (*table.Runner, bool) {
	id, err := gameid.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_id", err)
		return nil, false
	}
	runner, err := s.registry.Runner(id)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return runner, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, table.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrTableNotFound):
		status = http.StatusNotFound
	case errors.Is(err, table.ErrTableClosed):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrTableLimit):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("Request failed", "error", err)
	}
	httpx.WriteError(w, status, errorCode(err), err)
}

// errorCode maps worker errors to client error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, registry.ErrTableNotFound):
		return "table_not_found"
	case errors.Is(err, registry.ErrTableLimit):
		return "table_limit"
	case errors.Is(err, registry.ErrGameInProgress):
		return "game_in_progress"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	default:
		return table.ErrorCode(err)
	}
}
