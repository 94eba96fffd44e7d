package server

import (
	"net/http"

	"github.com/Tyrowin/bookingdesk/internal/auth"
)

// handleHealth reports liveness and the number of open sessions.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"active_connections": s.registry.ActiveConnections(),
	})
}

// acceptSession upgrades r, runs the auth gate and registers the session.
// On success the write pump is running and the caller owns the read loop and
// must call endSession when it returns.
func (s *Server) acceptSession(w http.ResponseWriter, r *http.Request) (*Client, string, bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("websocket upgrade failed", "error", err, "path", r.URL.Path)
		return nil, "", false
	}

	addr := clientIP(r)
	client := NewClient(conn, addr, s.cfg.Server.MaxMessageSize, s.logger)
	client.processingWait = s.processingWait
	if !s.gate.Authenticate(client, auth.TokenFromRequest(r), addr) {
		return nil, "", false
	}

	id := s.registry.Connect(client, r.URL.Query().Get("session_id"))

	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		client.writePump()
	}()

	s.logger.Info("websocket session opened", "session_id", id, "path", r.URL.Path, "remote_addr", addr)
	return client, id, true
}

// endSession removes client from the registry unless a newer connection has
// taken over its session id, then closes it.
func (s *Server) endSession(id string, client *Client) {
	s.registry.Release(id, client)
	_ = client.Close()
	s.logger.Info("websocket session closed", "session_id", id)
}
