package server

import (
	"context"
	"net/http"
	"time"
)

// CreateServer creates an HTTP server for addr. There is no WriteTimeout:
// REST calls are short and socket writes carry their own deadlines.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ShutdownServer gracefully shuts down server. Hijacked WebSocket connections
// are not tracked by net/http and must be closed separately.
func ShutdownServer(ctx context.Context, server *http.Server) error {
	return server.Shutdown(ctx)
}
