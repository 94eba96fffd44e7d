package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/bookingdesk/internal/assistant"
	"github.com/Tyrowin/bookingdesk/internal/auth"
	"github.com/Tyrowin/bookingdesk/internal/calendar"
	"github.com/Tyrowin/bookingdesk/internal/config"
	"github.com/Tyrowin/bookingdesk/internal/ratelimit"
	"github.com/Tyrowin/bookingdesk/internal/session"
	"github.com/Tyrowin/bookingdesk/internal/speech"
)

// Deps are the collaborators a Server is built from. Config, Registry,
// Limiter, Calendar and the three model clients are required.
type Deps struct {
	Config      *config.Config
	Logger      *slog.Logger
	Limiter     *ratelimit.Limiter
	Registry    *session.Registry
	Calendar    calendar.Calendar
	Replier     assistant.Replier
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
}

// Server serves the REST API, the chat and voice sockets and /metrics.
type Server struct {
	cfg         *config.Config
	logger      *slog.Logger
	limiter     *ratelimit.Limiter
	registry    *session.Registry
	calendar    calendar.Calendar
	assistant   *assistant.Service
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	notifier    *Notifier
	gate        *auth.Gate
	origins     *originPolicy
	upgrader    websocket.Upgrader
	metrics     *Metrics
	handler     http.Handler
	httpServer  *http.Server
	now         func() time.Time

	// processingWait covers the longest frame handler: one assistant call
	// and two speech calls on the voice socket.
	processingWait time.Duration

	// baseCtx is cancelled on shutdown so in-flight model calls made on
	// behalf of sockets are abandoned.
	baseCtx context.Context
	cancel  context.CancelFunc
	conns   sync.WaitGroup
}

// New validates deps and assembles a Server.
func New(d Deps) (*Server, error) {
	switch {
	case d.Config == nil:
		return nil, errors.New("server: config is required")
	case d.Limiter == nil:
		return nil, errors.New("server: rate limiter is required")
	case d.Registry == nil:
		return nil, errors.New("server: session registry is required")
	case d.Calendar == nil:
		return nil, errors.New("server: calendar is required")
	case d.Replier == nil || d.Transcriber == nil || d.Synthesizer == nil:
		return nil, errors.New("server: assistant and speech clients are required")
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:         d.Config,
		logger:      logger,
		limiter:     d.Limiter,
		registry:    d.Registry,
		calendar:    d.Calendar,
		transcriber: d.Transcriber,
		synthesizer: d.Synthesizer,
		gate:        auth.NewGate(d.Config.Auth.WebSocketToken, logger),
		origins:     newOriginPolicy(d.Config.Server.AllowedOrigins, logger),
		metrics:     NewMetrics(d.Registry, d.Limiter),
		now:         time.Now,
	}
	s.processingWait = config.ParseDuration(d.Config.Assistant.Timeout, time.Minute) +
		2*config.ParseDuration(d.Config.Speech.Timeout, time.Minute)
	s.notifier = NewNotifier(d.Registry, logger)
	s.assistant = assistant.NewService(d.Replier, d.Registry, s.notifier, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.handler = s.routes()
	s.httpServer = CreateServer(d.Config.Addr(), s.handler)

	if s.gate.Enabled() {
		logger.Info("websocket authentication enabled")
	}
	return s, nil
}

// Handler returns the full middleware chain wrapped around the routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Notifier returns the notifier used for calendar events.
func (s *Server) Notifier() *Notifier {
	return s.notifier
}

// ListenAndServe listens on the configured address until Shutdown is called.
// It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes every WebSocket session and waits
// for connection goroutines until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := ShutdownServer(ctx, s.httpServer); err != nil {
		errs = append(errs, err)
	}

	s.cancel()

	if err := s.registry.DisconnectAll(ctx); err != nil {
		s.logger.Warn("timed out closing websocket sessions", "error", err)
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("all websocket connections closed")
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}

	return errors.Join(errs...)
}
