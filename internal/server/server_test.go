package server

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/bookingdesk/internal/calendar"
	"github.com/Tyrowin/bookingdesk/internal/config"
	"github.com/Tyrowin/bookingdesk/internal/ratelimit"
	"github.com/Tyrowin/bookingdesk/internal/session"
)

func TestNewRequiresDependencies(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	require.NoError(t, err)
	full := Deps{
		Config:      config.Default(),
		Limiter:     limiter,
		Registry:    session.NewRegistry(),
		Calendar:    calendar.NewMemory(),
		Replier:     &fakeReplier{},
		Transcriber: &fakeSpeech{},
		Synthesizer: &fakeSpeech{},
	}

	tests := map[string]func(*Deps){
		"config":      func(d *Deps) { d.Config = nil },
		"limiter":     func(d *Deps) { d.Limiter = nil },
		"registry":    func(d *Deps) { d.Registry = nil },
		"calendar":    func(d *Deps) { d.Calendar = nil },
		"replier":     func(d *Deps) { d.Replier = nil },
		"transcriber": func(d *Deps) { d.Transcriber = nil },
		"synthesizer": func(d *Deps) { d.Synthesizer = nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			d := full
			mutate(&d)
			srv, err := New(d)
			assert.Error(t, err)
			assert.Nil(t, srv)
		})
	}

	srv, err := New(full)
	require.NoError(t, err)
	assert.NotNil(t, srv.Handler())
	assert.NotNil(t, srv.Notifier())
}

func TestCreateServer(t *testing.T) {
	srv := CreateServer(":8080", okHandler)

	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, 15*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
	assert.Zero(t, srv.WriteTimeout)
}

// TestGracefulShutdown verifies that sessions get a going-away close frame
// and the registry is emptied.
func TestGracefulShutdown(t *testing.T) {
	h := newHarness(t, nil)
	chat, _ := h.connect(t, "/ws/chat", nil)
	voice, _ := h.connect(t, "/ws/voice", nil)
	require.Equal(t, 2, h.registry.ActiveConnections())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))

	for _, conn := range []*websocket.Conn{chat, voice} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := conn.ReadMessage()
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	}
	assert.Equal(t, 0, h.registry.ActiveConnections())
}

func TestShutdownWithoutClients(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, h.srv.Shutdown(ctx))
	assert.NoError(t, h.srv.Shutdown(ctx))
}
