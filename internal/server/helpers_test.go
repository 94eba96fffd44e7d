package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/bookingdesk/internal/calendar"
	"github.com/Tyrowin/bookingdesk/internal/config"
	"github.com/Tyrowin/bookingdesk/internal/ratelimit"
	"github.com/Tyrowin/bookingdesk/internal/session"
)

const testOrigin = "http://localhost:5173"

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// fakeReplier answers every turn with a canned reply.
type fakeReplier struct {
	mu    sync.Mutex
	reply string
	err   error
	texts []string
}

func (f *fakeReplier) Reply(_ context.Context, _ []session.Message, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.reply, f.err
}

func (f *fakeReplier) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeReplier) set(reply string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply, f.err = reply, err
}

// fakeSpeech transcribes every clip to the same text and synthesizes a fixed
// payload.
type fakeSpeech struct {
	mu        sync.Mutex
	text      string
	audio     []byte
	transErr  error
	synthErr  error
	lastMIME  string
	lastVoice string
}

func (f *fakeSpeech) Transcribe(_ context.Context, _ []byte, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMIME = mimeType
	return f.text, f.transErr
}

func (f *fakeSpeech) Synthesize(_ context.Context, _ string, voice string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastVoice = voice
	if f.synthErr != nil {
		return nil, "", f.synthErr
	}
	return f.audio, "audio/mpeg", nil
}

// recordingConn is a session.Conn that keeps every frame it is sent.
type recordingConn struct {
	mu     sync.Mutex
	frames []any
	closed bool
}

func (c *recordingConn) Send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, msg)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.frames...)
}

type harness struct {
	srv      *Server
	http     *httptest.Server
	registry *session.Registry
	calendar *calendar.Memory
	replier  *fakeReplier
	speech   *fakeSpeech
}

// newHarness starts a Server on an httptest listener. configure may adjust
// the default configuration before the server is built. The limiter clock is
// frozen so buckets never refill during a test.
func newHarness(t *testing.T, configure func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Port = 0
	if configure != nil {
		configure(cfg)
	}

	logger := slog.New(slog.DiscardHandler)
	limiter, err := ratelimit.NewLimiter(cfg.RateLimit.Limits(), ratelimit.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	h := &harness{
		registry: session.NewRegistry(session.WithLogger(logger)),
		calendar: calendar.NewMemory(),
		replier:  &fakeReplier{reply: "Happy to help."},
		speech:   &fakeSpeech{text: "book a haircut", audio: []byte("ID3mp3")},
	}

	h.srv, err = New(Deps{
		Config:      cfg,
		Logger:      logger,
		Limiter:     limiter,
		Registry:    h.registry,
		Calendar:    h.calendar,
		Replier:     h.replier,
		Transcriber: h.speech,
		Synthesizer: h.speech,
	})
	require.NoError(t, err)
	h.srv.now = func() time.Time { return fixedNow }

	h.http = httptest.NewServer(h.srv.Handler())
	t.Cleanup(h.http.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.srv.Shutdown(ctx)
	})
	return h
}

func (h *harness) wsURL(path string, query url.Values) string {
	u := "ws" + strings.TrimPrefix(h.http.URL, "http") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// dialRaw opens a socket with an allowed Origin header.
func (h *harness) dialRaw(path string, query url.Values, header http.Header) (*websocket.Conn, *http.Response, error) {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Origin") == "" {
		header.Set("Origin", testOrigin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(h.wsURL(path, query), header)
}

func (h *harness) dial(t *testing.T, path string, query url.Values) *websocket.Conn {
	t.Helper()
	conn, _, err := h.dialRaw(path, query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials path and consumes the connected frame, returning the session
// id.
func (h *harness) connect(t *testing.T, path string, query url.Values) (*websocket.Conn, string) {
	t.Helper()
	conn := h.dial(t, path, query)
	frame := expectFrame(t, conn, typeConnected)
	id, _ := frame["session_id"].(string)
	require.NotEmpty(t, id)
	return conn, id
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func expectFrame(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, frameType, frame["type"], "unexpected frame: %v", frame)
	return frame
}

func send(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}
