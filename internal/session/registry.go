// Package session tracks live WebSocket connections by session id and keeps
// each session's conversation history across reconnects.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrEncode is wrapped by Conn implementations when a message cannot be
// serialized. It marks a bad payload rather than a dead connection, so the
// registry never drops a session because of it.
var ErrEncode = errors.New("session: message cannot be encoded")

// Conn is the registry's view of a live connection. Send delivers one JSON
// serializable message and Close tears the connection down; both must be safe
// to call from any goroutine. Implementations must be comparable, which in
// practice means pointer types.
type Conn interface {
	Send(msg any) error
	Close() error
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxHistory caps every session's history at limit messages. Zero keeps
// history unbounded.
func WithMaxHistory(limit int) Option {
	return func(r *Registry) {
		r.history = NewHistoryStore(limit)
	}
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// Registry maps session ids to live connections and owns the conversation
// history for every session it has seen.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]Conn
	history *HistoryStore
	logger  *slog.Logger
	newID   func() string
	pruned  atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		conns:   make(map[string]Conn),
		history: NewHistoryStore(0),
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers conn under requestedID, or under a freshly generated id
// when requestedID is empty, and returns the id used. If the id is already
// registered the new connection replaces the old one; the displaced
// connection is left open. History recorded under the id is kept.
func (r *Registry) Connect(conn Conn, requestedID string) string {
	id := requestedID
	if id == "" {
		id = r.newID()
	}

	r.mu.Lock()
	prev, replaced := r.conns[id]
	r.conns[id] = conn
	total := len(r.conns)
	r.mu.Unlock()

	if replaced && prev != conn {
		r.logger.Warn("session connection replaced", "session_id", id)
	}
	r.logger.Info("session connected", "session_id", id, "active", total, "history", r.history.Len(id))
	return id
}

// Disconnect removes the connection registered under id. It does not close
// the connection and does not touch history. Unknown ids are ignored.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Info("session disconnected", "session_id", id, "active", total)
	}
}

// Release removes the registration for id only if it still points at conn,
// and reports whether it did. Connection loops call Release on exit so a
// connection that was replaced never unregisters its successor.
func (r *Registry) Release(id string, conn Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[id]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("session released", "session_id", id, "active", total)
	return true
}

// DisconnectAll closes every registered connection and empties the registry.
// Closes run concurrently so a failing or hanging close cannot hold up the
// others. It returns ctx.Err() if ctx ends before every close has returned.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	r.logger.Info("closing all sessions", "count", len(conns))

	var wg sync.WaitGroup
	for id, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Close(); err != nil {
				r.logger.Warn("error closing session", "session_id", id, "error", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("all sessions closed", "count", len(conns))
		return nil
	case <-ctx.Done():
		r.logger.Warn("timed out waiting for sessions to close", "error", ctx.Err())
		return ctx.Err()
	}
}

// SendMessage delivers msg to the session's connection. It reports false if
// the session is not connected or the send fails; the transport error is
// logged, never returned. A connection that fails delivery is unregistered
// and closed unless a newer connection has taken over the session.
func (r *Registry) SendMessage(id string, msg any) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	if err := conn.Send(msg); err != nil {
		if errors.Is(err, ErrEncode) {
			r.logger.Error("message not sent", "session_id", id, "error", err)
			return false
		}
		r.logger.Debug("send failed", "session_id", id, "error", err)
		r.prune([]target{{id: id, conn: conn}})
		return false
	}
	return true
}

type target struct {
	id   string
	conn Conn
}

// Broadcast delivers msg to every connected session and returns the number of
// successful deliveries. Connections that fail are unregistered and closed
// afterwards, unless their session has been taken over by a newer
// connection in the meantime. A message that cannot be encoded is dropped
// without touching any connection.
func (r *Registry) Broadcast(msg any) int {
	targets := r.snapshot()

	var failed []target
	delivered := 0
	for _, t := range targets {
		err := t.conn.Send(msg)
		if errors.Is(err, ErrEncode) {
			r.logger.Error("broadcast not sent", "error", err)
			break
		}
		if err != nil {
			r.logger.Debug("broadcast delivery failed", "session_id", t.id, "error", err)
			failed = append(failed, t)
			continue
		}
		delivered++
	}

	r.prune(failed)
	return delivered
}

func (r *Registry) snapshot() []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]target, 0, len(r.conns))
	for id, conn := range r.conns {
		targets = append(targets, target{id: id, conn: conn})
	}
	return targets
}

// prune removes failed connections that are still the registered connection
// for their session and closes them after releasing the lock.
func (r *Registry) prune(failed []target) {
	if len(failed) == 0 {
		return
	}

	r.mu.Lock()
	var removed []target
	for _, t := range failed {
		if current, ok := r.conns[t.id]; ok && current == t.conn {
			delete(r.conns, t.id)
			removed = append(removed, t)
		}
	}
	r.mu.Unlock()

	for _, t := range removed {
		r.pruned.Add(1)
		r.logger.Info("session removed after failed delivery", "session_id", t.id)
		if err := t.conn.Close(); err != nil {
			r.logger.Debug("error closing pruned session", "session_id", t.id, "error", err)
		}
	}
}

// AddToHistory appends msg to the session's history.
func (r *Registry) AddToHistory(id string, msg Message) {
	r.history.Append(id, msg)
}

// History returns a copy of the session's history.
func (r *Registry) History(id string) []Message {
	return r.history.Get(id)
}

// ClearHistory drops the session's history.
func (r *Registry) ClearHistory(id string) {
	r.history.Clear(id)
}

// ActiveConnections returns the number of registered connections.
func (r *Registry) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IsConnected reports whether a connection is registered under id.
func (r *Registry) IsConnected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Pruned returns how many connections have been removed after a failed
// delivery since startup.
func (r *Registry) Pruned() uint64 {
	return r.pruned.Load()
}
