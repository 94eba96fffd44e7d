// Package auth gates WebSocket sessions behind an optional shared secret.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// Application close codes sent to clients that fail the handshake check.
const (
	CloseAuthRequired = 4001
	CloseAuthFailed   = 4002
)

// Close reasons paired with the close codes above.
const (
	ReasonAuthRequired = "Authentication token required"
	ReasonAuthFailed   = "Invalid authentication token"
)

// Closer terminates a connection with a WebSocket close code and reason.
type Closer interface {
	CloseWithCode(code int, reason string) error
}

// IsEnabled reports whether authentication is required, which is the case
// whenever a non-empty token is configured.
func IsEnabled(expected string) bool {
	return expected != ""
}

// VerifyToken reports whether provided matches expected. A nil provided token
// never matches. The comparison runs in constant time over SHA-256 digests so
// neither content nor length is observable through timing.
func VerifyToken(provided *string, expected string) bool {
	if provided == nil {
		return false
	}
	got := sha256.Sum256([]byte(*provided))
	want := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

// TokenFromRequest extracts the client's token from the "token" query
// parameter, falling back to an "Authorization: Bearer" header. It returns
// nil when neither is present.
func TokenFromRequest(r *http.Request) *string {
	if values, ok := r.URL.Query()["token"]; ok && len(values) > 0 {
		token := values[0]
		return &token
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil
	}
	token = strings.TrimSpace(token)
	return &token
}

// Gate decides whether a connecting client may open a session.
type Gate struct {
	expected string
	logger   *slog.Logger
}

// NewGate returns a Gate that requires expected. An empty expected token
// disables authentication.
func NewGate(expected string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{expected: expected, logger: logger}
}

// Enabled reports whether the gate checks tokens.
func (g *Gate) Enabled() bool {
	return IsEnabled(g.expected)
}

// Authenticate admits the connection or closes it. With authentication
// disabled every connection is admitted. A missing token closes with
// CloseAuthRequired and a wrong token with CloseAuthFailed. Callers must not
// register or write to a connection that was rejected.
func (g *Gate) Authenticate(conn Closer, provided *string, remoteAddr string) bool {
	if !g.Enabled() {
		return true
	}

	if provided == nil {
		g.reject(conn, CloseAuthRequired, ReasonAuthRequired, remoteAddr)
		return false
	}

	if !VerifyToken(provided, g.expected) {
		g.reject(conn, CloseAuthFailed, ReasonAuthFailed, remoteAddr)
		return false
	}

	return true
}

func (g *Gate) reject(conn Closer, code int, reason, remoteAddr string) {
	g.logger.Warn("websocket authentication rejected", "remote_addr", remoteAddr, "code", code, "reason", reason)
	if err := conn.CloseWithCode(code, reason); err != nil {
		g.logger.Debug("error closing rejected websocket", "remote_addr", remoteAddr, "error", err)
	}
}
