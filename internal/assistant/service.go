// Package assistant runs conversation turns against the scheduling model and
// records them in the session history.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/bookingdesk/internal/session"
)

// ErrEmptyMessage is returned for blank user input.
var ErrEmptyMessage = errors.New("assistant: empty message")

// Replier produces the assistant's answer to text given the prior turns.
type Replier interface {
	Reply(ctx context.Context, history []session.Message, text string) (string, error)
}

// HistoryStore is the slice of the session registry the service needs.
type HistoryStore interface {
	History(sessionID string) []session.Message
	AddToHistory(sessionID string, msg session.Message)
	ClearHistory(sessionID string)
}

// Notifier broadcasts calendar events to connected clients.
type Notifier interface {
	Broadcast(event string, data any) int
}

// EventAppointmentsChanged is broadcast when a reply indicates that the
// calendar was modified.
const EventAppointmentsChanged = "appointments_changed"

// Service runs one conversation turn at a time per call: it reads the
// session's history, asks the Replier, stores both turns and announces
// calendar changes.
type Service struct {
	replier  Replier
	history  HistoryStore
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires a Service. notifier may be nil.
func NewService(replier Replier, history HistoryStore, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		replier:  replier,
		history:  history,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Process answers text for sessionID and reports whether the answer indicates
// that appointments were created or cancelled. History is only updated when
// the model answers successfully.
func (s *Service) Process(ctx context.Context, sessionID, text string) (string, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false, ErrEmptyMessage
	}

	prior := s.history.History(sessionID)
	started := s.now()
	reply, err := s.replier.Reply(ctx, prior, text)
	if err != nil {
		s.logger.Error("assistant reply failed", "session_id", sessionID, "error", err)
		return "", false, fmt.Errorf("assistant reply: %w", err)
	}

	s.history.AddToHistory(sessionID, session.Message{Role: session.RoleUser, Content: text, Timestamp: started})
	s.history.AddToHistory(sessionID, session.Message{Role: session.RoleAssistant, Content: reply, Timestamp: s.now()})

	changed := DetectAppointmentChange(reply)
	s.logger.Info("assistant replied",
		"session_id", sessionID,
		"duration_ms", s.now().Sub(started).Milliseconds(),
		"appointments_changed", changed,
	)

	if changed && s.notifier != nil {
		s.notifier.Broadcast(EventAppointmentsChanged, map[string]any{
			"session_id": sessionID,
			"message":    "Calendar updated",
		})
	}
	return reply, changed, nil
}

// Clear drops the session's conversation.
func (s *Service) Clear(sessionID string) {
	s.history.ClearHistory(sessionID)
}

// ClientHistory returns the session's non-empty turns for display.
func (s *Service) ClientHistory(sessionID string) []session.Message {
	msgs := s.history.History(sessionID)
	out := msgs[:0]
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) != "" {
			out = append(out, m)
		}
	}
	return out
}

var changeIndicators = []string{
	"booked successfully",
	"has been canceled",
	"has been cancelled",
	"appointment created",
	"appointment cancelled",
	"scheduled for",
	"i've booked",
	"i've scheduled",
	"i've canceled",
	"i've cancelled",
}

// DetectAppointmentChange reports whether reply reads like a confirmation
// that the calendar was modified.
func DetectAppointmentChange(reply string) bool {
	lower := strings.ToLower(strings.ReplaceAll(reply, "’", "'"))
	for _, indicator := range changeIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
