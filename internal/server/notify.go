package server

import (
	"log/slog"

	"github.com/Tyrowin/bookingdesk/internal/calendar"
	"github.com/Tyrowin/bookingdesk/internal/session"
)

// Calendar events pushed to connected clients.
const (
	EventAppointmentCreated   = "appointment_created"
	EventAppointmentCancelled = "appointment_cancelled"
	EventAppointmentUpdated   = "appointment_updated"
)

// Notifier pushes notification frames to sessions in the registry.
type Notifier struct {
	registry *session.Registry
	logger   *slog.Logger
}

// NewNotifier returns a Notifier backed by registry.
func NewNotifier(registry *session.Registry, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{registry: registry, logger: logger}
}

// Broadcast sends event to every connected session and returns how many
// received it.
func (n *Notifier) Broadcast(event string, data any) int {
	delivered := n.registry.Broadcast(notificationFrame{Type: typeNotification, Event: event, Data: data})
	n.logger.Debug("notification broadcast", "event", event, "delivered", delivered)
	return delivered
}

// NotifySession sends event to one session.
func (n *Notifier) NotifySession(sessionID, event string, data any) bool {
	return n.registry.SendMessage(sessionID, notificationFrame{Type: typeNotification, Event: event, Data: data})
}

// AppointmentCreated announces a newly booked appointment.
func (n *Notifier) AppointmentCreated(a calendar.Appointment) int {
	return n.Broadcast(EventAppointmentCreated, a)
}

// AppointmentCancelled announces a cancellation. Only the id is sent.
func (n *Notifier) AppointmentCancelled(id string) int {
	return n.Broadcast(EventAppointmentCancelled, map[string]string{"id": id})
}

// AppointmentUpdated announces a change to an existing appointment.
func (n *Notifier) AppointmentUpdated(a calendar.Appointment) int {
	return n.Broadcast(EventAppointmentUpdated, a)
}
