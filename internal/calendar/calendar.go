// Package calendar stores appointments and computes free time slots.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an appointment id is unknown.
	ErrNotFound = errors.New("appointment not found")
	// ErrInvalid is returned for malformed appointments or time ranges.
	ErrInvalid = errors.New("invalid appointment")
	// ErrUnauthorized is returned by backends whose credentials were rejected.
	ErrUnauthorized = errors.New("calendar authorization failed")
	// ErrBackend wraps failures of a remote calendar service.
	ErrBackend = errors.New("calendar backend error")
)

// Status of an appointment.
type Status string

// Appointment statuses.
const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Appointment is a booked calendar event.
type Appointment struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Status      Status    `json:"status"`
}

// NewAppointment is the input for Create.
type NewAppointment struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
}

// Validate checks that the appointment has a title and a positive duration.
func (n NewAppointment) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if n.Start.IsZero() || n.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalid)
	}
	if !n.End.After(n.Start) {
		return fmt.Errorf("%w: end must be after start", ErrInvalid)
	}
	return nil
}

// Slot is a free interval.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Calendar is the appointment backend used by the HTTP API.
type Calendar interface {
	List(ctx context.Context, start, end time.Time, limit int) ([]Appointment, error)
	Create(ctx context.Context, in NewAppointment) (Appointment, error)
	Get(ctx context.Context, id string) (Appointment, error)
	Cancel(ctx context.Context, id string) error
	Availability(ctx context.Context, start, end time.Time, slot time.Duration) ([]Slot, error)
}

// Memory is an in-process Calendar. Cancelled appointments are removed.
type Memory struct {
	mu           sync.RWMutex
	appointments map[string]Appointment
	newID        func() string
}

// NewMemory returns an empty in-memory calendar.
func NewMemory() *Memory {
	return &Memory{
		appointments: make(map[string]Appointment),
		newID:        uuid.NewString,
	}
}

// List returns confirmed appointments overlapping [start, end), ordered by
// start time, at most limit of them when limit is positive.
func (m *Memory) List(_ context.Context, start, end time.Time, limit int) ([]Appointment, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalid)
	}

	m.mu.RLock()
	out := make([]Appointment, 0, len(m.appointments))
	for _, a := range m.appointments {
		if a.Start.Before(end) && a.End.After(start) {
			out = append(out, clone(a))
		}
	}
	m.mu.RUnlock()

	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Create validates in and stores it as a confirmed appointment.
func (m *Memory) Create(_ context.Context, in NewAppointment) (Appointment, error) {
	if err := in.Validate(); err != nil {
		return Appointment{}, err
	}

	a := Appointment{
		ID:          m.newID(),
		Title:       strings.TrimSpace(in.Title),
		Start:       in.Start,
		End:         in.End,
		Attendees:   append([]string{}, in.Attendees...),
		Description: in.Description,
		Location:    in.Location,
		Status:      StatusConfirmed,
	}

	m.mu.Lock()
	m.appointments[a.ID] = a
	m.mu.Unlock()
	return clone(a), nil
}

// Get returns the appointment with the given id.
func (m *Memory) Get(_ context.Context, id string) (Appointment, error) {
	m.mu.RLock()
	a, ok := m.appointments[id]
	m.mu.RUnlock()
	if !ok {
		return Appointment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(a), nil
}

// Cancel removes the appointment with the given id.
func (m *Memory) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.appointments, id)
	return nil
}

// Availability returns the gaps of at least slot length between the
// appointments in [start, end).
func (m *Memory) Availability(ctx context.Context, start, end time.Time, slot time.Duration) ([]Slot, error) {
	if slot <= 0 {
		return nil, fmt.Errorf("%w: slot duration must be positive", ErrInvalid)
	}
	busy, err := m.List(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}

	periods := make([]Slot, len(busy))
	for i, a := range busy {
		periods[i] = Slot{Start: a.Start, End: a.End}
	}
	return FreeSlots(start, end, periods, slot), nil
}

// FreeSlots scans busy periods in start order and returns every gap between
// start and end that is at least minDuration long. Busy periods may overlap.
func FreeSlots(start, end time.Time, busy []Slot, minDuration time.Duration) []Slot {
	sorted := append([]Slot(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var free []Slot
	current := start
	for _, b := range sorted {
		gapEnd := minTime(b.Start, end)
		if current.Before(gapEnd) && gapEnd.Sub(current) >= minDuration {
			free = append(free, Slot{Start: current, End: gapEnd})
		}
		if b.End.After(current) {
			current = b.End
		}
		if !current.Before(end) {
			return free
		}
	}
	if current.Before(end) && end.Sub(current) >= minDuration {
		free = append(free, Slot{Start: current, End: end})
	}
	return free
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func sortByStart(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Start.Equal(list[j].Start) {
			return list[i].ID < list[j].ID
		}
		return list[i].Start.Before(list[j].Start)
	})
}

func clone(a Appointment) Appointment {
	a.Attendees = append([]string{}, a.Attendees...)
	return a
}
