package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Tyrowin/bookingdesk/internal/calendar"
)

const (
	defaultListWindow         = 30 * 24 * time.Hour
	defaultAvailabilityWindow = 7 * 24 * time.Hour
	defaultMaxResults         = 100
	defaultSlotMinutes        = 30
	maxRequestBody            = 1 << 20
)

type availabilityResponse struct {
	AvailableSlots []calendar.Slot `json:"available_slots"`
	TotalSlots     int             `json:"total_slots"`
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := timeRange(q, s.now(), defaultListWindow)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	maxResults, err := positiveInt(q, "max_results", defaultMaxResults)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	list, err := s.calendar.List(r.Context(), start, end, maxResults)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if list == nil {
		list = []calendar.Appointment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var in calendar.NewAppointment
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if in.Attendees == nil {
		in.Attendees = []string{}
	}

	created, err := s.calendar.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	s.logger.Info("appointment created", "id", created.ID, "request_id", RequestIDFrom(r.Context()))
	s.notifier.AppointmentCreated(created)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	appt, err := s.calendar.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, s.logger, notFound(err, id))
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *Server) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.calendar.Cancel(r.Context(), id); err != nil {
		writeError(w, r, s.logger, notFound(err, id))
		return
	}

	s.logger.Info("appointment cancelled", "id", id, "request_id", RequestIDFrom(r.Context()))
	s.notifier.AppointmentCancelled(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := timeRange(q, s.now(), defaultAvailabilityWindow)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	minutes, err := positiveInt(q, "slot_duration_minutes", defaultSlotMinutes)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	slots, err := s.calendar.Availability(r.Context(), start, end, time.Duration(minutes)*time.Minute)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if slots == nil {
		slots = []calendar.Slot{}
	}
	writeJSON(w, http.StatusOK, availabilityResponse{AvailableSlots: slots, TotalSlots: len(slots)})
}

// notFound attaches the resource details to a not-found error.
func notFound(err error, id string) error {
	if !errors.Is(err, calendar.ErrNotFound) {
		return err
	}
	return &APIError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("Appointment not found: %s", id),
		Details: map[string]any{"resource_type": "Appointment", "resource_id": id},
	}
}

// timeRange reads the RFC 3339 start and end parameters. start defaults to
// now and end to start plus window.
func timeRange(q url.Values, now time.Time, window time.Duration) (time.Time, time.Time, error) {
	start := now
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fieldError("start", "must be an RFC 3339 timestamp")
		}
		start = t
	}

	end := start.Add(window)
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fieldError("end", "must be an RFC 3339 timestamp")
		}
		end = t
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fieldError("end", "must be after start")
	}
	return start, end, nil
}

func positiveInt(q url.Values, name string, fallback int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fieldError(name, "must be a positive integer")
	}
	return n, nil
}

func fieldError(field, problem string) *APIError {
	e := validationError(field + " " + problem)
	e.Details = map[string]any{"field": field}
	return e
}

// decodeBody reads a single JSON object into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return validationError("invalid request body: " + err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return validationError("request body must contain a single JSON object")
	}
	return nil
}
