package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/bookingdesk/internal/calendar"
)

// Error codes carried in the REST error envelope.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeCalendarAuth = "CALENDAR_AUTH_ERROR"
	CodeCalendarAPI  = "CALENDAR_API_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

const internalErrorMessage = "An unexpected error occurred. Please try again."

// APIError is the JSON body of every failed REST call.
type APIError struct {
	Code    string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

func validationError(message string) *APIError {
	return &APIError{Code: CodeValidation, Message: message}
}

func statusForCode(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCalendarAuth:
		return http.StatusUnauthorized
	case CodeCalendarAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// toAPIError maps domain errors onto the envelope. Unknown errors become an
// internal error whose message never leaks the cause.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, calendar.ErrInvalid):
		return &APIError{Code: CodeValidation, Message: err.Error()}
	case errors.Is(err, calendar.ErrNotFound):
		return &APIError{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, calendar.ErrUnauthorized):
		return &APIError{Code: CodeCalendarAuth, Message: "Calendar authorization failed"}
	case errors.Is(err, calendar.ErrBackend):
		return &APIError{Code: CodeCalendarAPI, Message: "Calendar service error"}
	default:
		return &APIError{Code: CodeInternal, Message: internalErrorMessage}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	apiErr := toAPIError(err)
	status := statusForCode(apiErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"request_id", RequestIDFrom(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, apiErr)
}
