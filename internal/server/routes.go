package server

import "net/http"

// routes registers every endpoint and wraps the mux in the middleware chain:
// recover, request id, access log, CORS, rate limit.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /ws/chat", s.handleChat)
	mux.HandleFunc("GET /ws/voice", s.handleVoice)

	mux.HandleFunc("GET /api/appointments", s.handleListAppointments)
	mux.HandleFunc("POST /api/appointments", s.handleCreateAppointment)
	mux.HandleFunc("GET /api/appointments/{id}", s.handleGetAppointment)
	mux.HandleFunc("DELETE /api/appointments/{id}", s.handleCancelAppointment)
	mux.HandleFunc("GET /api/calendar/availability", s.handleAvailability)

	var h http.Handler = mux
	h = RateLimit(s.limiter, s.cfg.RateLimit.ExcludedPaths, s.metrics, h)
	h = CORS(s.origins, h)
	h = AccessLog(s.logger, s.metrics, h)
	h = RequestID(h)
	h = Recover(s.logger, h)
	return h
}
