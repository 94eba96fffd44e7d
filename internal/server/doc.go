// Package server exposes the booking assistant over HTTP.
//
// It serves two WebSocket endpoints, /ws/chat for text and /ws/voice for
// recorded audio, a small REST API over the calendar and the usual health
// and metrics endpoints. Sockets are authenticated with a shared token,
// registered in a session.Registry and rate limited per message; REST calls
// are rate limited per client IP.
package server
