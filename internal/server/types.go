package server

import (
	"strings"

	"github.com/Tyrowin/bookingdesk/internal/session"
)

// Frame types sent by clients.
const (
	typeMessage      = "message"
	typeAudio        = "audio"
	typeTranscribe   = "transcribe"
	typeSynthesize   = "synthesize"
	typeClearHistory = "clear_history"
	typePing         = "ping"
)

// Frame types sent by the server.
const (
	typeConnected      = "connected"
	typeHistory        = "history"
	typeAck            = "ack"
	typeResponse       = "response"
	typeError          = "error"
	typeHistoryCleared = "history_cleared"
	typePong           = "pong"
	typeProcessing     = "processing"
	typeTranscription  = "transcription"
	typeNotification   = "notification"
)

// Processing stages reported on the voice socket.
const (
	stageTranscribing = "transcribing"
	stageThinking     = "thinking"
	stageSynthesizing = "synthesizing"
)

// inbound is the union of every client frame. Only the fields relevant to
// Type are populated.
type inbound struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"text,omitempty"`
	Voice    string `json:"voice,omitempty"`
}

type typedFrame struct {
	Type string `json:"type"`
}

type connectedFrame struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	Voices    []string `json:"voices,omitempty"`
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type historyFrame struct {
	Type     string         `json:"type"`
	Messages []historyEntry `json:"messages"`
}

type ackFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type chatResponseFrame struct {
	Type                string `json:"type"`
	Content             string `json:"content"`
	AppointmentsChanged bool   `json:"appointments_changed"`
}

type errorFrame struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type processingFrame struct {
	Type  string `json:"type"`
	Stage string `json:"stage"`
}

type transcriptionFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type voiceResponseFrame struct {
	Type                string `json:"type"`
	Transcription       string `json:"transcription"`
	Text                string `json:"text"`
	Audio               string `json:"audio"`
	MimeType            string `json:"mime_type"`
	AppointmentsChanged bool   `json:"appointments_changed"`
	Error               string `json:"error,omitempty"`
}

type audioFrame struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

type notificationFrame struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func errorMessage(message string) errorFrame {
	return errorFrame{Type: typeError, Message: message}
}

func toHistoryEntries(msgs []session.Message) []historyEntry {
	out := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyEntry{Role: m.Role, Content: m.Content})
	}
	return out
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
