package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Tyrowin/bookingdesk/internal/ratelimit"
)

const endpointChat = "chat"

// handleChat serves the text chat socket.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	client, id, ok := s.acceptSession(w, r)
	if !ok {
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	defer s.endSession(id, client)

	_ = client.Send(connectedFrame{Type: typeConnected, SessionID: id})
	s.sendHistory(client, id)

	client.readLoop(func(raw []byte) {
		s.handleChatFrame(client, id, raw)
	})
}

func (s *Server) sendHistory(client *Client, id string) {
	if history := s.assistant.ClientHistory(id); len(history) > 0 {
		_ = client.Send(historyFrame{Type: typeHistory, Messages: toHistoryEntries(history)})
	}
}

func (s *Server) handleChatFrame(client *Client, id string, raw []byte) {
	in, ok := s.decodeFrame(client, endpointChat, raw)
	if !ok {
		return
	}

	switch in.Type {
	case typeMessage:
		if !s.checkWSRateLimit(client, id) {
			return
		}
		content := strings.TrimSpace(in.Content)
		if content == "" {
			return
		}
		_ = client.Send(ackFrame{Type: typeAck, Status: "processing"})

		reply, changed, err := s.assistant.Process(s.baseCtx, id, content)
		if err != nil {
			_ = client.Send(errorMessage("Error processing message: " + err.Error()))
			return
		}
		_ = client.Send(chatResponseFrame{Type: typeResponse, Content: reply, AppointmentsChanged: changed})
	case typeClearHistory, typePing:
		s.handleControlFrame(client, id, in.Type)
	default:
		s.logger.Debug("ignoring unknown chat frame", "session_id", id, "type", in.Type)
	}
}

// decodeFrame parses raw into an inbound frame, defaulting the type to
// "message". Malformed frames are answered with an error frame.
func (s *Server) decodeFrame(client *Client, endpoint string, raw []byte) (inbound, bool) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		s.metrics.RecordWSMessage(endpoint, "invalid")
		_ = client.Send(errorMessage("Invalid message format"))
		return in, false
	}
	if in.Type == "" {
		in.Type = typeMessage
	}
	s.metrics.RecordWSMessage(endpoint, metricFrameType(in.Type))
	return in, true
}

// handleControlFrame answers the frame types both sockets share.
func (s *Server) handleControlFrame(client *Client, id, frameType string) {
	switch frameType {
	case typeClearHistory:
		s.assistant.Clear(id)
		_ = client.Send(typedFrame{Type: typeHistoryCleared})
	case typePing:
		_ = client.Send(typedFrame{Type: typePong})
	}
}

func (s *Server) checkWSRateLimit(client *Client, id string) bool {
	if CheckWSRateLimit(client, s.limiter, id) {
		return true
	}
	s.metrics.RecordRateLimited(ratelimit.PoolWS)
	s.logger.Info("websocket rate limit exceeded", "session_id", id)
	return false
}

// metricFrameType bounds the label values clients can create.
func metricFrameType(t string) string {
	switch t {
	case typeMessage, typeAudio, typeTranscribe, typeSynthesize, typeClearHistory, typePing:
		return t
	default:
		return "unknown"
	}
}
