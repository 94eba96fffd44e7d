package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/Tyrowin/bookingdesk/internal/speech"
)

const (
	endpointVoice    = "voice"
	defaultAudioMIME = "audio/webm"
)

var errNoAudio = errors.New("no audio data provided")

// handleVoice serves the voice socket: audio in, transcript plus spoken reply
// out.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	client, id, ok := s.acceptSession(w, r)
	if !ok {
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	defer s.endSession(id, client)

	_ = client.Send(connectedFrame{Type: typeConnected, SessionID: id, Voices: speech.Voices})
	s.sendHistory(client, id)

	client.readLoop(func(raw []byte) {
		s.handleVoiceFrame(client, id, raw)
	})
}

func (s *Server) handleVoiceFrame(client *Client, id string, raw []byte) {
	in, ok := s.decodeFrame(client, endpointVoice, raw)
	if !ok {
		return
	}

	switch in.Type {
	case typeAudio:
		if s.checkWSRateLimit(client, id) {
			s.handleAudio(client, id, in)
		}
	case typeTranscribe:
		if s.checkWSRateLimit(client, id) {
			s.handleTranscribe(client, in)
		}
	case typeSynthesize:
		if s.checkWSRateLimit(client, id) {
			s.handleSynthesize(client, in)
		}
	case typeClearHistory, typePing:
		s.handleControlFrame(client, id, in.Type)
	default:
		s.logger.Debug("ignoring unknown voice frame", "session_id", id, "type", in.Type)
	}
}

// handleAudio runs the full pipeline: transcribe, answer, synthesize.
func (s *Server) handleAudio(client *Client, id string, in inbound) {
	audio, mimeType, err := decodeAudio(in)
	if errors.Is(err, errNoAudio) {
		_ = client.Send(errorMessage("No audio data provided"))
		return
	}
	if err != nil {
		_ = client.Send(errorMessage("Error processing audio: " + err.Error()))
		return
	}

	_ = client.Send(processingFrame{Type: typeProcessing, Stage: stageTranscribing})
	text, err := s.transcriber.Transcribe(s.baseCtx, audio, mimeType)
	if err != nil {
		_ = client.Send(errorMessage("Error processing audio: " + err.Error()))
		return
	}
	if strings.TrimSpace(text) == "" {
		_ = client.Send(voiceResponseFrame{Type: typeResponse, Error: "No speech detected"})
		return
	}
	_ = client.Send(transcriptionFrame{Type: typeTranscription, Text: text})

	_ = client.Send(processingFrame{Type: typeProcessing, Stage: stageThinking})
	reply, changed, err := s.assistant.Process(s.baseCtx, id, text)
	if err != nil {
		_ = client.Send(errorMessage("Error processing audio: " + err.Error()))
		return
	}

	_ = client.Send(processingFrame{Type: typeProcessing, Stage: stageSynthesizing})
	speechAudio, speechMIME, err := s.synthesizer.Synthesize(s.baseCtx, reply, in.Voice)
	if err != nil {
		_ = client.Send(errorMessage("Error processing audio: " + err.Error()))
		return
	}

	_ = client.Send(voiceResponseFrame{
		Type:                typeResponse,
		Transcription:       text,
		Text:                reply,
		Audio:               base64.StdEncoding.EncodeToString(speechAudio),
		MimeType:            speechMIME,
		AppointmentsChanged: changed,
	})
}

// handleTranscribe returns the transcript without asking the assistant.
func (s *Server) handleTranscribe(client *Client, in inbound) {
	audio, mimeType, err := decodeAudio(in)
	if errors.Is(err, errNoAudio) {
		_ = client.Send(errorMessage("No audio data provided"))
		return
	}
	if err != nil {
		_ = client.Send(errorMessage("Error transcribing audio: " + err.Error()))
		return
	}

	_ = client.Send(processingFrame{Type: typeProcessing, Stage: stageTranscribing})
	text, err := s.transcriber.Transcribe(s.baseCtx, audio, mimeType)
	if err != nil {
		_ = client.Send(errorMessage("Error transcribing audio: " + err.Error()))
		return
	}
	_ = client.Send(transcriptionFrame{Type: typeTranscription, Text: text})
}

// handleSynthesize speaks arbitrary text.
func (s *Server) handleSynthesize(client *Client, in inbound) {
	if strings.TrimSpace(in.Text) == "" {
		_ = client.Send(errorMessage("No text provided"))
		return
	}

	_ = client.Send(processingFrame{Type: typeProcessing, Stage: stageSynthesizing})
	audio, mimeType, err := s.synthesizer.Synthesize(s.baseCtx, in.Text, in.Voice)
	if err != nil {
		_ = client.Send(errorMessage("Error synthesizing audio: " + err.Error()))
		return
	}
	_ = client.Send(audioFrame{
		Type:     typeAudio,
		Data:     base64.StdEncoding.EncodeToString(audio),
		MimeType: mimeType,
	})
}

// decodeAudio extracts the audio bytes and MIME type from an audio or
// transcribe frame. A data URL prefix is accepted.
func decodeAudio(in inbound) ([]byte, string, error) {
	data := strings.TrimSpace(in.Data)
	if data == "" {
		return nil, "", errNoAudio
	}
	if strings.HasPrefix(data, "data:") {
		if _, payload, found := strings.Cut(data, ","); found {
			data = payload
		}
	}

	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", errors.New("invalid base64 audio data")
	}
	if len(audio) == 0 {
		return nil, "", errNoAudio
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = defaultAudioMIME
	}
	return audio, mimeType, nil
}
