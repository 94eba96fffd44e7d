// Package speech converts between audio and text using the OpenAI audio API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	// DefaultBaseURL is the OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com"
	// DefaultVoice is used when no valid voice is requested.
	DefaultVoice = "nova"
)

// Voices lists the speech voices the API accepts.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// IsVoice reports whether name is one of Voices.
func IsVoice(name string) bool {
	for _, v := range Voices {
		if v == name {
			return true
		}
	}
	return false
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Synthesizer turns text into audio and returns the audio's MIME type.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, string, error)
}

// Option configures an OpenAI client.
type Option func(*OpenAI)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(o *OpenAI) {
		if url != "" {
			o.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAI) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithVoice sets the default voice. Unknown voices are ignored.
func WithVoice(voice string) Option {
	return func(o *OpenAI) {
		if IsVoice(voice) {
			o.voice = voice
		}
	}
}

// WithModels sets the transcription and speech models.
func WithModels(transcription, speech string) Option {
	return func(o *OpenAI) {
		if transcription != "" {
			o.transcriptionModel = transcription
		}
		if speech != "" {
			o.speechModel = speech
		}
	}
}

// OpenAI implements Transcriber and Synthesizer.
type OpenAI struct {
	apiKey             string
	baseURL            string
	httpClient         *http.Client
	voice              string
	transcriptionModel string
	speechModel        string
}

// NewOpenAI creates a client authenticating with apiKey.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	o := &OpenAI{
		apiKey:             apiKey,
		baseURL:            DefaultBaseURL,
		httpClient:         &http.Client{},
		voice:              DefaultVoice,
		transcriptionModel: "whisper-1",
		speechModel:        "tts-1",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Voice returns the default voice.
func (o *OpenAI) Voice() string {
	return o.voice
}

// APIError is a non-2xx response from the audio API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: %d: %s", e.StatusCode, e.Message)
}

// Transcribe uploads audio as a multipart form and returns the recognized text.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+extension(mimeType))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", o.transcriptionModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	body, err := o.do(ctx, "/v1/audio/transcriptions", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

// Synthesize renders text as MP3 audio. An empty or unknown voice uses the
// client's default.
func (o *OpenAI) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if !IsVoice(voice) {
		voice = o.voice
	}
	payload, err := json.Marshal(map[string]string{
		"model":           o.speechModel,
		"input":           text,
		"voice":           voice,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}

	audio, err := o.do(ctx, "/v1/audio/speech", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	return audio, "audio/mpeg", nil
}

func (o *OpenAI) do(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp.StatusCode, data)
	}
	return data, nil
}

func parseError(status int, body []byte) error {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Message == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: status, Message: parsed.Error.Message}
}

// extension maps a browser recording MIME type onto a file extension the
// transcription endpoint recognizes.
func extension(mimeType string) string {
	base, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/ogg":
		return "ogg"
	case "audio/flac":
		return "flac"
	default:
		return "webm"
	}
}
