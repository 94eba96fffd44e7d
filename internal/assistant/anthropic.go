package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Tyrowin/bookingdesk/internal/session"
)

const (
	// DefaultBaseURL is the Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"
	// APIVersion is sent in the anthropic-version header.
	APIVersion = "2023-06-01"
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-20250514"
	// DefaultMaxTokens caps the length of a reply.
	DefaultMaxTokens = 1024
)

// DefaultSystemPrompt frames the model as the booking desk assistant.
const DefaultSystemPrompt = "You are a friendly scheduling assistant for an appointment booking desk. " +
	"Help the user find free time, book appointments and cancel them. " +
	"Keep answers short and confirm dates and times explicitly."

// Option configures an Anthropic client.
type Option func(*Anthropic)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(a *Anthropic) {
		if url != "" {
			a.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Anthropic) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithModel selects the model.
func WithModel(model string) Option {
	return func(a *Anthropic) {
		if model != "" {
			a.model = model
		}
	}
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(a *Anthropic) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithSystemPrompt replaces the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(a *Anthropic) {
		if prompt != "" {
			a.system = prompt
		}
	}
}

// Anthropic is a Replier backed by the Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	model      string
	maxTokens  int
	system     string
}

// NewAnthropic creates a client authenticating with apiKey.
func NewAnthropic(apiKey string, opts ...Option) *Anthropic {
	a := &Anthropic{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
		system:     DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type messageParam struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []messageParam `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx response from the Messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// Reply sends the conversation so far plus text and returns the model's
// answer with all text blocks joined.
func (a *Anthropic) Reply(ctx context.Context, history []session.Message, text string) (string, error) {
	req := messagesRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    a.system,
		Messages:  buildMessages(history, text),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", parseError(resp.StatusCode, respBody)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var parts []string
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, " "), nil
}

// buildMessages converts stored history into Messages API turns. Consecutive
// turns from the same role are merged because the API requires alternation.
func buildMessages(history []session.Message, text string) []messageParam {
	msgs := make([]messageParam, 0, len(history)+1)
	appendTurn := func(role, content string) {
		if strings.TrimSpace(content) == "" {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n\n" + content
			return
		}
		msgs = append(msgs, messageParam{Role: role, Content: content})
	}

	for _, m := range history {
		if m.Role != session.RoleUser && m.Role != session.RoleAssistant {
			continue
		}
		appendTurn(m.Role, m.Content)
	}
	appendTurn(session.RoleUser, text)

	// the first turn must come from the user
	for len(msgs) > 0 && msgs[0].Role != session.RoleUser {
		msgs = msgs[1:]
	}
	return msgs
}

func parseError(status int, body []byte) error {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Message == "" {
		return &APIError{StatusCode: status, Type: "api_error", Message: strings.TrimSpace(string(body))}
	}
	return &APIError{StatusCode: status, Type: parsed.Error.Type, Message: parsed.Error.Message}
}
