// Package config loads runtime settings for the booking service from a YAML
// file, a .env file and environment variables, then applies defaults and
// validates the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/bookingdesk/internal/ratelimit"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Assistant AssistantConfig `yaml:"assistant"`
	Speech    SpeechConfig    `yaml:"speech"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener and transport settings.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxMessageSize  int64    `yaml:"max_message_size"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// AuthConfig holds the WebSocket shared secret. Empty disables auth.
type AuthConfig struct {
	WebSocketToken string `yaml:"websocket_token"`
}

// RateLimitConfig mirrors ratelimit.Config plus the HTTP paths that bypass
// throttling. Enabled is a pointer so an omitted key keeps the default.
type RateLimitConfig struct {
	Enabled               *bool    `yaml:"enabled"`
	HTTPRequestsPerMinute int      `yaml:"http_requests_per_minute"`
	HTTPBurstLimit        int      `yaml:"http_burst_limit"`
	WSMessagesPerMinute   int      `yaml:"ws_messages_per_minute"`
	WSBurstLimit          int      `yaml:"ws_burst_limit"`
	ExcludedPaths         []string `yaml:"excluded_paths"`
}

// SessionsConfig controls session history retention.
type SessionsConfig struct {
	MaxHistory int `yaml:"max_history"`
}

// AssistantConfig configures the Anthropic Messages API client.
type AssistantConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"max_tokens"`
	SystemPrompt string `yaml:"system_prompt"`
	Timeout      string `yaml:"timeout"`
}

// SpeechConfig configures the OpenAI audio client.
type SpeechConfig struct {
	APIKey             string `yaml:"api_key"`
	BaseURL            string `yaml:"base_url"`
	Voice              string `yaml:"voice"`
	TranscriptionModel string `yaml:"transcription_model"`
	SpeechModel        string `yaml:"speech_model"`
	Timeout            string `yaml:"timeout"`
}

// LoggingConfig selects the slog handler and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path, overlays environment variables and
// applies defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	if cfg.Server.MaxMessageSize == 0 {
		cfg.Server.MaxMessageSize = 1 << 20
	}
	if cfg.Server.ShutdownTimeout == "" {
		cfg.Server.ShutdownTimeout = "10s"
	}

	limits := ratelimit.DefaultConfig()
	if cfg.RateLimit.Enabled == nil {
		enabled := limits.Enabled
		cfg.RateLimit.Enabled = &enabled
	}
	if cfg.RateLimit.HTTPRequestsPerMinute == 0 {
		cfg.RateLimit.HTTPRequestsPerMinute = limits.HTTPRequestsPerMinute
	}
	if cfg.RateLimit.HTTPBurstLimit == 0 {
		cfg.RateLimit.HTTPBurstLimit = limits.HTTPBurstLimit
	}
	if cfg.RateLimit.WSMessagesPerMinute == 0 {
		cfg.RateLimit.WSMessagesPerMinute = limits.WSMessagesPerMinute
	}
	if cfg.RateLimit.WSBurstLimit == 0 {
		cfg.RateLimit.WSBurstLimit = limits.WSBurstLimit
	}
	if cfg.RateLimit.ExcludedPaths == nil {
		cfg.RateLimit.ExcludedPaths = []string{"/health", "/healthz", "/", "/metrics"}
	}

	if cfg.Assistant.Model == "" {
		cfg.Assistant.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Assistant.MaxTokens == 0 {
		cfg.Assistant.MaxTokens = 1024
	}
	if cfg.Assistant.Timeout == "" {
		cfg.Assistant.Timeout = "60s"
	}

	if cfg.Speech.Voice == "" {
		cfg.Speech.Voice = "nova"
	}
	if cfg.Speech.TranscriptionModel == "" {
		cfg.Speech.TranscriptionModel = "whisper-1"
	}
	if cfg.Speech.SpeechModel == "" {
		cfg.Speech.SpeechModel = "tts-1"
	}
	if cfg.Speech.Timeout == "" {
		cfg.Speech.Timeout = "60s"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnv overlays environment variables onto cfg. Malformed numeric or
// boolean values are reported rather than ignored.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("SERVER_HOST", &cfg.Server.Host)
	if v, ok := lookup("SERVER_PORT"); ok && v != "" {
		port, err := parsePort(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		cfg.Server.AllowedOrigins = parseList(v)
	}
	if v, ok := lookup("MAX_MESSAGE_SIZE"); ok && v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_MESSAGE_SIZE: %w", err)
		}
		cfg.Server.MaxMessageSize = size
	}
	str("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	if v, ok := lookup("WEBSOCKET_AUTH_TOKEN"); ok {
		cfg.Auth.WebSocketToken = v
	}

	if v, ok := lookup("RATE_LIMIT_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_ENABLED: %w", err)
		}
		cfg.RateLimit.Enabled = &enabled
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"RATE_LIMIT_HTTP_PER_MINUTE", &cfg.RateLimit.HTTPRequestsPerMinute},
		{"RATE_LIMIT_HTTP_BURST", &cfg.RateLimit.HTTPBurstLimit},
		{"RATE_LIMIT_WS_PER_MINUTE", &cfg.RateLimit.WSMessagesPerMinute},
		{"RATE_LIMIT_WS_BURST", &cfg.RateLimit.WSBurstLimit},
		{"MAX_HISTORY", &cfg.Sessions.MaxHistory},
	}
	for _, item := range ints {
		v, ok := lookup(item.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", item.key, err)
		}
		*item.dst = n
	}
	if v, ok := lookup("RATE_LIMIT_EXCLUDED_PATHS"); ok {
		cfg.RateLimit.ExcludedPaths = parseList(v)
	}

	str("ANTHROPIC_API_KEY", &cfg.Assistant.APIKey)
	str("CLAUDE_MODEL", &cfg.Assistant.Model)
	str("OPENAI_API_KEY", &cfg.Speech.APIKey)
	str("TTS_VOICE", &cfg.Speech.Voice)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	if c.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: server.max_message_size must be positive", ErrInvalid)
	}
	if err := c.RateLimit.Limits().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Sessions.MaxHistory < 0 {
		return fmt.Errorf("%w: sessions.max_history must not be negative", ErrInvalid)
	}
	for name, value := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"assistant.timeout":       c.Assistant.Timeout,
		"speech.timeout":          c.Speech.Timeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
		}
	}
	if strings.TrimSpace(c.Assistant.APIKey) == "" {
		return fmt.Errorf("%w: anthropic api key must be set and non-empty", ErrInvalid)
	}
	if strings.TrimSpace(c.Speech.APIKey) == "" {
		return fmt.Errorf("%w: openai api key must be set and non-empty", ErrInvalid)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Limits converts the section into the limiter's configuration.
func (c RateLimitConfig) Limits() ratelimit.Config {
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	return ratelimit.Config{
		Enabled:               enabled,
		HTTPRequestsPerMinute: c.HTTPRequestsPerMinute,
		HTTPBurstLimit:        c.HTTPBurstLimit,
		WSMessagesPerMinute:   c.WSMessagesPerMinute,
		WSBurstLimit:          c.WSBurstLimit,
	}
}

// ParseDuration parses s, returning fallback when s is empty or malformed.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ParseLevel maps a level name onto a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

func parsePort(value string) (int, error) {
	value = strings.TrimPrefix(value, ":")
	return strconv.Atoi(value)
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
