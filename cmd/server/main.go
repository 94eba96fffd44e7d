package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Tyrowin/bookingdesk/internal/assistant"
	"github.com/Tyrowin/bookingdesk/internal/calendar"
	"github.com/Tyrowin/bookingdesk/internal/config"
	"github.com/Tyrowin/bookingdesk/internal/ratelimit"
	"github.com/Tyrowin/bookingdesk/internal/server"
	"github.com/Tyrowin/bookingdesk/internal/session"
	"github.com/Tyrowin/bookingdesk/internal/speech"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bookingdesk:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit.Limits())
	if err != nil {
		return err
	}

	registry := session.NewRegistry(
		session.WithLogger(logger),
		session.WithMaxHistory(cfg.Sessions.MaxHistory),
	)

	replier := assistant.NewAnthropic(cfg.Assistant.APIKey,
		assistant.WithBaseURL(cfg.Assistant.BaseURL),
		assistant.WithModel(cfg.Assistant.Model),
		assistant.WithMaxTokens(cfg.Assistant.MaxTokens),
		assistant.WithSystemPrompt(cfg.Assistant.SystemPrompt),
		assistant.WithHTTPClient(&http.Client{
			Timeout: config.ParseDuration(cfg.Assistant.Timeout, 60*time.Second),
		}),
	)

	voice := speech.NewOpenAI(cfg.Speech.APIKey,
		speech.WithBaseURL(cfg.Speech.BaseURL),
		speech.WithVoice(cfg.Speech.Voice),
		speech.WithModels(cfg.Speech.TranscriptionModel, cfg.Speech.SpeechModel),
		speech.WithHTTPClient(&http.Client{
			Timeout: config.ParseDuration(cfg.Speech.Timeout, 60*time.Second),
		}),
	)

	srv, err := server.New(server.Deps{
		Config:      cfg,
		Logger:      logger,
		Limiter:     limiter,
		Registry:    registry,
		Calendar:    calendar.NewMemory(),
		Replier:     replier,
		Transcriber: voice,
		Synthesizer: voice,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	timeout := config.ParseDuration(cfg.Server.ShutdownTimeout, 10*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
