package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrStatus is returned when the service answers with a non-2xx status.
	ErrStatus = errors.New("remote service returned error status")
	// ErrMalformedResponse is returned when the reply body does not have the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrEmptyReply is returned when the first candidate carries no text.
	ErrEmptyReply = errors.New("empty reply")
	// ErrNoCredential is returned when no API key is configured.
	ErrNoCredential = errors.New("no API key configured")
)

// Generator produces a single reply for a fully built prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f(ctx, prompt).
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Service wraps a Generator with a per-request timeout and logging.
type Service struct {
	generator Generator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates a new agent service. A zero timeout disables the deadline.
func NewService(generator Generator, timeout time.Duration, logger *slog.Logger) (*Service, error) {
	if generator == nil {
		return nil, fmt.Errorf("agent: generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		generator: generator,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Generate sends one prompt and returns the reply text.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("Generation failed",
			"error", err,
			"prompt_length", len(prompt),
			"elapsed", time.Since(start),
		)
		return "", err
	}

	s.logger.Debug("Generation completed",
		"prompt_length", len(prompt),
		"reply_length", len(reply),
		"elapsed", time.Since(start),
	)
	return reply, nil
}

// Ensure implementations satisfy Generator.
var (
	_ Generator = (*Service)(nil)
	_ Generator = (*GeminiClient)(nil)
	_ Generator = (*GenAIClient)(nil)
)
