package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ashureev/vryxia/internal/config"
)

// NewFromConfig builds the configured generator wrapped in a Service. When no
// API key is set it returns a generator that always fails with
// ErrNoCredential, so every send resolves with the persona fallback, and
// reports configured=false.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (gen *Service, configured bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	var base Generator
	switch {
	case cfg.APIKey == "":
		logger.Warn("GEMINI_API_KEY not set, replies will use the fallback text")
		base = GeneratorFunc(func(context.Context, string) (string, error) {
			return "", ErrNoCredential
		})
	case cfg.Provider == config.ProviderGenAI:
		client, err := NewGenAIClient(ctx, cfg.APIKey, cfg.Model, genAIBaseURL(cfg.BaseURL))
		if err != nil {
			return nil, false, fmt.Errorf("create genai client: %w", err)
		}
		base = client
		configured = true
	default:
		client, err := NewGeminiClient(GeminiConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.RequestTimeout,
		}, logger)
		if err != nil {
			return nil, false, fmt.Errorf("create gemini client: %w", err)
		}
		base = client
		configured = true
	}

	svc, err := NewService(base, cfg.RequestTimeout, logger)
	if err != nil {
		return nil, false, err
	}
	logger.Info("Generator ready",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"configured", configured,
	)
	return svc, configured, nil
}

// genAIBaseURL converts GEMINI_BASE_URL, which ends in the API version, to
// the form the SDK expects. The SDK appends the version itself.
func genAIBaseURL(restBaseURL string) string {
	u, err := url.Parse(strings.TrimSpace(restBaseURL))
	if err != nil || u.Host == "" {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 && strings.HasPrefix(p[i+1:], "v1") {
		p = p[:i]
	}
	u.Path = p
	return u.String()
}
