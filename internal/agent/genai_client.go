package agent

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIClient implements Generator with the Google Gen AI SDK.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a Gemini Developer API client authenticated by key.
// baseURL is optional and overrides the SDK endpoint.
func NewGenAIClient(ctx context.Context, apiKey, model, baseURL string) (*GenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoCredential
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}

	return &GenAIClient{
		client: client,
		model:  model,
	}, nil
}

// Generate sends one user turn and returns the first candidate's first part.
func (g *GenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("genai generate content: %w", err)
	}

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates[0].content.parts[0]", ErrMalformedResponse)
	}
	part := res.Candidates[0].Content.Parts[0]
	if part == nil || strings.TrimSpace(part.Text) == "" {
		return "", ErrEmptyReply
	}
	return part.Text, nil
}
