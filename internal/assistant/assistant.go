// Package assistant answers /ask prompts through an opaque
// text-completion call. The rest of the service treats it as a black
// box that turns a prompt into text.
package assistant

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/yerzhan-dev/manybot/pkg/logger"
)

type Assistant struct {
	client *genai.Client
	model  string
	log    logger.Logger
}

func New(ctx context.Context, apiKey, model string, log logger.Logger) (*Assistant, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("assistant API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Assistant{client: client, model: model, log: log}, nil
}

func (a *Assistant) Ask(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("completion returned no text")
	}
	return text, nil
}
