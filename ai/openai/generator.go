package openai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/lattice/ai"
	"github.com/tmc/langchaingo/llms"
)

// ErrEmptyCompletion is returned when the model produced no choices.
var ErrEmptyCompletion = errors.New("model returned no completion")

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client llms.Model
	logger *slog.Logger
}

func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client, err := newChatClient(config)
	if err != nil {
		return nil, err
	}
	return &Generator{
		client: client,
		logger: slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate completes prompt with at most maxTokens tokens.
func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}

	opts := []llms.CallOption{llms.WithTemperature(0.2)}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	response, err := g.client.GenerateContent(ctx, content, opts...)
	if err != nil {
		g.logger.Error("failed to generate content", "err", err)
		return "", err
	}
	if len(response.Choices) < 1 {
		return "", ErrEmptyCompletion
	}
	g.logger.Debug("generated completion", "prompt_length", len(prompt), "length", len(response.Choices[0].Content))
	return response.Choices[0].Content, nil
}
