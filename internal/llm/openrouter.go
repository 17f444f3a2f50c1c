package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenRouterBackend implements Backend against an OpenAI-compatible API.
type OpenRouterBackend struct {
	client llms.Model
	model  string
}

// NewOpenRouterBackend creates a backend for baseURL (OpenRouter when empty).
func NewOpenRouterBackend(baseURL, model, apiKey string) (*OpenRouterBackend, error) {
	if apiKey == "" {
		return nil, ErrBackendUnavailable
	}
	if baseURL == "" {
		baseURL = DefaultOpenRouterBaseURL
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenRouter client: %w", err)
	}

	return &OpenRouterBackend{client: client, model: model}, nil
}

// Complete implements Backend.
func (o *OpenRouterBackend) Complete(ctx context.Context, systemPrompt, userPrompt string, maxOutputTokens int) (string, error) {
	var msgs []llms.MessageContent
	if systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, userPrompt))

	opts := []llms.CallOption{llms.WithTemperature(0.1)}
	if maxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxOutputTokens))
	}

	resp, err := o.client.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", &BackendError{Provider: ProviderOpenRouter, Model: o.model, Message: "chat completion failed", Cause: err}
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", &BackendError{Provider: ProviderOpenRouter, Model: o.model, Message: "empty response"}
	}
	return resp.Choices[0].Content, nil
}

// Model implements Backend.
func (o *OpenRouterBackend) Model() string {
	return o.model
}
