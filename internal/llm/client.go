package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrBackendUnavailable means no content-generation backend is configured.
// It is never retried.
var ErrBackendUnavailable = errors.New("content generation backend is not configured")

// Backend generates text from a system and user prompt.
type Backend interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxOutputTokens int) (string, error)
	// Model returns the model name recorded as provenance.
	Model() string
}

// BackendError is a failed call to a configured backend. These are transient
// from the pipeline's point of view.
type BackendError struct {
	Provider Provider
	Model    string
	Message  string
	Cause    error
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s backend error (%s): %s: %v", e.Provider, e.Model, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s backend error (%s): %s", e.Provider, e.Model, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Closer is implemented by backends holding client resources.
type Closer interface {
	Close() error
}

// NewBackend builds the backend for config and tier. An empty apiKey yields
// ErrBackendUnavailable so callers can degrade instead of failing later.
func NewBackend(ctx context.Context, config *Config, tier ModelTier, apiKey string) (Backend, error) {
	if apiKey == "" {
		return nil, ErrBackendUnavailable
	}
	if config == nil {
		config = DefaultConfig()
	}

	model := config.GetModel(tier)
	if model == "" {
		return nil, fmt.Errorf("no model configured for tier %s", tier)
	}

	switch config.Provider {
	case ProviderOpenRouter:
		b, err := NewOpenRouterBackend(config.BaseURL, model, apiKey)
		if err != nil {
			return nil, err
		}
		return b, nil
	case ProviderGemini, "":
		b, err := NewGeminiBackend(ctx, model, apiKey)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", config.Provider)
	}
}

// Close releases backend resources when the backend holds any.
func Close(b Backend) error {
	if c, ok := b.(Closer); ok {
		return c.Close()
	}
	return nil
}
