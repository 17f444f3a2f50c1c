// Package llm provides the content-generation backend abstraction and its
// provider adapters (Gemini, OpenRouter).
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for short answers such as fit scores
	TierLite ModelTier = "lite"
	// TierStandard is for structured output such as tailored documents
	TierStandard ModelTier = "standard"
	// TierAdvanced is for long-form writing such as cover letters
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
	// ProviderOpenRouter is any OpenAI-compatible endpoint, OpenRouter by default
	ProviderOpenRouter Provider = "openrouter"
)

// DefaultOpenRouterBaseURL is the OpenAI-compatible API root used by OpenRouter.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Config holds the model configuration for the application
type Config struct {
	Provider Provider             `json:"provider" yaml:"provider"`
	BaseURL  string               `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Models   map[ModelTier]string `json:"models" yaml:"models"`
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
	}
}

// DefaultOpenRouterConfig returns the default OpenRouter configuration.
func DefaultOpenRouterConfig() *Config {
	return &Config{
		Provider: ProviderOpenRouter,
		BaseURL:  DefaultOpenRouterBaseURL,
		Models: map[ModelTier]string{
			TierLite:     "minimax/minimax-m2",
			TierStandard: "minimax/minimax-m2",
			TierAdvanced: "anthropic/claude-sonnet-4",
		},
	}
}

// ConfigFor returns the default configuration for a provider name.
// Unknown names fall back to Gemini.
func ConfigFor(provider Provider) *Config {
	if provider == ProviderOpenRouter {
		return DefaultOpenRouterConfig()
	}
	return DefaultGeminiConfig()
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider: c.Provider,
		BaseURL:  c.BaseURL,
		Models:   make(map[ModelTier]string, len(c.Models)+1),
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
