// Package config loads the service configuration from the environment and an
// optional JSON or YAML file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/applymate/internal/ledger"
	"github.com/jonathan/applymate/internal/llm"
)

// Auth modes accepted by AuthMode.
const (
	// AuthJWT requires a signed bearer token on every request.
	AuthJWT = "jwt"
	// AuthHeader trusts the X-User-ID header. Only for local development.
	AuthHeader = "header"
)

// Blob backends accepted by BlobStore.
const (
	BlobFS       = "fs"
	BlobPostgres = "postgres"
	BlobMemory   = "memory"
)

// Config represents the service configuration.
// Zero values mean "use the default".
type Config struct {
	Port        int    `json:"port,omitempty" yaml:"port,omitempty"`
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	BlobStore   string `json:"blob_store,omitempty" yaml:"blob_store,omitempty"` // fs, postgres or memory
	BlobDir     string `json:"blob_dir,omitempty" yaml:"blob_dir,omitempty"`

	// Content generation
	Provider string            `json:"provider,omitempty" yaml:"provider,omitempty"` // gemini or openrouter
	APIKey   string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL  string            `json:"base_url,omitempty" yaml:"base_url,omitempty"` // OpenAI-compatible root
	Models   map[string]string `json:"models,omitempty" yaml:"models,omitempty"`     // tier -> model override

	// Pipeline
	Workers             int  `json:"workers,omitempty" yaml:"workers,omitempty"`
	SignupGrant         *int `json:"signup_grant,omitempty" yaml:"signup_grant,omitempty"` // nil means default; 0 grants nothing
	StageTimeoutSeconds int  `json:"stage_timeout_seconds,omitempty" yaml:"stage_timeout_seconds,omitempty"`
	UseBrowser          bool `json:"use_browser,omitempty" yaml:"use_browser,omitempty"`
	EnableSubmission    bool `json:"enable_submission,omitempty" yaml:"enable_submission,omitempty"`
	RenderPDF           bool `json:"render_pdf,omitempty" yaml:"render_pdf,omitempty"`
	ShowATSScore        bool `json:"show_ats_score,omitempty" yaml:"show_ats_score,omitempty"`

	ChromePath string `json:"chrome_path,omitempty" yaml:"chrome_path,omitempty"`
	Verbose    bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	AuthMode string    `json:"auth_mode,omitempty" yaml:"auth_mode,omitempty"`
	JWT      JWTConfig `json:"jwt,omitempty" yaml:"jwt,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Port:                8080,
		BlobStore:           BlobFS,
		BlobDir:             "data/blobs",
		Provider:            string(llm.ProviderGemini),
		Workers:             4,
		SignupGrant:         intPtr(ledger.DefaultSignupGrant),
		StageTimeoutSeconds: 180,
		AuthMode:            AuthJWT,
		JWT:                 JWTConfig{ExpirationHours: DefaultExpirationHours},
	}
}

// LoadConfig loads configuration from a JSON or YAML file. Files ending in
// .yaml or .yml are decoded as YAML, everything else as JSON.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	return &cfg, nil
}

// Load builds the effective configuration: defaults, then environment
// variables, then the file at path (if any). Values from the file win.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.ApplyEnv(os.Getenv)

	if path == "" {
		return cfg, nil
	}
	file, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	merged := file.MergeWithDefaults(*cfg)
	return &merged, nil
}

// ApplyEnv overlays values found through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	setBool := func(dst *bool, key string) {
		if v, err := strconv.ParseBool(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}

	setInt(&c.Port, "PORT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.BlobStore, "BLOB_STORE")
	setString(&c.BlobDir, "BLOB_DIR")
	setString(&c.Provider, "LLM_PROVIDER")
	setString(&c.BaseURL, "OPENROUTER_BASE_URL")
	if llm.Provider(c.Provider) == llm.ProviderOpenRouter {
		setString(&c.APIKey, "OPENROUTER_API_KEY", "LLM_API_KEY")
	} else {
		setString(&c.APIKey, "GEMINI_API_KEY", "LLM_API_KEY")
	}
	setInt(&c.Workers, "WORKERS")
	if v, err := strconv.Atoi(strings.TrimSpace(getenv("SIGNUP_GRANT"))); err == nil {
		c.SignupGrant = intPtr(v)
	}
	setInt(&c.StageTimeoutSeconds, "STAGE_TIMEOUT_SECONDS")
	setBool(&c.UseBrowser, "USE_BROWSER")
	setBool(&c.EnableSubmission, "ENABLE_SUBMISSION")
	setBool(&c.RenderPDF, "RENDER_PDF")
	setBool(&c.ShowATSScore, "SHOW_ATS_SCORE")
	setString(&c.ChromePath, "CHROME_PATH")
	setBool(&c.Verbose, "VERBOSE")
	setString(&c.AuthMode, "AUTH_MODE")

	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.JWT.Issuer, "JWT_ISSUER")
	setInt(&c.JWT.ExpirationHours, "JWT_EXPIRATION_HOURS")
}

// Validate checks that the configuration has usable values.
// A missing API key is allowed: generation then reports itself unavailable.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	switch llm.Provider(c.Provider) {
	case llm.ProviderGemini, llm.ProviderOpenRouter:
	default:
		return fmt.Errorf("config error: unknown provider %q", c.Provider)
	}
	switch c.BlobStore {
	case BlobFS, BlobMemory:
	case BlobPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config error: blob_store %q requires 'database_url'", c.BlobStore)
		}
	default:
		return fmt.Errorf("config error: unknown blob_store %q", c.BlobStore)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config error: 'workers' must be non-negative")
	}
	if c.SignupGrant != nil && *c.SignupGrant < 0 {
		return fmt.Errorf("config error: 'signup_grant' must be non-negative")
	}
	if c.StageTimeoutSeconds < 0 {
		return fmt.Errorf("config error: 'stage_timeout_seconds' must be non-negative")
	}
	for tier := range c.Models {
		switch llm.ModelTier(tier) {
		case llm.TierLite, llm.TierStandard, llm.TierAdvanced:
		default:
			return fmt.Errorf("config error: unknown model tier %q", tier)
		}
	}
	switch c.AuthMode {
	case AuthJWT:
		if err := c.JWT.Validate(); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
	case AuthHeader:
	default:
		return fmt.Errorf("config error: unknown auth_mode %q", c.AuthMode)
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.BlobStore == "" {
		result.BlobStore = defaults.BlobStore
	}
	if result.BlobDir == "" {
		result.BlobDir = defaults.BlobDir
	}
	if result.Provider == "" {
		result.Provider = defaults.Provider
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.BaseURL == "" {
		result.BaseURL = defaults.BaseURL
	}
	if len(result.Models) == 0 {
		result.Models = defaults.Models
	}
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}
	if result.SignupGrant == nil {
		result.SignupGrant = defaults.SignupGrant
	}
	if result.StageTimeoutSeconds == 0 {
		result.StageTimeoutSeconds = defaults.StageTimeoutSeconds
	}
	if result.ChromePath == "" {
		result.ChromePath = defaults.ChromePath
	}
	if result.AuthMode == "" {
		result.AuthMode = defaults.AuthMode
	}
	if result.JWT.Secret == "" {
		result.JWT.Secret = defaults.JWT.Secret
	}
	if result.JWT.Issuer == "" {
		result.JWT.Issuer = defaults.JWT.Issuer
	}
	if result.JWT.ExpirationHours == 0 {
		result.JWT.ExpirationHours = defaults.JWT.ExpirationHours
	}

	// Bools cannot distinguish unset from false; either source enables them.
	result.UseBrowser = result.UseBrowser || defaults.UseBrowser
	result.EnableSubmission = result.EnableSubmission || defaults.EnableSubmission
	result.RenderPDF = result.RenderPDF || defaults.RenderPDF
	result.ShowATSScore = result.ShowATSScore || defaults.ShowATSScore
	result.Verbose = result.Verbose || defaults.Verbose

	return result
}

// Grant returns the signup grant, or DefaultSignupGrant when none is set.
func (c *Config) Grant() int {
	if c.SignupGrant == nil {
		return ledger.DefaultSignupGrant
	}
	return *c.SignupGrant
}

func intPtr(v int) *int { return &v }

// StageTimeout returns the per-stage deadline.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// ModelConfig returns the provider configuration with any per-tier overrides applied.
func (c *Config) ModelConfig() *llm.Config {
	mc := llm.ConfigFor(llm.Provider(c.Provider))
	if c.BaseURL != "" {
		mc.BaseURL = c.BaseURL
	}
	for tier, model := range c.Models {
		if model != "" {
			mc = mc.WithModel(llm.ModelTier(tier), model)
		}
	}
	return mc
}
