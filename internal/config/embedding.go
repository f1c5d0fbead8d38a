package config

import (
	"fmt"
	"os"
)

// Supported embedding providers.
const (
	ProviderJina             = "jina"
	ProviderOpenAICompatible = "openai-compatible"
)

// EmbeddingConfig defines one named embedding backend.
type EmbeddingConfig struct {
	Name       string `mapstructure:"name"`
	Provider   string `mapstructure:"provider"` // jina | openai-compatible
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	APIKeyEnv  string `mapstructure:"api_key_env"` // env var consulted when APIKey is empty
	BaseURL    string `mapstructure:"base_url"`
	BaseURLEnv string `mapstructure:"base_url_env"`
	Dimensions int    `mapstructure:"dimensions"`
	IsDefault  bool   `mapstructure:"is_default"`
}

// ResolveEnvVars fills APIKey and BaseURL from their *_env variables.
// Values set directly take precedence.
func (c *EmbeddingConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		c.APIKey = os.Getenv(c.APIKeyEnv)
	}
	if c.BaseURLEnv != "" && c.BaseURL == "" {
		c.BaseURL = os.Getenv(c.BaseURLEnv)
	}
}

// Validate checks that the embedding configuration has all required fields.
func (c *EmbeddingConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("embedding config: name is required")
	}
	if c.Model == "" {
		return fmt.Errorf("embedding %q: model is required", c.Name)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding %q: dimensions must be positive", c.Name)
	}

	switch c.Provider {
	case ProviderJina:
	case ProviderOpenAICompatible:
		if c.BaseURL == "" {
			return fmt.Errorf("embedding %q: base_url is required for %s", c.Name, c.Provider)
		}
	default:
		return fmt.Errorf("embedding %q: unknown provider %q", c.Name, c.Provider)
	}
	return nil
}

// ValidateWithAPIKey also requires a resolved API key.
func (c *EmbeddingConfig) ValidateWithAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("embedding %q: api_key is required (set directly or via %s)", c.Name, c.APIKeyEnv)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *EmbeddingConfig) Clone() *EmbeddingConfig {
	clone := *c
	return &clone
}
