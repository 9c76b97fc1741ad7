package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// EmbeddingConfig selects the embedding provider shared by every collection.
// APIKeyEnv and BaseURLEnv name variables read when the direct value is empty.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"` // jina | openai-compatible
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	APIKeyEnv  string        `mapstructure:"api_key_env"`
	BaseURL    string        `mapstructure:"base_url"`
	BaseURLEnv string        `mapstructure:"base_url_env"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ResolveEnvVars fills APIKey and BaseURL from their *Env variables.
func (c *EmbeddingConfig) ResolveEnvVars() {
	fromEnv(&c.APIKey, c.APIKeyEnv)
	fromEnv(&c.BaseURL, c.BaseURLEnv)
}

func fromEnv(dst *string, name string) {
	if *dst != "" || name == "" {
		return
	}
	*dst = os.Getenv(name)
}

func (c *EmbeddingConfig) Validate() error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.Dimensions <= 0 {
		errs = append(errs, errors.New("dimensions must be positive"))
	}
	switch c.Provider {
	case "jina":
	case "openai-compatible":
		if c.BaseURL == "" {
			errs = append(errs, errors.New("base_url is required for provider openai-compatible"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	return nil
}

// RequireAPIKey is Validate plus a credential check. The server calls it
// before the first embedding request; config loading alone does not.
func (c *EmbeddingConfig) RequireAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey != "" {
		return nil
	}
	if c.APIKeyEnv != "" {
		return fmt.Errorf("embedding: api_key is empty and %s is unset", c.APIKeyEnv)
	}
	return errors.New("embedding: api_key is required")
}
