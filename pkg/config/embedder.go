package config

import "fmt"

// EmbedderProviderConfig configures the vault's embedding provider.
// Ollama is the only wired backend; the type field stays so a future
// backend slots in without a config shape change.
type EmbedderProviderConfig struct {
	Type       string `yaml:"type"` // "ollama"
	Model      string `yaml:"model"`
	Host       string `yaml:"host,omitempty"`
	Dimension  int    `yaml:"dimension,omitempty"`
	Timeout    int    `yaml:"timeout,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// Validate implements Config.Validate for EmbedderProviderConfig.
func (c *EmbedderProviderConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Type == "ollama" && c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Dimension < 0 {
		return fmt.Errorf("dimension must be non-negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	return nil
}

// SetDefaults implements Config.SetDefaults for EmbedderProviderConfig.
func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Model == "" {
		c.Model = "nomic-embed-text"
	}
	if c.Type == "ollama" && c.Host == "" {
		c.Host = "http://localhost:11434"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}
