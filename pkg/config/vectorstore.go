package config

import "fmt"

// VectorStoreConfig configures the vault's vector-database backend.
// Chromem (embedded) is the only wired backend; the type field stays
// so a future external store slots in without a config shape change.
type VectorStoreConfig struct {
	Type string `yaml:"type"`

	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`

	Collection string `yaml:"collection,omitempty"`

	Timeout int `yaml:"timeout,omitempty"`
}

// SetDefaults applies per-type defaults.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// Validate checks the configuration for errors.
func (c *VectorStoreConfig) Validate() error {
	if c.Type != "chromem" {
		return fmt.Errorf("invalid vector store type %q", c.Type)
	}
	return nil
}

// IsEmbedded returns true for embedded vector stores (chromem).
func (c *VectorStoreConfig) IsEmbedded() bool {
	return c.Type == "chromem"
}
