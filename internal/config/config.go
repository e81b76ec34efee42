// Package config holds the typed configuration surface for the scout engine.
// Configuration is loaded from <root>/config.json with environment variable
// overrides. Unknown providers and out-of-range values fail validation rather
// than being silently corrected, except budget caps which clamp to the hard
// ceilings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all scout engine configuration.
type Config struct {
	// Root is the data directory holding queue.db, reports/ and logs/.
	Root string `json:"root" yaml:"root"`

	// DefaultProvider is used when a request does not name a provider.
	// One of: openai, azure, gemini, grok, anthropic.
	DefaultProvider string `json:"default_provider" yaml:"default_provider"`

	// DefaultModel overrides the provider's default model when set.
	DefaultModel string `json:"default_model,omitempty" yaml:"default_model"`

	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Budget    BudgetConfig    `json:"budget" yaml:"budget"`
	Router    RouterConfig    `json:"router" yaml:"router"`
	Poll      PollConfig      `json:"poll" yaml:"poll"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// LoggingConfig mirrors the logging package's config block.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode" yaml:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty" yaml:"categories"`
	Level      string          `json:"level,omitempty" yaml:"level"`
	JSONFormat bool            `json:"json_format,omitempty" yaml:"json_format"`
}

// KnownProviders lists every provider name the engine accepts.
var KnownProviders = []string{"openai", "azure", "gemini", "grok", "anthropic"}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Root:            filepath.Join(home, ".scout"),
		DefaultProvider: "openai",
		Providers:       DefaultProvidersConfig(),
		Budget:          DefaultBudgetConfig(),
		Router:          DefaultRouterConfig(),
		Poll:            DefaultPollConfig(),
		Logging:         LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from the given path (JSON or YAML by extension),
// applies environment overrides, validates, and returns the result. A missing
// file yields defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults + env only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if filepath.Ext(path) == ".yaml" || filepath.Ext(path) == ".yml" {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		} else {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns the default config file location under the data root.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scout", "config.json")
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overlays environment variables onto the loaded config.
func (c *Config) applyEnv() {
	if v := os.Getenv("SCOUT_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("SCOUT_DEFAULT_PROVIDER"); v != "" {
		c.DefaultProvider = v
	}
	if v := os.Getenv("SCOUT_DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	c.Providers.applyEnv()
}

// Validate checks the configuration and clamps budget caps to hard ceilings.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root path must not be empty")
	}
	if !isKnownProvider(c.DefaultProvider) {
		return fmt.Errorf("unknown default_provider %q (valid: %v)", c.DefaultProvider, KnownProviders)
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if err := c.Router.Validate(); err != nil {
		return err
	}
	if err := c.Poll.Validate(); err != nil {
		return err
	}
	return nil
}

func isKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

// QueuePath returns the sqlite database location under the data root.
func (c *Config) QueuePath() string {
	return filepath.Join(c.Root, "queue.db")
}

// ReportsPath returns the artifact root under the data root.
func (c *Config) ReportsPath() string {
	return filepath.Join(c.Root, "reports")
}
