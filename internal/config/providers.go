package config

import "os"

// ProviderCredentials holds per-provider connection settings.
type ProviderCredentials struct {
	APIKey  string `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url"`
	// Endpoint is used by azure (resource endpoint); ignored elsewhere.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint"`
	// MaxConcurrent bounds simultaneous HTTP calls to this provider.
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent"`
}

// ProvidersConfig maps provider name to its credentials.
type ProvidersConfig struct {
	OpenAI    ProviderCredentials `json:"openai" yaml:"openai"`
	Azure     ProviderCredentials `json:"azure" yaml:"azure"`
	Gemini    ProviderCredentials `json:"gemini" yaml:"gemini"`
	Grok      ProviderCredentials `json:"grok" yaml:"grok"`
	Anthropic ProviderCredentials `json:"anthropic" yaml:"anthropic"`
}

// DefaultMaxConcurrent is the per-provider HTTP call semaphore size.
const DefaultMaxConcurrent = 5

// DefaultProvidersConfig returns empty credentials with default concurrency.
func DefaultProvidersConfig() ProvidersConfig {
	creds := ProviderCredentials{MaxConcurrent: DefaultMaxConcurrent}
	return ProvidersConfig{
		OpenAI:    creds,
		Azure:     creds,
		Gemini:    creds,
		Grok:      creds,
		Anthropic: creds,
	}
}

// applyEnv fills API keys from the conventional environment variables when
// the config file left them empty. Env never overrides an explicit key.
func (p *ProvidersConfig) applyEnv() {
	fill := func(dst *string, envVar string) {
		if *dst == "" {
			*dst = os.Getenv(envVar)
		}
	}
	fill(&p.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&p.Azure.APIKey, "AZURE_OPENAI_API_KEY")
	fill(&p.Azure.Endpoint, "AZURE_OPENAI_ENDPOINT")
	fill(&p.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&p.Grok.APIKey, "XAI_API_KEY")
	fill(&p.Anthropic.APIKey, "ANTHROPIC_API_KEY")
}

// Get returns the credentials for a provider name, or an empty value.
func (p *ProvidersConfig) Get(name string) ProviderCredentials {
	switch name {
	case "openai":
		return p.OpenAI
	case "azure":
		return p.Azure
	case "gemini":
		return p.Gemini
	case "grok":
		return p.Grok
	case "anthropic":
		return p.Anthropic
	}
	return ProviderCredentials{}
}

// Configured lists provider names that have an API key available.
func (p *ProvidersConfig) Configured() []string {
	var out []string
	for _, name := range KnownProviders {
		if p.Get(name).APIKey != "" {
			out = append(out, name)
		}
	}
	return out
}
