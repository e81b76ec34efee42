package provider

import (
	"fmt"

	"scout/internal/config"
	"scout/internal/logging"
)

// BuildAdapters constructs an adapter per provider that has credentials.
// Providers without an API key are skipped; the router only routes to
// adapters present in the returned map.
func BuildAdapters(cfg *config.Config) (map[string]Adapter, error) {
	adapters := make(map[string]Adapter)

	if creds := cfg.Providers.OpenAI; creds.APIKey != "" {
		adapters["openai"] = NewOpenAIAdapter(creds)
	}
	if creds := cfg.Providers.Azure; creds.APIKey != "" {
		if creds.Endpoint == "" {
			return nil, fmt.Errorf("azure provider configured without an endpoint")
		}
		adapters["azure"] = NewAzureAdapter(creds)
	}
	if creds := cfg.Providers.Gemini; creds.APIKey != "" {
		adapter, err := NewGeminiAdapter(creds)
		if err != nil {
			return nil, fmt.Errorf("failed to build gemini adapter: %w", err)
		}
		adapters["gemini"] = adapter
	}
	if creds := cfg.Providers.Grok; creds.APIKey != "" {
		adapters["grok"] = NewGrokAdapter(creds)
	}
	if creds := cfg.Providers.Anthropic; creds.APIKey != "" {
		adapters["anthropic"] = NewAnthropicAdapter(creds)
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no provider credentials configured; set one of OPENAI_API_KEY, AZURE_OPENAI_API_KEY, GEMINI_API_KEY, XAI_API_KEY, ANTHROPIC_API_KEY")
	}

	for name := range adapters {
		logging.Provider("adapter ready: %s", name)
	}
	return adapters, nil
}
