package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"scout/internal/config"
	"scout/internal/logging"
	"scout/internal/types"
)

// AnthropicAdapter runs synchronous research through the Anthropic messages
// API with the server-side web_search tool. Results are cached under a
// locally minted external id.
type AnthropicAdapter struct {
	base
	apiKey  string
	baseURL string
}

const anthropicVersion = "2023-06-01"

// NewAnthropicAdapter creates the adapter from provider credentials.
func NewAnthropicAdapter(creds config.ProviderCredentials) *AnthropicAdapter {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicAdapter{
		base:    newBase("anthropic", 10*time.Minute, creds.MaxConcurrent),
		apiKey:  creds.APIKey,
		baseURL: baseURL,
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string                   `json:"model"`
	MaxTokens int                      `json:"max_tokens"`
	System    string                   `json:"system,omitempty"`
	Messages  []anthropicMessage       `json:"messages"`
	Tools     []map[string]interface{} `json:"tools,omitempty"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content []struct {
		Type      string `json:"type"`
		Text      string `json:"text"`
		Citations []struct {
			Type      string `json:"type"`
			URL       string `json:"url"`
			Title     string `json:"title"`
			CitedText string `json:"cited_text"`
		} `json:"citations"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) apiErrorFrom(body []byte, status int) error {
	var resp anthropicResponse
	_ = json.Unmarshal(body, &resp)
	msg := ""
	if resp.Error != nil {
		msg = resp.Error.Message
	}
	return newAPIError("anthropic", status, msg, string(body))
}

// Submit performs one tool-assisted completion and returns the finished
// result.
func (a *AnthropicAdapter) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	if a.apiKey == "" {
		return nil, newAPIError("anthropic", http.StatusUnauthorized, "API key not configured", "")
	}

	if id, ok := a.recallToken(req.IdempotencyToken); ok {
		if artifact, cached := a.loadResult(id); cached {
			logging.Provider("[anthropic] submit token replay, returning existing id=%s", id)
			return &SubmitResult{ExternalID: id, InitialStatus: StateSucceeded, Synchronous: artifact}, nil
		}
	}

	body := anthropicRequest{
		Model:     req.Model.ID,
		MaxTokens: 16384,
		System:    req.SystemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
	for _, t := range req.Tools {
		switch t {
		case types.ToolWebSearch:
			body.Tools = append(body.Tools, map[string]interface{}{
				"type": "web_search_20250305",
				"name": "web_search",
			})
		case types.ToolCodeInterpreter:
			body.Tools = append(body.Tools, map[string]interface{}{
				"type": "code_execution_20250522",
				"name": "code_execution",
			})
			headers["anthropic-beta"] = "code-execution-2025-05-22"
		}
	}

	respBody, status, err := a.doJSON(ctx, http.MethodPost, a.baseURL+"/messages", headers, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, a.apiErrorFrom(respBody, status)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var markdown string
	var citations []types.Citation
	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		markdown += block.Text
		for _, c := range block.Citations {
			citations = append(citations, types.Citation{URL: c.URL, Title: c.Title, Snippet: c.CitedText})
		}
	}

	artifact := &types.Artifact{
		MarkdownBody: markdown,
		Citations:    citations,
		TokenUsage: types.TokenUsage{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
		},
		ProviderRaw: string(respBody),
		CreatedAt:   time.Now().UTC(),
	}

	externalID := localExternalID("anthropic")
	a.storeResult(externalID, artifact)
	a.rememberToken(req.IdempotencyToken, externalID)
	logging.Provider("[anthropic] completion finished model=%s external_id=%s stop=%s", req.Model.ID, externalID, resp.StopReason)

	return &SubmitResult{ExternalID: externalID, InitialStatus: StateSucceeded, Synchronous: artifact}, nil
}

// Status resolves against the local result cache.
func (a *AnthropicAdapter) Status(ctx context.Context, externalID string) (*StatusResult, error) {
	return a.syncStatus(externalID)
}

// Fetch returns the cached artifact.
func (a *AnthropicAdapter) Fetch(ctx context.Context, externalID string) (*types.Artifact, error) {
	return a.syncFetch(externalID)
}

// Cancel has nothing provider-side to stop.
func (a *AnthropicAdapter) Cancel(ctx context.Context, externalID string) (bool, error) {
	return false, nil
}

// Estimate prices the request from the registry plus token heuristics.
func (a *AnthropicAdapter) Estimate(req Request) decimal.Decimal {
	return req.Model.EstimateCost(req.Prompt, types.ModeFocus)
}

// ClassifyError maps an adapter error onto the router taxonomy.
func (a *AnthropicAdapter) ClassifyError(err error) ErrorKind {
	return classifyError(err)
}
