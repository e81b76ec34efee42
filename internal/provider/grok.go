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

// GrokAdapter runs synchronous research through the xAI chat completions
// API with live search enabled. Results are cached under a locally minted
// external id.
type GrokAdapter struct {
	base
	apiKey  string
	baseURL string
}

// NewGrokAdapter creates the adapter from provider credentials.
func NewGrokAdapter(creds config.ProviderCredentials) *GrokAdapter {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = "https://api.x.ai/v1"
	}
	return &GrokAdapter{
		base:    newBase("grok", 10*time.Minute, creds.MaxConcurrent),
		apiKey:  creds.APIKey,
		baseURL: baseURL,
	}
}

func (a *GrokAdapter) Name() string { return "grok" }

type grokMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type grokSearchParameters struct {
	Mode            string `json:"mode"`
	ReturnCitations bool   `json:"return_citations"`
}

type grokRequest struct {
	Model            string                `json:"model"`
	Messages         []grokMessage         `json:"messages"`
	SearchParameters *grokSearchParameters `json:"search_parameters,omitempty"`
}

type grokResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     struct {
		PromptTokens            int64 `json:"prompt_tokens"`
		CompletionTokens        int64 `json:"completion_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens int64 `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (a *GrokAdapter) apiErrorFrom(body []byte, status int) error {
	var resp grokResponse
	_ = json.Unmarshal(body, &resp)
	msg := ""
	if resp.Error != nil {
		msg = resp.Error.Message
	}
	return newAPIError("grok", status, msg, string(body))
}

// Submit performs one searched completion and returns the finished result.
func (a *GrokAdapter) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	if a.apiKey == "" {
		return nil, newAPIError("grok", http.StatusUnauthorized, "API key not configured", "")
	}

	if id, ok := a.recallToken(req.IdempotencyToken); ok {
		if artifact, cached := a.loadResult(id); cached {
			logging.Provider("[grok] submit token replay, returning existing id=%s", id)
			return &SubmitResult{ExternalID: id, InitialStatus: StateSucceeded, Synchronous: artifact}, nil
		}
	}

	var messages []grokMessage
	if req.SystemPrompt != "" {
		messages = append(messages, grokMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, grokMessage{Role: "user", Content: req.Prompt})

	body := grokRequest{Model: req.Model.ID, Messages: messages}
	if req.JobRequestsSearch() {
		body.SearchParameters = &grokSearchParameters{Mode: "auto", ReturnCitations: true}
	}

	headers := map[string]string{"Authorization": "Bearer " + a.apiKey}
	respBody, status, err := a.doJSON(ctx, http.MethodPost, a.baseURL+"/chat/completions", headers, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, a.apiErrorFrom(respBody, status)
	}

	var resp grokResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, newAPIError("grok", status, "response has no choices", string(respBody))
	}

	var citations []types.Citation
	for _, url := range resp.Citations {
		citations = append(citations, types.Citation{URL: url})
	}

	artifact := &types.Artifact{
		MarkdownBody: resp.Choices[0].Message.Content,
		Citations:    citations,
		TokenUsage: types.TokenUsage{
			Input:     resp.Usage.PromptTokens,
			Output:    resp.Usage.CompletionTokens - resp.Usage.CompletionTokensDetails.ReasoningTokens,
			Reasoning: resp.Usage.CompletionTokensDetails.ReasoningTokens,
		},
		ProviderRaw: string(respBody),
		CreatedAt:   time.Now().UTC(),
	}

	externalID := localExternalID("grok")
	a.storeResult(externalID, artifact)
	a.rememberToken(req.IdempotencyToken, externalID)
	logging.Provider("[grok] completion finished model=%s external_id=%s", req.Model.ID, externalID)

	return &SubmitResult{ExternalID: externalID, InitialStatus: StateSucceeded, Synchronous: artifact}, nil
}

// JobRequestsSearch reports whether the request asked for web search.
func (r Request) JobRequestsSearch() bool {
	for _, t := range r.Tools {
		if t == types.ToolWebSearch {
			return true
		}
	}
	return false
}

// Status resolves against the local result cache.
func (a *GrokAdapter) Status(ctx context.Context, externalID string) (*StatusResult, error) {
	return a.syncStatus(externalID)
}

// Fetch returns the cached artifact.
func (a *GrokAdapter) Fetch(ctx context.Context, externalID string) (*types.Artifact, error) {
	return a.syncFetch(externalID)
}

// Cancel has nothing provider-side to stop.
func (a *GrokAdapter) Cancel(ctx context.Context, externalID string) (bool, error) {
	return false, nil
}

// Estimate prices the request from the registry plus token heuristics.
func (a *GrokAdapter) Estimate(req Request) decimal.Decimal {
	return req.Model.EstimateCost(req.Prompt, types.ModeFocus)
}

// ClassifyError maps an adapter error onto the router taxonomy.
func (a *GrokAdapter) ClassifyError(err error) ErrorKind {
	return classifyError(err)
}
