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

// OpenAIAdapter drives deep research jobs on the OpenAI responses API in
// background mode. Submit returns an external response id; the poller
// drives status and fetch until the job lands.
type OpenAIAdapter struct {
	base
	apiKey  string
	baseURL string
}

// NewOpenAIAdapter creates the adapter from provider credentials.
func NewOpenAIAdapter(creds config.ProviderCredentials) *OpenAIAdapter {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIAdapter{
		base:    newBase("openai", 2*time.Minute, creds.MaxConcurrent),
		apiKey:  creds.APIKey,
		baseURL: baseURL,
	}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// openaiTool maps engine tools onto responses API tool blocks.
func openaiTool(t types.Tool) map[string]interface{} {
	switch t {
	case types.ToolWebSearch:
		return map[string]interface{}{"type": "web_search_preview"}
	case types.ToolCodeInterpreter:
		return map[string]interface{}{"type": "code_interpreter", "container": map[string]string{"type": "auto"}}
	case types.ToolFileSearch:
		return map[string]interface{}{"type": "file_search"}
	}
	return nil
}

type openaiRequest struct {
	Model      string                   `json:"model"`
	Background bool                     `json:"background"`
	Input      []openaiInputMessage     `json:"input"`
	Tools      []map[string]interface{} `json:"tools,omitempty"`
}

type openaiInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued, in_progress, completed, failed, cancelled, incomplete
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			Annotations []struct {
				Type  string `json:"type"`
				URL   string `json:"url"`
				Title string `json:"title"`
			} `json:"annotations"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens         int64 `json:"input_tokens"`
		OutputTokens        int64 `json:"output_tokens"`
		OutputTokensDetails struct {
			ReasoningTokens int64 `json:"reasoning_tokens"`
		} `json:"output_tokens_details"`
	} `json:"usage"`
}

type openaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (a *OpenAIAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}

func (a *OpenAIAdapter) apiErrorFrom(body []byte, status int) error {
	var eb openaiErrorBody
	_ = json.Unmarshal(body, &eb)
	return newAPIError("openai", status, eb.Error.Message, string(body))
}

// Submit starts a background deep research job. A repeated idempotency
// token within the window returns the original external id without a new
// provider call.
func (a *OpenAIAdapter) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	if a.apiKey == "" {
		return nil, newAPIError("openai", http.StatusUnauthorized, "API key not configured", "")
	}

	if id, ok := a.recallToken(req.IdempotencyToken); ok {
		logging.Provider("[openai] submit token replay, returning existing id=%s", id)
		return &SubmitResult{ExternalID: id, InitialStatus: StateQueued}, nil
	}

	body := openaiRequest{
		Model:      req.Model.ID,
		Background: true,
	}
	if req.SystemPrompt != "" {
		body.Input = append(body.Input, openaiInputMessage{Role: "developer", Content: req.SystemPrompt})
	}
	body.Input = append(body.Input, openaiInputMessage{Role: "user", Content: req.Prompt})
	for _, t := range req.Tools {
		if tool := openaiTool(t); tool != nil {
			body.Tools = append(body.Tools, tool)
		}
	}

	respBody, status, err := a.doJSON(ctx, http.MethodPost, a.baseURL+"/responses", a.headers(), body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, a.apiErrorFrom(respBody, status)
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.ID == "" {
		return nil, newAPIError("openai", status, "response missing id", string(respBody))
	}

	a.rememberToken(req.IdempotencyToken, resp.ID)
	logging.Provider("[openai] submitted model=%s external_id=%s status=%s", req.Model.ID, resp.ID, resp.Status)

	return &SubmitResult{ExternalID: resp.ID, InitialStatus: mapOpenAIStatus(resp.Status)}, nil
}

func mapOpenAIStatus(s string) JobState {
	switch s {
	case "queued":
		return StateQueued
	case "in_progress":
		return StateRunning
	case "completed":
		return StateSucceeded
	case "cancelled":
		return StateCanceled
	case "failed", "incomplete":
		return StateFailed
	}
	return StateRunning
}

// Status reports the background job state.
func (a *OpenAIAdapter) Status(ctx context.Context, externalID string) (*StatusResult, error) {
	respBody, status, err := a.doJSON(ctx, http.MethodGet, a.baseURL+"/responses/"+externalID, a.headers(), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, a.apiErrorFrom(respBody, status)
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &StatusResult{State: mapOpenAIStatus(resp.Status), Substate: resp.Status}
	if resp.Error != nil {
		result.Reason = resp.Error.Message
	} else if resp.IncompleteDetails != nil {
		result.Reason = resp.IncompleteDetails.Reason
	}
	return result, nil
}

// Fetch retrieves the finished report. The parsed artifact is cached so a
// second fetch after success returns an identical value.
func (a *OpenAIAdapter) Fetch(ctx context.Context, externalID string) (*types.Artifact, error) {
	if cached, ok := a.loadResult(externalID); ok {
		return cached, nil
	}

	respBody, status, err := a.doJSON(ctx, http.MethodGet, a.baseURL+"/responses/"+externalID, a.headers(), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, a.apiErrorFrom(respBody, status)
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if mapOpenAIStatus(resp.Status) != StateSucceeded {
		return nil, newAPIError("openai", status, fmt.Sprintf("fetch before terminal success (status %s)", resp.Status), string(respBody))
	}

	artifact := openaiArtifact(&resp, respBody)
	a.storeResult(externalID, artifact)
	return artifact, nil
}

// openaiArtifact flattens the response output into markdown + citations.
func openaiArtifact(resp *openaiResponse, raw []byte) *types.Artifact {
	var markdown string
	var citations []types.Citation
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type != "output_text" {
				continue
			}
			markdown += c.Text
			for _, ann := range c.Annotations {
				if ann.Type == "url_citation" {
					citations = append(citations, types.Citation{URL: ann.URL, Title: ann.Title})
				}
			}
		}
	}
	return &types.Artifact{
		MarkdownBody: markdown,
		Citations:    citations,
		TokenUsage: types.TokenUsage{
			Input:     resp.Usage.InputTokens,
			Output:    resp.Usage.OutputTokens - resp.Usage.OutputTokensDetails.ReasoningTokens,
			Reasoning: resp.Usage.OutputTokensDetails.ReasoningTokens,
		},
		ProviderRaw: string(raw),
		CreatedAt:   time.Now().UTC(),
	}
}

// Cancel requests a best-effort cancel of the background job.
func (a *OpenAIAdapter) Cancel(ctx context.Context, externalID string) (bool, error) {
	respBody, status, err := a.doJSON(ctx, http.MethodPost, a.baseURL+"/responses/"+externalID+"/cancel", a.headers(), nil)
	if err != nil {
		return false, err
	}
	if status < 200 || status >= 300 {
		return false, a.apiErrorFrom(respBody, status)
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return false, nil
	}
	return resp.Status == "cancelled", nil
}

// Estimate prices the request from the registry plus token heuristics.
func (a *OpenAIAdapter) Estimate(req Request) decimal.Decimal {
	return req.Model.EstimateCost(req.Prompt, types.ModeFocus)
}

// ClassifyError maps an adapter error onto the router taxonomy.
func (a *OpenAIAdapter) ClassifyError(err error) ErrorKind {
	return classifyError(err)
}
