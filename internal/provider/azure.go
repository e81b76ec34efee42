package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"scout/internal/config"
	"scout/internal/logging"
	"scout/internal/types"
)

// AzureAdapter speaks the same responses wire protocol as OpenAI against an
// Azure OpenAI resource endpoint, with api-key auth instead of a bearer
// token. Deployment names match the registry model ids.
type AzureAdapter struct {
	base
	apiKey  string
	baseURL string
}

// NewAzureAdapter creates the adapter from provider credentials. The
// endpoint is the Azure resource URL, e.g. https://myresource.openai.azure.com.
func NewAzureAdapter(creds config.ProviderCredentials) *AzureAdapter {
	endpoint := strings.TrimSuffix(creds.Endpoint, "/")
	return &AzureAdapter{
		base:    newBase("azure", 2*time.Minute, creds.MaxConcurrent),
		apiKey:  creds.APIKey,
		baseURL: endpoint + "/openai/v1",
	}
}

func (a *AzureAdapter) Name() string { return "azure" }

func (a *AzureAdapter) headers() map[string]string {
	return map[string]string{"api-key": a.apiKey}
}

func (a *AzureAdapter) apiErrorFrom(body []byte, status int) error {
	var eb openaiErrorBody
	_ = json.Unmarshal(body, &eb)
	return newAPIError("azure", status, eb.Error.Message, string(body))
}

// Submit starts a background deep research job on the Azure deployment.
func (a *AzureAdapter) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	if a.apiKey == "" {
		return nil, newAPIError("azure", http.StatusUnauthorized, "API key not configured", "")
	}

	if id, ok := a.recallToken(req.IdempotencyToken); ok {
		logging.Provider("[azure] submit token replay, returning existing id=%s", id)
		return &SubmitResult{ExternalID: id, InitialStatus: StateQueued}, nil
	}

	body := openaiRequest{Model: req.Model.ID, Background: true}
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
		return nil, newAPIError("azure", status, "response missing id", string(respBody))
	}

	a.rememberToken(req.IdempotencyToken, resp.ID)
	logging.Provider("[azure] submitted model=%s external_id=%s status=%s", req.Model.ID, resp.ID, resp.Status)

	return &SubmitResult{ExternalID: resp.ID, InitialStatus: mapOpenAIStatus(resp.Status)}, nil
}

// Status reports the background job state.
func (a *AzureAdapter) Status(ctx context.Context, externalID string) (*StatusResult, error) {
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
	}
	return result, nil
}

// Fetch retrieves the finished report, caching the parsed artifact.
func (a *AzureAdapter) Fetch(ctx context.Context, externalID string) (*types.Artifact, error) {
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
		return nil, newAPIError("azure", status, fmt.Sprintf("fetch before terminal success (status %s)", resp.Status), string(respBody))
	}

	artifact := openaiArtifact(&resp, respBody)
	a.storeResult(externalID, artifact)
	return artifact, nil
}

// Cancel requests a best-effort cancel of the background job.
func (a *AzureAdapter) Cancel(ctx context.Context, externalID string) (bool, error) {
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
func (a *AzureAdapter) Estimate(req Request) decimal.Decimal {
	return req.Model.EstimateCost(req.Prompt, types.ModeFocus)
}

// ClassifyError maps an adapter error onto the router taxonomy.
func (a *AzureAdapter) ClassifyError(err error) ErrorKind {
	return classifyError(err)
}
