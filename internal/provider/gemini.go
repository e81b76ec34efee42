package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"
	"scout/internal/config"
	"scout/internal/logging"
	"scout/internal/types"
)

// GeminiAdapter runs synchronous research through the Gemini API with
// Google Search grounding. The SDK call finishes inside Submit; the
// artifact is cached under a locally minted external id.
type GeminiAdapter struct {
	base
	client *genai.Client
}

// NewGeminiAdapter creates the adapter from provider credentials.
func NewGeminiAdapter(creds config.ProviderCredentials) (*GeminiAdapter, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  creds.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{
		base:   newBase("gemini", 10*time.Minute, creds.MaxConcurrent),
		client: client,
	}, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

// Submit performs one grounded generation and returns the finished result.
func (a *GeminiAdapter) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	if id, ok := a.recallToken(req.IdempotencyToken); ok {
		if artifact, cached := a.loadResult(id); cached {
			logging.Provider("[gemini] submit token replay, returning existing id=%s", id)
			return &SubmitResult{ExternalID: id, InitialStatus: StateSucceeded, Synchronous: artifact}, nil
		}
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)
	a.throttle()

	genCfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	for _, t := range req.Tools {
		switch t {
		case types.ToolWebSearch:
			genCfg.Tools = append(genCfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		case types.ToolCodeInterpreter:
			genCfg.Tools = append(genCfg.Tools, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
		}
	}

	start := time.Now()
	resp, err := a.client.Models.GenerateContent(ctx, req.Model.ID, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return nil, err
	}
	logging.Provider("[gemini] generation finished model=%s in %v", req.Model.ID, time.Since(start))

	artifact := geminiArtifact(resp)
	externalID := localExternalID("gemini")
	a.storeResult(externalID, artifact)
	a.rememberToken(req.IdempotencyToken, externalID)

	return &SubmitResult{ExternalID: externalID, InitialStatus: StateSucceeded, Synchronous: artifact}, nil
}

// geminiArtifact flattens candidates into markdown plus grounded citations.
func geminiArtifact(resp *genai.GenerateContentResponse) *types.Artifact {
	var markdown string
	var citations []types.Citation

	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					markdown += part.Text
				}
			}
		}
		if cand.GroundingMetadata != nil {
			for _, chunk := range cand.GroundingMetadata.GroundingChunks {
				if chunk.Web != nil {
					citations = append(citations, types.Citation{URL: chunk.Web.URI, Title: chunk.Web.Title})
				}
			}
		}
	}

	var usage types.TokenUsage
	if resp.UsageMetadata != nil {
		usage = types.TokenUsage{
			Input:     int64(resp.UsageMetadata.PromptTokenCount),
			Output:    int64(resp.UsageMetadata.CandidatesTokenCount),
			Reasoning: int64(resp.UsageMetadata.ThoughtsTokenCount),
		}
	}

	raw, _ := json.Marshal(resp)
	return &types.Artifact{
		MarkdownBody: markdown,
		Citations:    citations,
		TokenUsage:   usage,
		ProviderRaw:  string(raw),
		CreatedAt:    time.Now().UTC(),
	}
}

// Status resolves against the local result cache.
func (a *GeminiAdapter) Status(ctx context.Context, externalID string) (*StatusResult, error) {
	return a.syncStatus(externalID)
}

// Fetch returns the cached artifact.
func (a *GeminiAdapter) Fetch(ctx context.Context, externalID string) (*types.Artifact, error) {
	return a.syncFetch(externalID)
}

// Cancel has nothing provider-side to stop; in-flight calls end with their
// context.
func (a *GeminiAdapter) Cancel(ctx context.Context, externalID string) (bool, error) {
	return false, nil
}

// Estimate prices the request from the registry plus token heuristics.
func (a *GeminiAdapter) Estimate(req Request) decimal.Decimal {
	return req.Model.EstimateCost(req.Prompt, types.ModeFocus)
}

// ClassifyError maps SDK errors onto the router taxonomy.
func (a *GeminiAdapter) ClassifyError(err error) ErrorKind {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return KindAuth
		case apiErr.Code == http.StatusTooManyRequests:
			return KindRateLimit
		case apiErr.Code >= 500:
			return KindProviderDown
		case apiErr.Code >= 400:
			return KindInvalidRequest
		}
	}
	return classifyError(err)
}
