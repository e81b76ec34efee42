package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"scout/internal/types"
)

// MockAdapter is a scriptable in-memory adapter used by queue, poller,
// router, and engine tests. Hooks override individual calls; unset hooks
// fall back to a deterministic default: async submit, one RUNNING status,
// then SUCCEEDED with a canned artifact.
type MockAdapter struct {
	ProviderName string

	SubmitFunc func(ctx context.Context, req Request) (*SubmitResult, error)
	StatusFunc func(ctx context.Context, externalID string) (*StatusResult, error)
	FetchFunc  func(ctx context.Context, externalID string) (*types.Artifact, error)
	CancelFunc func(ctx context.Context, externalID string) (bool, error)

	// CannedArtifact is returned by the default Fetch.
	CannedArtifact *types.Artifact

	// StatusScript is consumed one entry per Status call when StatusFunc
	// is unset. When exhausted, the last entry repeats.
	StatusScript []StatusResult

	mu          sync.Mutex
	submitCount int
	statusCount int
	fetchCount  int
	cancelCount int
	tokens      map[string]string
}

// NewMockAdapter returns a mock that succeeds after one poll.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{
		ProviderName: name,
		CannedArtifact: &types.Artifact{
			MarkdownBody: "# Mock Report\n\nFindings with a [source](https://example.com).",
			Citations:    []types.Citation{{URL: "https://example.com", Title: "Example"}},
			TokenUsage:   types.TokenUsage{Input: 1000, Output: 2000, Reasoning: 500},
			ProviderRaw:  `{"mock":true}`,
			CreatedAt:    time.Now().UTC(),
		},
		StatusScript: []StatusResult{
			{State: StateRunning, Substate: "in_progress"},
			{State: StateSucceeded, Substate: "completed"},
		},
		tokens: make(map[string]string),
	}
}

func (m *MockAdapter) Name() string { return m.ProviderName }

// SubmitCount reports how many submits reached the mock.
func (m *MockAdapter) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCount
}

// FetchCount reports how many fetches reached the mock.
func (m *MockAdapter) FetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCount
}

// CancelCount reports how many cancels reached the mock.
func (m *MockAdapter) CancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelCount
}

func (m *MockAdapter) Submit(ctx context.Context, req Request) (*SubmitResult, error) {
	m.mu.Lock()
	m.submitCount++
	n := m.submitCount
	if req.IdempotencyToken != "" {
		if id, ok := m.tokens[req.IdempotencyToken]; ok {
			m.mu.Unlock()
			return &SubmitResult{ExternalID: id, InitialStatus: StateQueued}, nil
		}
	}
	m.mu.Unlock()

	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}

	id := fmt.Sprintf("%s-ext-%d", m.ProviderName, n)
	m.mu.Lock()
	if req.IdempotencyToken != "" {
		m.tokens[req.IdempotencyToken] = id
	}
	m.mu.Unlock()
	return &SubmitResult{ExternalID: id, InitialStatus: StateQueued}, nil
}

func (m *MockAdapter) Status(ctx context.Context, externalID string) (*StatusResult, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, externalID)
	}

	m.mu.Lock()
	idx := m.statusCount
	m.statusCount++
	m.mu.Unlock()

	if len(m.StatusScript) == 0 {
		return &StatusResult{State: StateSucceeded, Substate: "completed"}, nil
	}
	if idx >= len(m.StatusScript) {
		idx = len(m.StatusScript) - 1
	}
	result := m.StatusScript[idx]
	return &result, nil
}

func (m *MockAdapter) Fetch(ctx context.Context, externalID string) (*types.Artifact, error) {
	m.mu.Lock()
	m.fetchCount++
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, externalID)
	}
	artifact := *m.CannedArtifact
	return &artifact, nil
}

func (m *MockAdapter) Cancel(ctx context.Context, externalID string) (bool, error) {
	m.mu.Lock()
	m.cancelCount++
	m.mu.Unlock()

	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, externalID)
	}
	return true, nil
}

func (m *MockAdapter) Estimate(req Request) decimal.Decimal {
	return req.Model.EstimateCost(req.Prompt, types.ModeFocus)
}

func (m *MockAdapter) ClassifyError(err error) ErrorKind {
	return classifyError(err)
}
