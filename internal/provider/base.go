package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"scout/internal/logging"
	"scout/internal/types"
)

// idempotencyWindow is how long a client token maps to its prior submit.
const idempotencyWindow = 5 * time.Minute

// minRequestGap spaces consecutive calls to one provider.
const minRequestGap = 100 * time.Millisecond

// base carries the plumbing every adapter shares: the HTTP client, a
// per-provider concurrency semaphore, request spacing, the idempotency
// token cache, and the synchronous result cache that makes Fetch
// deterministic for providers that answer inline.
type base struct {
	name       string
	httpClient *http.Client
	sem        *semaphore.Weighted

	mu          sync.Mutex
	lastRequest time.Time

	tokenMu sync.Mutex
	tokens  map[string]tokenEntry

	resultMu sync.RWMutex
	results  map[string]*types.Artifact
}

type tokenEntry struct {
	externalID string
	at         time.Time
}

func newBase(name string, timeout time.Duration, maxConcurrent int) base {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return base{
		name:       name,
		httpClient: &http.Client{Timeout: timeout},
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		tokens:     make(map[string]tokenEntry),
		results:    make(map[string]*types.Artifact),
	}
}

// throttle enforces the minimum gap between requests to this provider.
func (b *base) throttle() {
	b.mu.Lock()
	elapsed := time.Since(b.lastRequest)
	if elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	b.lastRequest = time.Now()
	b.mu.Unlock()
}

// rememberToken records a token -> external id mapping.
func (b *base) rememberToken(token, externalID string) {
	if token == "" {
		return
	}
	b.tokenMu.Lock()
	defer b.tokenMu.Unlock()
	b.tokens[token] = tokenEntry{externalID: externalID, at: time.Now()}
}

// recallToken returns the external id a token resolved to within the
// idempotency window, expiring stale entries as it goes.
func (b *base) recallToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	b.tokenMu.Lock()
	defer b.tokenMu.Unlock()
	entry, ok := b.tokens[token]
	if !ok {
		return "", false
	}
	if time.Since(entry.at) > idempotencyWindow {
		delete(b.tokens, token)
		return "", false
	}
	return entry.externalID, true
}

// storeResult caches a finished artifact under its external id.
func (b *base) storeResult(externalID string, artifact *types.Artifact) {
	b.resultMu.Lock()
	defer b.resultMu.Unlock()
	b.results[externalID] = artifact
}

// loadResult returns the cached artifact for an external id.
func (b *base) loadResult(externalID string) (*types.Artifact, bool) {
	b.resultMu.RLock()
	defer b.resultMu.RUnlock()
	a, ok := b.results[externalID]
	return a, ok
}

// doJSON performs one rate-gated HTTP call with a JSON payload and returns
// the response body and status code. Transport failures come back as
// errors; non-2xx statuses are returned for the adapter to classify with
// its own error shape.
func (b *base) doJSON(ctx context.Context, method, url string, headers map[string]string, payload interface{}) ([]byte, int, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer b.sem.Release(1)

	b.throttle()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		logging.APIDebug("[%s] %s %s failed after %v: %v", b.name, method, url, time.Since(start), err)
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	logging.APIDebug("[%s] %s %s -> %d in %v (%d bytes)", b.name, method, url, resp.StatusCode, time.Since(start), len(respBody))
	return respBody, resp.StatusCode, nil
}
