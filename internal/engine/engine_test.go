package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scout/internal/config"
	"scout/internal/events"
	"scout/internal/poller"
	"scout/internal/provider"
	"scout/internal/queue"
	"scout/internal/router"
	"scout/internal/types"
)

func newTestEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Router.Explore = 0 // deterministic routing in tests
	cfg.Providers.OpenAI.APIKey = "sk-test"
	if mutate != nil {
		mutate(cfg)
	}

	eng, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestSubmitValidatesInput(t *testing.T) {
	eng := newTestEngine(t, nil)

	_, err := eng.Submit(context.Background(), SubmitRequest{Prompt: "   "})
	assert.True(t, types.IsKind(err, types.ErrInvalidRequest))

	_, err = eng.Submit(context.Background(), SubmitRequest{Prompt: "q", Mode: "interpretive_dance"})
	assert.True(t, types.IsKind(err, types.ErrInvalidRequest))
}

func TestSubmitEnqueuesPendingWithEstimate(t *testing.T) {
	eng := newTestEngine(t, nil)

	job, err := eng.Submit(context.Background(), SubmitRequest{
		Prompt: "compare raft and paxos",
		Mode:   types.ModeFocus,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, job.Status)
	assert.True(t, job.CostEstimate.IsPositive())
	assert.Empty(t, job.ChosenProvider, "routing happens at dispatch, not submit")

	// The estimate is in the ledger but does not count as spend.
	entries, err := eng.ledger.EntriesForJob(job.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.CostEstimate, entries[0].Kind)

	status, err := eng.Budget()
	require.NoError(t, err)
	assert.True(t, status.DaySpend.IsZero())
}

func TestSubmitIdempotencyToken(t *testing.T) {
	eng := newTestEngine(t, nil)
	req := SubmitRequest{Prompt: "what is mTLS", IdempotencyToken: "retry-safe"}

	first, err := eng.Submit(context.Background(), req)
	require.NoError(t, err)
	second, err := eng.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	jobs, err := eng.List(queue.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestSubmitDeniedByPerOpCap(t *testing.T) {
	eng := newTestEngine(t, func(cfg *config.Config) {
		cfg.Budget.PerOp = decimal.RequireFromString("0.01")
	})

	_, err := eng.Submit(context.Background(), SubmitRequest{Prompt: "compare raft and paxos"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrBudgetDenied))
	assert.Contains(t, err.Error(), "per-operation")
}

func TestSubmitConfirmationGate(t *testing.T) {
	// Daily headroom sized so the estimate eats more than 80% of it.
	eng := newTestEngine(t, func(cfg *config.Config) {
		cfg.Budget.PerDay = decimal.RequireFromString("0.28")
	})
	req := SubmitRequest{Prompt: "compare raft and paxos", Mode: types.ModeFocus}

	_, err := eng.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrBudgetDenied))
	assert.Contains(t, err.Error(), "confirmation required")

	req.Confirmed = true
	job, err := eng.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, job.Status)
}

func TestCancelPendingJob(t *testing.T) {
	eng := newTestEngine(t, nil)

	job, err := eng.Submit(context.Background(), SubmitRequest{Prompt: "cancel me"})
	require.NoError(t, err)

	canceled, err := eng.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCanceled, canceled.Status)
	assert.Equal(t, "canceled before submission", canceled.CancelNote)

	// A second cancel conflicts.
	_, err = eng.Cancel(context.Background(), job.ID)
	assert.True(t, types.IsKind(err, types.ErrQueueConflict))
}

func TestGetResolvesPrefix(t *testing.T) {
	eng := newTestEngine(t, nil)

	job, err := eng.Submit(context.Background(), SubmitRequest{Prompt: "prefix lookup"})
	require.NoError(t, err)

	got, err := eng.Get(job.ID[:13])
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	got, err = eng.Get(job.ShortID())
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestEndToEndJobThroughEngineRun(t *testing.T) {
	eng := newTestEngine(t, nil)

	// Swap the real adapter for a mock that succeeds on first poll.
	mock := provider.NewMockAdapter("openai")
	mock.StatusScript = []provider.StatusResult{{State: provider.StateSucceeded, Substate: "completed"}}
	eng.router = routerWithMock(eng, mock)
	eng.poller = pollerWithRouter(eng)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	go eng.Run(ctx)

	job, err := eng.Submit(ctx, SubmitRequest{Prompt: "compare raft and paxos", Mode: types.ModeFocus})
	require.NoError(t, err)

	terminal, err := events.WaitForTerminal(ctx, eng.Bus(), job.ID)
	require.NoError(t, err)
	require.Equal(t, events.JobCompleted, terminal.Type)

	done, err := eng.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, done.Status)
	require.NotNil(t, done.CostActual)
	assert.True(t, done.CostActual.IsPositive())

	body, _, err := eng.Report(job.ID)
	require.NoError(t, err)
	assert.Contains(t, body, "Mock Report")

	status, err := eng.Budget()
	require.NoError(t, err)
	assert.True(t, status.DaySpend.Equal(*done.CostActual))

	health := eng.Health()
	require.NotEmpty(t, health)
	assert.Equal(t, "openai", health[0].Provider)
}

func TestSynchronousProviderCompletesWithoutPolling(t *testing.T) {
	eng := newTestEngine(t, nil)

	mock := provider.NewMockAdapter("openai")
	mock.SubmitFunc = func(ctx context.Context, req provider.Request) (*provider.SubmitResult, error) {
		return &provider.SubmitResult{
			ExternalID:    "local-sync-1",
			InitialStatus: provider.StateSucceeded,
			Synchronous:   mock.CannedArtifact,
		}, nil
	}
	eng.router = routerWithMock(eng, mock)
	ctx := context.Background()

	job, err := eng.Submit(ctx, SubmitRequest{Prompt: "compare raft and paxos"})
	require.NoError(t, err)

	leased, err := eng.queue.NextPending(eng.owner, eng.cfg.Poll.Lease())
	require.NoError(t, err)
	require.NotNil(t, leased)
	eng.submitJob(ctx, leased)

	done, err := eng.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, done.Status, "inline results complete in the submit path")
	require.NotNil(t, done.CostActual)
	assert.True(t, done.CostActual.IsPositive())
	assert.Zero(t, mock.FetchCount(), "no poller fetch for an inline result")

	body, _, err := eng.Report(job.ID)
	require.NoError(t, err)
	assert.Contains(t, body, "Mock Report")

	status, err := eng.Budget()
	require.NoError(t, err)
	assert.True(t, status.DaySpend.Equal(*done.CostActual))
}

func TestRepeatedProviderFailuresPauseSubmissions(t *testing.T) {
	eng := newTestEngine(t, nil)

	mock := provider.NewMockAdapter("openai")
	mock.SubmitFunc = func(ctx context.Context, req provider.Request) (*provider.SubmitResult, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	eng.router = routerWithMock(eng, mock)
	ctx := context.Background()

	// Two jobs, each walking a two-model chain: four straight failures,
	// below the router's per-provider disable threshold.
	for i := 0; i < 2; i++ {
		job, err := eng.Submit(ctx, SubmitRequest{Prompt: fmt.Sprintf("doomed question %d", i)})
		require.NoError(t, err)

		leased, err := eng.queue.NextPending(eng.owner, eng.cfg.Poll.Lease())
		require.NoError(t, err)
		require.NotNil(t, leased)
		require.Equal(t, job.ID, leased.ID)
		eng.submitJob(ctx, leased)

		after, err := eng.Get(job.ID)
		require.NoError(t, err)
		require.Equal(t, types.StatusFailed, after.Status)
	}

	_, err := eng.Submit(ctx, SubmitRequest{Prompt: "one more"})
	require.Error(t, err, "three consecutive provider failures pause new submissions")
	assert.True(t, types.IsKind(err, types.ErrBudgetDenied))
	assert.Contains(t, err.Error(), "paused after repeated provider failures")
}

func TestEventStreamCoversLifecycle(t *testing.T) {
	eng := newTestEngine(t, nil)

	ch, cancelSub := eng.Subscribe(events.Filter{Types: []events.Type{events.JobCreated}})
	defer cancelSub()

	job, err := eng.Submit(context.Background(), SubmitRequest{Prompt: "watch me"})
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, events.JobCreated, e.Type)
		assert.Equal(t, job.ID, e.JobID)
	case <-time.After(time.Second):
		t.Fatal("no job_created event")
	}
}

func TestCancelRecordsSpendWhenProviderFinishedFirst(t *testing.T) {
	eng := newTestEngine(t, nil)

	mock := provider.NewMockAdapter("openai")
	mock.CancelFunc = func(ctx context.Context, externalID string) (bool, error) {
		return false, nil // provider refuses: the job already finished
	}
	mock.StatusFunc = func(ctx context.Context, externalID string) (*provider.StatusResult, error) {
		return &provider.StatusResult{State: provider.StateSucceeded}, nil
	}
	eng.router = routerWithMock(eng, mock)

	job, err := eng.Submit(context.Background(), SubmitRequest{Prompt: "late cancel"})
	require.NoError(t, err)
	require.NoError(t, eng.queue.MarkProcessing(job.ID, "openai", "o4-mini-deep-research", "ext-done", job.CostEstimate))

	canceled, err := eng.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCanceled, canceled.Status)
	assert.Contains(t, canceled.CancelNote, "provider completed before cancel")
	require.NotNil(t, canceled.CostActual)

	status, err := eng.Budget()
	require.NoError(t, err)
	assert.True(t, status.DaySpend.Equal(*canceled.CostActual), "discarded results still cost money")
}

// routerWithMock rebuilds the engine router around a single mock adapter.
func routerWithMock(e *Engine, mock *provider.MockAdapter) *router.Router {
	cfg := e.cfg.Router
	cfg.Explore = 0
	return router.New(cfg, map[string]provider.Adapter{mock.ProviderName: mock}, e.bus)
}

// pollerWithRouter rebuilds the poller so it polls through the current
// (mocked) router.
func pollerWithRouter(e *Engine) *poller.Poller {
	return poller.New(e.queue, e.router, e.artifacts, e.governor, e.cfg.Poll)
}
