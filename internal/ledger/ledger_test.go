package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scout/internal/config"
	"scout/internal/events"
	"scout/internal/store"
	"scout/internal/types"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func usd(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSumCountsRealizedOnly(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Append(types.CostEntry{JobID: "j1", Provider: "openai", Model: "o4-mini-deep-research", Kind: types.CostEstimate, Amount: usd("9.99")}))
	require.NoError(t, l.Append(types.CostEntry{JobID: "j1", Provider: "openai", Model: "o4-mini-deep-research", Kind: types.CostRealized, Amount: usd("1.25")}))
	require.NoError(t, l.Append(types.CostEntry{JobID: "j2", Provider: "grok", Model: "grok-4", Kind: types.CostRealized, Amount: usd("0.50")}))

	total, err := l.Sum(PeriodDay)
	require.NoError(t, err)
	assert.True(t, total.Equal(usd("1.75")), "got %s", total)

	grok, err := l.SumProvider(PeriodDay, "grok")
	require.NoError(t, err)
	assert.True(t, grok.Equal(usd("0.50")))
}

func TestSumPeriodBoundaries(t *testing.T) {
	l := newTestLedger(t)

	yesterday := time.Now().UTC().Add(-26 * time.Hour)
	require.NoError(t, l.Append(types.CostEntry{JobID: "old", Provider: "openai", Kind: types.CostRealized, Amount: usd("3.00"), OccurredAt: yesterday}))
	require.NoError(t, l.Append(types.CostEntry{JobID: "new", Provider: "openai", Kind: types.CostRealized, Amount: usd("1.00")}))

	day, err := l.Sum(PeriodDay)
	require.NoError(t, err)
	assert.True(t, day.Equal(usd("1.00")), "yesterday must not count toward today, got %s", day)

	all, err := l.Sum(PeriodAll)
	require.NoError(t, err)
	assert.True(t, all.Equal(usd("4.00")))
}

func TestReportGroupsByModel(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Append(types.CostEntry{JobID: "a", Provider: "openai", Model: "o3-deep-research", Kind: types.CostRealized, Amount: usd("4.00"), TokensIn: 100, TokensOut: 200}))
	require.NoError(t, l.Append(types.CostEntry{JobID: "b", Provider: "openai", Model: "o3-deep-research", Kind: types.CostRealized, Amount: usd("2.00"), TokensIn: 50, TokensOut: 60}))
	require.NoError(t, l.Append(types.CostEntry{JobID: "c", Provider: "gemini", Model: "gemini-2.5-pro", Kind: types.CostRealized, Amount: usd("1.00")}))

	report, err := l.Report(PeriodMonth)
	require.NoError(t, err)
	require.Len(t, report, 2)

	assert.Equal(t, "o3-deep-research", report[0].Model, "largest spend first")
	assert.True(t, report[0].Amount.Equal(usd("6.00")))
	assert.Equal(t, 2, report[0].Jobs)
	assert.Equal(t, int64(150), report[0].TokensIn)
}

func newTestGovernor(t *testing.T, budget config.BudgetConfig) (*Governor, *Ledger, *events.Bus) {
	t.Helper()
	l := newTestLedger(t)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	return NewGovernor(l, budget, bus), l, bus
}

func testBudget() config.BudgetConfig {
	return config.BudgetConfig{PerOp: usd("10"), PerDay: usd("50"), PerMonth: usd("500")}
}

func TestGovernorPerOpCap(t *testing.T) {
	g, _, _ := newTestGovernor(t, testBudget())

	assert.Equal(t, Allow, g.CheckSubmit(usd("0.40")).Decision)

	v := g.CheckSubmit(usd("10.01"))
	assert.Equal(t, Deny, v.Decision)
	assert.Contains(t, v.Reason, "per-operation")
}

func TestGovernorDailyExhaustion(t *testing.T) {
	g, l, _ := newTestGovernor(t, testBudget())

	require.NoError(t, l.Append(types.CostEntry{JobID: "spent", Provider: "openai", Kind: types.CostRealized, Amount: usd("45.00")}))

	// Exactly the remaining budget is allowed.
	assert.Equal(t, Allow, g.CheckSubmit(usd("1.00")).Decision)

	v := g.CheckSubmit(usd("5.01"))
	assert.Equal(t, Deny, v.Decision)
	assert.True(t, v.Remaining.Equal(usd("5.00")), "remaining %s", v.Remaining)
}

func TestGovernorBoundaryExactCap(t *testing.T) {
	g, l, _ := newTestGovernor(t, testBudget())

	require.NoError(t, l.Append(types.CostEntry{JobID: "spent", Provider: "openai", Kind: types.CostRealized, Amount: usd("40.00")}))

	// 10.00 equals both the per-op cap and the daily remainder: allowed,
	// but it consumes >=80% of what's left, so confirmation is required.
	v := g.CheckSubmit(usd("10.00"))
	assert.Equal(t, RequireConfirm, v.Decision)

	v = g.CheckSubmit(usd("10.000001"))
	assert.Equal(t, Deny, v.Decision)
}

func TestGovernorRequireConfirmThreshold(t *testing.T) {
	g, l, _ := newTestGovernor(t, testBudget())

	require.NoError(t, l.Append(types.CostEntry{JobID: "spent", Provider: "openai", Kind: types.CostRealized, Amount: usd("40.00")}))
	// Remaining: $10. 80% threshold sits at $8.

	assert.Equal(t, Allow, g.CheckSubmit(usd("7.99")).Decision)
	assert.Equal(t, RequireConfirm, g.CheckSubmit(usd("8.00")).Decision)
}

func TestGovernorEstimatesDoNotConsumeBudget(t *testing.T) {
	g, l, _ := newTestGovernor(t, testBudget())

	require.NoError(t, l.Append(types.CostEntry{JobID: "est", Provider: "openai", Kind: types.CostEstimate, Amount: usd("49.00")}))
	assert.Equal(t, Allow, g.CheckSubmit(usd("5.00")).Decision)
}

func TestGovernorBudgetAlerts(t *testing.T) {
	g, l, bus := newTestGovernor(t, testBudget())

	ch, cancel := bus.Subscribe(events.Filter{Types: []events.Type{events.BudgetAlert}})
	defer cancel()

	require.NoError(t, l.Append(types.CostEntry{JobID: "j", Provider: "openai", Kind: types.CostRealized, Amount: usd("41.00")}))
	g.NoteSpend() // 82% of $50: crosses 50 and 80

	var percents []int
	for i := 0; i < 2; i++ {
		select {
		case e := <-ch:
			percents = append(percents, e.Percent)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 budget alerts, got %v", percents)
		}
	}
	assert.Equal(t, []int{50, 80}, percents)

	// Same thresholds do not fire twice in a day.
	g.NoteSpend()
	select {
	case e := <-ch:
		t.Fatalf("unexpected duplicate alert at %d%%", e.Percent)
	case <-time.After(50 * time.Millisecond):
	}
}
