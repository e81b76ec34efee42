package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"scout/internal/config"
	"scout/internal/events"
	"scout/internal/logging"
)

// Decision is the governor's verdict on a proposed submission.
type Decision string

const (
	Allow Decision = "allow"
	// RequireConfirm means the estimate would consume most of the
	// remaining daily budget; interactive surfaces should ask first.
	RequireConfirm Decision = "require_confirm"
	Deny           Decision = "deny"
)

// Verdict carries the decision plus context for error messages and UIs.
type Verdict struct {
	Decision  Decision
	Reason    string
	Remaining decimal.Decimal // remaining daily budget after this estimate
}

// confirmFraction: estimates at or above this share of the remaining
// daily budget require confirmation instead of silently draining it.
var confirmFraction = decimal.NewFromFloat(0.80)

// alertThresholds are the daily-spend percentages that emit budget_alert.
var alertThresholds = []int{50, 80, 95}

// Governor gates submissions against the configured budgets. It fails
// closed: when spend cannot be read, nothing is approved, and repeated
// provider failures pause new submissions engine-wide.
type Governor struct {
	ledger    *Ledger
	budget    config.BudgetConfig
	bus       *events.Bus
	breaker   *gobreaker.CircuitBreaker
	providers *gobreaker.CircuitBreaker

	mu         sync.Mutex
	alertedDay string
	alerted    map[int]bool
}

// NewGovernor builds a governor over the ledger. Repeated ledger read
// failures open the budget breaker and deny all submissions until it
// cools down. The provider breaker trips after 3 consecutive provider
// failures within a 15-minute window and re-admits traffic on the first
// success after a 10-minute cooldown.
func NewGovernor(l *Ledger, budget config.BudgetConfig, bus *events.Bus) *Governor {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "budget-check",
		Interval: 15 * time.Minute,
		Timeout:  10 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Governor("breaker %s: %s -> %s", name, from, to)
		},
	})
	providers := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "provider-failures",
		Interval: 15 * time.Minute,
		Timeout:  10 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Governor("breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Governor{
		ledger:    l,
		budget:    budget,
		bus:       bus,
		breaker:   breaker,
		providers: providers,
		alerted:   make(map[int]bool),
	}
}

// RecordProviderFailure feeds one provider failure into the engine-wide
// breaker. Three in a row pause all new submissions.
func (g *Governor) RecordProviderFailure(reason string) {
	g.providers.Execute(func() (interface{}, error) {
		return nil, errors.New(reason)
	})
}

// RecordProviderSuccess notes a provider success, resetting the failure
// streak and closing an open breaker once its cooldown has elapsed.
func (g *Governor) RecordProviderSuccess() {
	g.providers.Execute(func() (interface{}, error) {
		return nil, nil
	})
}

// CheckSubmit decides whether a submission with the given cost estimate
// may proceed. Hard caps are absolute; configured budgets may only be
// lower. An estimate at exactly the remaining budget is allowed.
func (g *Governor) CheckSubmit(estimate decimal.Decimal) Verdict {
	if estimate.IsNegative() {
		return Verdict{Decision: Deny, Reason: "negative cost estimate"}
	}

	if g.providers.State() == gobreaker.StateOpen {
		logging.Governor("deny: provider breaker open, submissions paused")
		return Verdict{Decision: Deny,
			Reason: "submissions paused after repeated provider failures, retry after cooldown"}
	}

	if estimate.GreaterThan(g.budget.PerOp) {
		logging.Governor("deny: estimate $%s exceeds per-operation budget $%s", estimate, g.budget.PerOp)
		return Verdict{Decision: Deny,
			Reason:    "estimate $" + estimate.String() + " exceeds per-operation budget $" + g.budget.PerOp.String(),
			Remaining: g.budget.PerOp}
	}

	spend, err := g.readSpend()
	if err != nil {
		logging.Governor("deny (fail closed): %v", err)
		return Verdict{Decision: Deny, Reason: "budget check unavailable: " + err.Error()}
	}

	dayRemaining := g.budget.PerDay.Sub(spend.day)
	monthRemaining := g.budget.PerMonth.Sub(spend.month)

	if estimate.GreaterThan(dayRemaining) {
		logging.Governor("deny: estimate $%s over daily remaining $%s", estimate, dayRemaining)
		return Verdict{Decision: Deny,
			Reason:    "daily budget exhausted: $" + dayRemaining.String() + " remaining, estimate $" + estimate.String(),
			Remaining: dayRemaining}
	}
	if estimate.GreaterThan(monthRemaining) {
		logging.Governor("deny: estimate $%s over monthly remaining $%s", estimate, monthRemaining)
		return Verdict{Decision: Deny,
			Reason:    "monthly budget exhausted: $" + monthRemaining.String() + " remaining, estimate $" + estimate.String(),
			Remaining: monthRemaining}
	}

	after := dayRemaining.Sub(estimate)
	if dayRemaining.IsPositive() && estimate.GreaterThanOrEqual(dayRemaining.Mul(confirmFraction)) {
		return Verdict{Decision: RequireConfirm,
			Reason:    "estimate $" + estimate.String() + " would consume most of the remaining daily budget $" + dayRemaining.String(),
			Remaining: after}
	}

	return Verdict{Decision: Allow, Remaining: after}
}

type spendSnapshot struct {
	day   decimal.Decimal
	month decimal.Decimal
}

func (g *Governor) readSpend() (spendSnapshot, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		day, err := g.ledger.Sum(PeriodDay)
		if err != nil {
			return nil, err
		}
		month, err := g.ledger.Sum(PeriodMonth)
		if err != nil {
			return nil, err
		}
		return spendSnapshot{day: day, month: month}, nil
	})
	if err != nil {
		return spendSnapshot{}, err
	}
	return result.(spendSnapshot), nil
}

// NoteSpend is called after realized cost lands in the ledger. It emits
// budget_alert events when daily spend crosses 50, 80, or 95 percent of
// the configured daily budget, once per threshold per day.
func (g *Governor) NoteSpend() {
	spend, err := g.readSpend()
	if err != nil {
		return
	}
	if !g.budget.PerDay.IsPositive() {
		return
	}
	percent := spend.day.Div(g.budget.PerDay).Mul(decimal.NewFromInt(100))

	g.mu.Lock()
	defer g.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if g.alertedDay != today {
		g.alertedDay = today
		g.alerted = make(map[int]bool)
	}

	for _, threshold := range alertThresholds {
		if g.alerted[threshold] {
			continue
		}
		if percent.GreaterThanOrEqual(decimal.NewFromInt(int64(threshold))) {
			g.alerted[threshold] = true
			logging.Governor("budget alert: daily spend $%s is %d%%+ of $%s", spend.day, threshold, g.budget.PerDay)
			g.bus.Publish(events.Event{
				Type:    events.BudgetAlert,
				Percent: threshold,
				Reason:  "daily spend $" + spend.day.String() + " of $" + g.budget.PerDay.String(),
			})
		}
	}
}

// Remaining reports the remaining budget per period for status surfaces.
func (g *Governor) Remaining() (day, month decimal.Decimal, err error) {
	spend, err := g.readSpend()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return g.budget.PerDay.Sub(spend.day), g.budget.PerMonth.Sub(spend.month), nil
}
