package config

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Hard ceilings. Soft limits may never exceed these, even with an
// operator override; Validate clamps rather than erroring so an old
// config file with larger caps keeps working at the ceiling.
var (
	HardCapPerOp    = decimal.NewFromInt(10)
	HardCapPerDay   = decimal.NewFromInt(50)
	HardCapPerMonth = decimal.NewFromInt(500)
)

// BudgetConfig holds the configurable soft spend limits.
type BudgetConfig struct {
	PerOp    decimal.Decimal `json:"per_op" yaml:"per_op"`
	PerDay   decimal.Decimal `json:"per_day" yaml:"per_day"`
	PerMonth decimal.Decimal `json:"per_month" yaml:"per_month"`
}

// DefaultBudgetConfig returns soft limits below the hard ceilings.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		PerOp:    decimal.NewFromInt(5),
		PerDay:   decimal.NewFromInt(25),
		PerMonth: decimal.NewFromInt(250),
	}
}

// Validate checks positivity and clamps each cap to its hard ceiling.
func (b *BudgetConfig) Validate() error {
	if b.PerOp.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("budget.per_op must be positive, got %s", b.PerOp)
	}
	if b.PerDay.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("budget.per_day must be positive, got %s", b.PerDay)
	}
	if b.PerMonth.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("budget.per_month must be positive, got %s", b.PerMonth)
	}
	if b.PerOp.GreaterThan(HardCapPerOp) {
		b.PerOp = HardCapPerOp
	}
	if b.PerDay.GreaterThan(HardCapPerDay) {
		b.PerDay = HardCapPerDay
	}
	if b.PerMonth.GreaterThan(HardCapPerMonth) {
		b.PerMonth = HardCapPerMonth
	}
	return nil
}
