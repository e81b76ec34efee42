// Package ledger implements the append-only cost ledger and the budget
// governor gating every provider submission. Amounts are fixed-point
// decimals; float math never touches money.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"scout/internal/logging"
	"scout/internal/store"
	"scout/internal/types"
)

// Ledger records spend entries. Entries are never mutated or deleted;
// corrections append new entries.
type Ledger struct {
	store *store.Store
}

// New creates a ledger over the store.
func New(st *store.Store) *Ledger {
	return &Ledger{store: st}
}

// Append records one cost entry.
func (l *Ledger) Append(entry types.CostEntry) error {
	return l.store.WithTx(func(tx *sql.Tx) error {
		return AppendTx(tx, entry)
	})
}

// AppendTx records a cost entry inside an existing transaction, used by
// the poller to commit the realized cost with the COMPLETED transition.
func AppendTx(tx *sql.Tx, entry types.CostEntry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	_, err := tx.Exec(`INSERT INTO cost_entries (job_id, provider, model, kind, amount, tokens_in, tokens_out, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.JobID, entry.Provider, entry.Model, string(entry.Kind), entry.Amount.String(),
		entry.TokensIn, entry.TokensOut, entry.OccurredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append cost entry: %w", err)
	}
	logging.Ledger("%s %s $%s job=%s %s/%s", entry.Kind, entry.Provider, entry.Amount.String(), entry.JobID, entry.Provider, entry.Model)
	return nil
}

// Period selects the accounting window for Sum.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// periodStart returns the UTC start of the accounting window.
func periodStart(p Period, now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// Sum totals realized spend in the period. Estimates never count toward
// budget consumption; only realized entries do.
func (l *Ledger) Sum(p Period) (decimal.Decimal, error) {
	return l.sum(p, "")
}

// SumProvider totals realized spend in the period for one provider.
func (l *Ledger) SumProvider(p Period, provider string) (decimal.Decimal, error) {
	return l.sum(p, provider)
}

func (l *Ledger) sum(p Period, provider string) (decimal.Decimal, error) {
	query := `SELECT COALESCE(amount, '0') FROM cost_entries WHERE kind = ?`
	args := []interface{}{string(types.CostRealized)}

	if start := periodStart(p, time.Now()); !start.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, start.Format(time.RFC3339Nano))
	}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, provider)
	}

	rows, err := l.store.DB().Query(query, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt ledger amount %q: %w", amount, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// Breakdown is spend grouped by provider and model for reporting.
type Breakdown struct {
	Provider  string
	Model     string
	Jobs      int
	Amount    decimal.Decimal
	TokensIn  int64
	TokensOut int64
}

// Report returns realized spend grouped by provider and model for the
// period, largest spend first.
func (l *Ledger) Report(p Period) ([]Breakdown, error) {
	query := `SELECT provider, model, COUNT(DISTINCT job_id), COALESCE(SUM(tokens_in),0), COALESCE(SUM(tokens_out),0)
		FROM cost_entries WHERE kind = ?`
	args := []interface{}{string(types.CostRealized)}
	if start := periodStart(p, time.Now()); !start.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, start.Format(time.RFC3339Nano))
	}
	query += ` GROUP BY provider, model`

	rows, err := l.store.DB().Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Breakdown
	for rows.Next() {
		var b Breakdown
		if err := rows.Scan(&b.Provider, &b.Model, &b.Jobs, &b.TokensIn, &b.TokensOut); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// SUM over TEXT would go through float; total each group in decimal.
	for i := range out {
		amount, err := l.groupAmount(p, out[i].Provider, out[i].Model)
		if err != nil {
			return nil, err
		}
		out[i].Amount = amount
	}

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Amount.GreaterThan(out[i].Amount) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (l *Ledger) groupAmount(p Period, provider, model string) (decimal.Decimal, error) {
	query := `SELECT amount FROM cost_entries WHERE kind = ? AND provider = ? AND model = ?`
	args := []interface{}{string(types.CostRealized), provider, model}
	if start := periodStart(p, time.Now()); !start.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, start.Format(time.RFC3339Nano))
	}

	rows, err := l.store.DB().Query(query, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// EntriesForJob returns every ledger entry touching a job, oldest first.
func (l *Ledger) EntriesForJob(jobID string) ([]types.CostEntry, error) {
	rows, err := l.store.DB().Query(`SELECT job_id, provider, model, kind, amount, tokens_in, tokens_out, occurred_at
		FROM cost_entries WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CostEntry
	for rows.Next() {
		var (
			e          types.CostEntry
			kind       string
			amount, at string
		)
		if err := rows.Scan(&e.JobID, &e.Provider, &e.Model, &kind, &amount, &e.TokensIn, &e.TokensOut, &at); err != nil {
			return nil, err
		}
		e.Kind = types.CostKind(kind)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if e.OccurredAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
