package close

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository exposes the period close queries.
type TxRepository interface {
	LockPeriod(ctx context.Context, tenantID int64, year, month int) (accounting.Period, error)
	CountDrafts(ctx context.Context, tenantID int64, from, to time.Time) (int, error)
	NominalActivity(ctx context.Context, tenantID int64, from, to time.Time) ([]AccountActivity, error)
	MarkClosed(ctx context.Context, tenantID, periodID, actorID int64, at time.Time) (accounting.Period, error)
	ListPeriods(ctx context.Context, tenantID int64, limit, offset int) ([]accounting.Period, error)
}

// Repository provides persistence for period close.
type Repository struct {
	runner *db.Runner
}

// NewRepository builds a repository.
func NewRepository(runner *db.Runner) *Repository {
	return &Repository{runner: runner}
}

// WithTx wraps operations inside the ambient or a new repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.runner == nil {
		return errors.New("close repository not initialised")
	}
	return r.runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

const periodColumns = `id, tenant_id, year, month, start_date, end_date, status, closed_at, closed_by`

func scanPeriod(row pgx.Row) (accounting.Period, error) {
	var p accounting.Period
	err := row.Scan(&p.ID, &p.TenantID, &p.Year, &p.Month, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounting.Period{}, accounting.ErrPeriodNotFound
		}
		return accounting.Period{}, err
	}
	return p, nil
}

// LockPeriod takes the row lock that serialises the close with postings
// holding FOR SHARE on the same row.
func (r *txRepo) LockPeriod(ctx context.Context, tenantID int64, year, month int) (accounting.Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE tenant_id=$1 AND year=$2 AND month=$3 FOR UPDATE`, tenantID, year, month))
}

func (r *txRepo) CountDrafts(ctx context.Context, tenantID int64, from, to time.Time) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries
WHERE tenant_id=$1 AND status='DRAFT' AND date BETWEEN $2 AND $3`, tenantID, from, to).Scan(&n)
	return n, err
}

func (r *txRepo) NominalActivity(ctx context.Context, tenantID int64, from, to time.Time) ([]AccountActivity, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.id, a.code, a.type, COALESCE(SUM(l.debit - l.credit), 0)
FROM journal_legs l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.tenant_id=$1 AND e.status='POSTED' AND e.date BETWEEN $2 AND $3
  AND a.is_header = FALSE
  AND a.type = ANY($4)
GROUP BY a.id, a.code, a.type
ORDER BY a.id`, tenantID, from, to, nominalTypes())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountActivity
	for rows.Next() {
		var a AccountActivity
		if err := rows.Scan(&a.AccountID, &a.Code, &a.Type, &a.Net); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepo) MarkClosed(ctx context.Context, tenantID, periodID, actorID int64, at time.Time) (accounting.Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `UPDATE accounting_periods
SET status=$3, closed_at=$4, closed_by=$5, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2
RETURNING `+periodColumns, tenantID, periodID, accounting.PeriodStatusClosedPermanent, at, actorID))
}

func (r *txRepo) ListPeriods(ctx context.Context, tenantID int64, limit, offset int) ([]accounting.Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE tenant_id=$1 ORDER BY year DESC, month DESC LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []accounting.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nominalTypes() []string {
	return []string{
		string(accounting.AccountTypeRevenue), string(accounting.AccountTypeOtherRevenue),
		string(accounting.AccountTypeContraRevenue), string(accounting.AccountTypeExpense),
		string(accounting.AccountTypeCOGS), string(accounting.AccountTypeOtherExpense),
	}
}
