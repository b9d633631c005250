package jobs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// UnbalancedEntry is a posted journal whose legs do not net to zero.
type UnbalancedEntry struct {
	EntryID int64
	Number  string
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// HeaderDrift is a header account whose balance differs from its children.
type HeaderDrift struct {
	AccountID   int64
	Code        string
	Balance     decimal.Decimal
	ChildrenSum decimal.Decimal
}

// Store runs the read-only integrity queries.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListTenants returns every tenant that owns accounts.
func (s *Store) ListTenants(ctx context.Context) ([]int64, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("jobs: store not configured")
	}
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM accounts ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UnbalancedEntries lists posted journals whose leg sums disagree with each
// other or with the stored totals.
func (s *Store) UnbalancedEntries(ctx context.Context, tenantID int64) ([]UnbalancedEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT e.id, e.number, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_entries e
LEFT JOIN journal_legs l ON l.entry_id = e.id
WHERE e.tenant_id=$1 AND e.status='POSTED'
GROUP BY e.id, e.number, e.total_debit, e.total_credit
HAVING ABS(COALESCE(SUM(l.debit), 0) - COALESCE(SUM(l.credit), 0)) > 0.01
    OR COALESCE(SUM(l.debit), 0) <> e.total_debit
ORDER BY e.id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedEntry
	for rows.Next() {
		var u UnbalancedEntry
		if err := rows.Scan(&u.EntryID, &u.Number, &u.Debit, &u.Credit); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// PostedResidual sums debit minus credit over posted journals, i.e. the
// rounding differences accepted at posting time.
func (s *Store) PostedResidual(ctx context.Context, tenantID int64) (decimal.Decimal, error) {
	var residual decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total_debit - total_credit), 0)
FROM journal_entries WHERE tenant_id=$1 AND status='POSTED'`, tenantID).Scan(&residual)
	return residual, err
}

// HeaderDrift lists header accounts whose running balance is not the sum of
// their direct children, each restated in the header's polarity.
func (s *Store) HeaderDrift(ctx context.Context, tenantID int64) ([]HeaderDrift, error) {
	rows, err := s.pool.Query(ctx, `SELECT h.id, h.code, h.running_balance, COALESCE(SUM(
  CASE WHEN c.normal_balance = h.normal_balance THEN c.running_balance ELSE -c.running_balance END), 0) AS children
FROM accounts h
LEFT JOIN accounts c ON c.parent_id = h.id AND c.tenant_id = h.tenant_id
WHERE h.tenant_id=$1 AND h.is_header
GROUP BY h.id, h.code, h.running_balance
HAVING h.running_balance <> COALESCE(SUM(
  CASE WHEN c.normal_balance = h.normal_balance THEN c.running_balance ELSE -c.running_balance END), 0)
ORDER BY h.id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HeaderDrift
	for rows.Next() {
		var d HeaderDrift
		if err := rows.Scan(&d.AccountID, &d.Code, &d.Balance, &d.ChildrenSum); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
