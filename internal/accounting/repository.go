package accounting

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetAccount(ctx context.Context, tenantID, id int64) (Account, error)
	GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error)
	ListAccounts(ctx context.Context, tenantID int64) ([]Account, error)
	InsertAccount(ctx context.Context, in CreateAccountInput, level int, normal NormalBalance) (Account, error)
	AccountUsage(ctx context.Context, tenantID, id int64) (legs int, children int, err error)
	DeactivateAccount(ctx context.Context, tenantID, id int64) error
	ApplyBalanceDelta(ctx context.Context, tenantID, id int64, delta decimal.Decimal) (before, after decimal.Decimal, err error)
	GetMapping(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error)
	GetPeriodForShare(ctx context.Context, tenantID int64, year, month int) (Period, error)
	NextOpenPeriodAfter(ctx context.Context, tenantID int64, after time.Time) (Period, error)
	InsertPeriod(ctx context.Context, p Period) (Period, error)
	NextDocumentNumber(ctx context.Context, tenantID int64, prefix, kind string, date time.Time) (string, error)
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLegs(ctx context.Context, entryID int64, legs []JournalLeg) ([]JournalLeg, error)
	LinkSource(ctx context.Context, tenantID int64, module string, ref uuid.UUID, entryID int64) error
	CancelSourceLink(ctx context.Context, tenantID, entryID int64) error
	SourceLinked(ctx context.Context, tenantID int64, module string, ref uuid.UUID) (bool, error)
	GetJournal(ctx context.Context, tenantID, id int64, forUpdate bool) (JournalEntry, error)
	ListJournals(ctx context.Context, tenantID int64, filter EntryFilter) ([]JournalEntry, error)
	MarkPosted(ctx context.Context, tenantID, id int64, at time.Time) error
	MarkCancelled(ctx context.Context, tenantID, id, actorID int64, reason string, at time.Time) error
}

// ErrSourceConflict indicates the source link already exists.
var ErrSourceConflict = errors.New("accounting: source link conflict")

// Repository persists accounting entities.
type Repository struct {
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.Runner) *Repository {
	return &Repository{runner: runner}
}

// WithTx executes fn within the ambient transaction or a new repeatable-read one.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.runner == nil {
		return errors.New("accounting repository not initialised")
	}
	return r.runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

const accountColumns = `id, tenant_id, code, name, type, parent_id, level, is_header, normal_balance,
opening_balance, running_balance, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Level, &a.IsHeader, &a.NormalBalance,
		&a.OpeningBalance, &a.RunningBalance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetAccount(ctx context.Context, tenantID, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

func (r *txRepository) GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND code=$2`, tenantID, code))
}

func (r *txRepository) ListAccounts(ctx context.Context, tenantID int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND is_active ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, in CreateAccountInput, level int, normal NormalBalance) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (tenant_id, code, name, type, parent_id, level, is_header, normal_balance, opening_balance, running_balance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9) RETURNING `+accountColumns,
		in.TenantID, in.Code, in.Name, in.Type, in.ParentID, level, in.IsHeader, normal, in.OpeningBalance)
	a, err := scanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_accounts_code") {
			return Account{}, ErrAccountCodeTaken
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) AccountUsage(ctx context.Context, tenantID, id int64) (int, int, error) {
	var legs, children int
	err := r.tx.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM journal_legs WHERE tenant_id=$1 AND account_id=$2),
  (SELECT COUNT(*) FROM accounts WHERE tenant_id=$1 AND parent_id=$2 AND is_active)`, tenantID, id).Scan(&legs, &children)
	return legs, children, err
}

func (r *txRepository) DeactivateAccount(ctx context.Context, tenantID, id int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET is_active=FALSE, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ApplyBalanceDelta adds delta in a single statement; the row lock it takes is
// held until the transaction ends.
func (r *txRepository) ApplyBalanceDelta(ctx context.Context, tenantID, id int64, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	var after decimal.Decimal
	err := r.tx.QueryRow(ctx, `UPDATE accounts SET running_balance = running_balance + $3, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 RETURNING running_balance`, tenantID, id, delta).Scan(&after)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, decimal.Zero, err
	}
	return after.Sub(delta), after, nil
}

func (r *txRepository) GetMapping(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error) {
	mapping := AccountMapping{TenantID: tenantID, Module: strings.ToUpper(module), Key: strings.ToUpper(key)}
	err := r.tx.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE tenant_id=$1 AND module=$2 AND key=$3`,
		tenantID, mapping.Module, mapping.Key).Scan(&mapping.AccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, ErrMappingNotFound
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

const periodColumns = `id, tenant_id, year, month, start_date, end_date, status, closed_at, closed_by`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.TenantID, &p.Year, &p.Month, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) GetPeriodForShare(ctx context.Context, tenantID int64, year, month int) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE tenant_id=$1 AND year=$2 AND month=$3 FOR SHARE`, tenantID, year, month))
}

func (r *txRepository) NextOpenPeriodAfter(ctx context.Context, tenantID int64, after time.Time) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE tenant_id=$1 AND start_date > $2 AND status='OPEN'
ORDER BY start_date ASC LIMIT 1 FOR SHARE`, tenantID, after))
	if errors.Is(err, ErrPeriodNotFound) {
		return Period{}, ErrNoOpenPeriod
	}
	return p, err
}

func (r *txRepository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	out, err := scanPeriod(r.tx.QueryRow(ctx, `INSERT INTO accounting_periods (tenant_id, year, month, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+periodColumns, p.TenantID, p.Year, p.Month, p.StartDate, p.EndDate, p.Status))
	if err != nil {
		if db.IsUniqueViolation(err, "uq_accounting_periods") {
			return Period{}, ErrPeriodExists
		}
		return Period{}, err
	}
	return out, nil
}

func (r *txRepository) NextDocumentNumber(ctx context.Context, tenantID int64, prefix, kind string, date time.Time) (string, error) {
	return shared.NextDocumentNumber(ctx, r.tx, tenantID, prefix, kind, date)
}

const journalColumns = `id, tenant_id, number, kind, date, description, status, total_debit, total_credit,
source_module, source_ref, COALESCE(created_by, 0), posted_at, voided_at, voided_by, void_reason, created_at`

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.Number, &e.Kind, &e.Date, &e.Description, &e.Status, &e.TotalDebit, &e.TotalCredit,
		&e.SourceModule, &e.SourceRef, &e.CreatedBy, &e.PostedAt, &e.VoidedAt, &e.VoidedBy, &e.VoidReason, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	return scanJournal(r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(tenant_id, number, kind, date, description, status, total_debit, total_credit, source_module, source_ref, created_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING `+journalColumns,
		e.TenantID, e.Number, e.Kind, e.Date, e.Description, e.Status, e.TotalDebit, e.TotalCredit,
		e.SourceModule, e.SourceRef, nullInt(e.CreatedBy), e.PostedAt))
}

func (r *txRepository) InsertJournalLegs(ctx context.Context, entryID int64, legs []JournalLeg) ([]JournalLeg, error) {
	var tenantID int64
	if err := r.tx.QueryRow(ctx, `SELECT tenant_id FROM journal_entries WHERE id=$1`, entryID).Scan(&tenantID); err != nil {
		return nil, err
	}
	batch := &pgx.Batch{}
	for _, leg := range legs {
		batch.Queue(`INSERT INTO journal_legs (entry_id, tenant_id, account_id, sequence, description, debit, credit)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, entryID, tenantID, leg.AccountID, leg.Sequence, leg.Description, leg.Debit, leg.Credit)
	}
	results := r.tx.SendBatch(ctx, batch)
	out := make([]JournalLeg, len(legs))
	for i, leg := range legs {
		leg.EntryID = entryID
		if err := results.QueryRow().Scan(&leg.ID); err != nil {
			_ = results.Close()
			return nil, err
		}
		out[i] = leg
	}
	return out, results.Close()
}

func (r *txRepository) LinkSource(ctx context.Context, tenantID int64, module string, ref uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (tenant_id, module, ref_id, entry_id) VALUES ($1,$2,$3,$4)`,
		tenantID, strings.ToUpper(module), ref, entryID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_source_links") {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) CancelSourceLink(ctx context.Context, tenantID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE source_links SET cancelled_at=NOW()
WHERE tenant_id=$1 AND entry_id=$2 AND cancelled_at IS NULL`, tenantID, entryID)
	return err
}

func (r *txRepository) SourceLinked(ctx context.Context, tenantID int64, module string, ref uuid.UUID) (bool, error) {
	var linked bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM source_links
WHERE tenant_id=$1 AND module=$2 AND ref_id=$3 AND cancelled_at IS NULL)`, tenantID, strings.ToUpper(module), ref).Scan(&linked)
	return linked, err
}

func (r *txRepository) GetJournal(ctx context.Context, tenantID, id int64, forUpdate bool) (JournalEntry, error) {
	query := `SELECT ` + journalColumns + ` FROM journal_entries WHERE tenant_id=$1 AND id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	entry, err := scanJournal(r.tx.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		return JournalEntry{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_id, sequence, description, debit, credit
FROM journal_legs WHERE entry_id=$1 ORDER BY sequence ASC`, id)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var leg JournalLeg
		if err := rows.Scan(&leg.ID, &leg.EntryID, &leg.AccountID, &leg.Sequence, &leg.Description, &leg.Debit, &leg.Credit); err != nil {
			return JournalEntry{}, err
		}
		entry.Legs = append(entry.Legs, leg)
	}
	return entry, rows.Err()
}

func (r *txRepository) ListJournals(ctx context.Context, tenantID int64, filter EntryFilter) ([]JournalEntry, error) {
	var sb strings.Builder
	args := []any{tenantID}
	sb.WriteString(`SELECT ` + journalColumns + ` FROM journal_entries WHERE tenant_id=$1`)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		sb.WriteString(` AND date >= $` + itoa(len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		sb.WriteString(` AND date <= $` + itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		sb.WriteString(` AND status = $` + itoa(len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	sb.WriteString(` ORDER BY date DESC, id DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args)))
	rows, err := r.tx.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) MarkPosted(ctx context.Context, tenantID, id int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='POSTED', posted_at=$3, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND status='DRAFT'`, tenantID, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) MarkCancelled(ctx context.Context, tenantID, id, actorID int64, reason string, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='CANCELLED', voided_at=$3, voided_by=$4, void_reason=$5, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND status<>'CANCELLED'`, tenantID, id, at, nullInt(actorID), reason)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAlreadyVoid
	}
	return nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
