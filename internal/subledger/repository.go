package subledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertDocument(ctx context.Context, d Document) (Document, error)
	GetDocument(ctx context.Context, tenantID, id int64) (Document, error)
	GetDocumentByJournal(ctx context.Context, tenantID, entryID int64) (Document, error)
	LockDocuments(ctx context.Context, tenantID int64, ids []int64) ([]Document, error)
	AddPaid(ctx context.Context, tenantID, id int64, amount decimal.Decimal, status Status) (Document, error)
	SetStatus(ctx context.Context, tenantID, id int64, status Status) error
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	InsertAllocations(ctx context.Context, paymentID int64, allocations []Allocation) error
	OpenDocuments(ctx context.Context, tenantID int64, kind Kind) ([]Document, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	runner *db.Runner
}

// NewRepository creates a new repository instance.
func NewRepository(runner *db.Runner) *Repository {
	return &Repository{runner: runner}
}

// WithTx executes fn within the ambient or a new transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.runner == nil {
		return errors.New("subledger repository not initialised")
	}
	return r.runner.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

const documentColumns = `id, tenant_id, kind, counterparty_id, invoice_ref, journal_entry_id, total_amount, amount_paid,
due_date, status, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.TenantID, &d.Kind, &d.CounterpartyID, &d.InvoiceRef, &d.JournalEntryID, &d.TotalAmount,
		&d.AmountPaid, &d.DueDate, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}
	return d, nil
}

func scanDocuments(rows pgx.Rows, err error) ([]Document, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *txRepository) InsertDocument(ctx context.Context, d Document) (Document, error) {
	out, err := scanDocument(r.tx.QueryRow(ctx, `INSERT INTO subledger_documents
(tenant_id, kind, counterparty_id, invoice_ref, journal_entry_id, total_amount, amount_paid, due_date, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING `+documentColumns,
		d.TenantID, d.Kind, d.CounterpartyID, d.InvoiceRef, d.JournalEntryID, d.TotalAmount, d.AmountPaid, d.DueDate, d.Status))
	if err != nil {
		if db.IsUniqueViolation(err, "uq_subledger_invoice") {
			return Document{}, ErrDuplicateInvoice
		}
		return Document{}, err
	}
	return out, nil
}

func (r *txRepository) GetDocument(ctx context.Context, tenantID, id int64) (Document, error) {
	return scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM subledger_documents WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

func (r *txRepository) GetDocumentByJournal(ctx context.Context, tenantID, entryID int64) (Document, error) {
	return scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM subledger_documents
WHERE tenant_id=$1 AND journal_entry_id=$2 FOR UPDATE`, tenantID, entryID))
}

// LockDocuments locks rows in ascending id order.
func (r *txRepository) LockDocuments(ctx context.Context, tenantID int64, ids []int64) ([]Document, error) {
	return scanDocuments(r.tx.Query(ctx, `SELECT `+documentColumns+` FROM subledger_documents
WHERE tenant_id=$1 AND id = ANY($2) ORDER BY id FOR UPDATE`, tenantID, ids))
}

func (r *txRepository) AddPaid(ctx context.Context, tenantID, id int64, amount decimal.Decimal, status Status) (Document, error) {
	d, err := scanDocument(r.tx.QueryRow(ctx, `UPDATE subledger_documents
SET amount_paid = amount_paid + $3, status = $4, updated_at = NOW()
WHERE tenant_id=$1 AND id=$2 AND amount_paid + $3 <= total_amount
RETURNING `+documentColumns, tenantID, id, amount, status))
	if errors.Is(err, ErrDocumentNotFound) {
		return Document{}, ErrOverpayment
	}
	return d, err
}

func (r *txRepository) SetStatus(ctx context.Context, tenantID, id int64, status Status) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE subledger_documents SET status=$3, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`, tenantID, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO subledger_payments (tenant_id, kind, counterparty_id, amount, reference, paid_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, p.TenantID, p.Kind, p.CounterpartyID, p.Amount, p.Reference, p.PaidAt).Scan(&p.ID)
	return p, err
}

func (r *txRepository) InsertAllocations(ctx context.Context, paymentID int64, allocations []Allocation) error {
	batch := &pgx.Batch{}
	for _, a := range allocations {
		batch.Queue(`INSERT INTO subledger_allocations (payment_id, document_id, amount) VALUES ($1,$2,$3)`, paymentID, a.DocumentID, a.Amount)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) OpenDocuments(ctx context.Context, tenantID int64, kind Kind) ([]Document, error) {
	return scanDocuments(r.tx.Query(ctx, `SELECT `+documentColumns+` FROM subledger_documents
WHERE tenant_id=$1 AND kind=$2 AND status IN ('UNPAID', 'PARTIALLY_PAID') ORDER BY counterparty_id, due_date`, tenantID, kind))
}
