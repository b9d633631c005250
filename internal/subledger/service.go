package subledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records subledger events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// OperationObserver receives one observation per service call.
type OperationObserver interface {
	ObserveOperation(module, operation, outcome string, elapsed time.Duration)
}

// Service keeps receivables and payables in step with their payments.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics OperationObserver
	now     func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics enables per-operation observations.
func (s *Service) WithMetrics(m OperationObserver) {
	s.metrics = m
}

// CreateReceivable records an amount owed by a customer.
func (s *Service) CreateReceivable(ctx context.Context, in CreateInput) (Document, error) {
	in.Kind = KindReceivable
	return s.create(ctx, in)
}

// CreatePayable records an amount owed to a supplier.
func (s *Service) CreatePayable(ctx context.Context, in CreateInput) (Document, error) {
	in.Kind = KindPayable
	return s.create(ctx, in)
}

func (s *Service) create(ctx context.Context, in CreateInput) (_ Document, err error) {
	defer s.observe("create", time.Now(), &err)
	if err := in.Validate(); err != nil {
		return Document{}, err
	}
	var doc Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.InsertDocument(ctx, Document{
			TenantID:       in.TenantID,
			Kind:           in.Kind,
			CounterpartyID: in.CounterpartyID,
			InvoiceRef:     in.InvoiceRef,
			JournalEntryID: in.JournalEntryID,
			TotalAmount:    in.Amount,
			AmountPaid:     decimal.Zero,
			DueDate:        shared.DateOnly(in.DueDate),
			Status:         StatusUnpaid,
		})
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, in.TenantID, in.ActorID, "subledger.create", doc.ID, map[string]any{
		"kind":        string(doc.Kind),
		"invoice_ref": doc.InvoiceRef,
		"amount":      doc.TotalAmount.String(),
	})
	return doc.withRemaining(), nil
}

// ApplyPayment settles part or all of one document.
func (s *Service) ApplyPayment(ctx context.Context, tenantID, documentID int64, amount decimal.Decimal, actorID int64) (_ Document, err error) {
	defer s.observe("apply_payment", time.Now(), &err)
	if !amount.IsPositive() {
		return Document{}, ErrInvalidAmount
	}
	if !fitsScale(amount) {
		return Document{}, ErrInvalidPrecision
	}
	var doc Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		docs, err := tx.LockDocuments(ctx, tenantID, []int64{documentID})
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return ErrDocumentNotFound
		}
		payment, err := s.allocate(ctx, tx, PaymentInput{
			TenantID:       tenantID,
			Kind:           docs[0].Kind,
			CounterpartyID: docs[0].CounterpartyID,
			Amount:         amount,
			ActorID:        actorID,
			Allocations:    []Allocation{{DocumentID: documentID, Amount: amount}},
		}, docs)
		if err != nil {
			return err
		}
		doc = payment.Documents[0]
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, tenantID, actorID, "subledger.payment", documentID, map[string]any{
		"amount": amount.String(),
		"status": string(doc.Status),
	})
	return doc, nil
}

// AllocatePayment records one payment split over several documents. Every
// allocation is checked against the locked rows before anything is written,
// so either all documents move or none do.
func (s *Service) AllocatePayment(ctx context.Context, in PaymentInput) (_ Payment, err error) {
	defer s.observe("allocate_payment", time.Now(), &err)
	if err := in.Validate(); err != nil {
		return Payment{}, err
	}
	ids := make([]int64, 0, len(in.Allocations))
	for _, a := range in.Allocations {
		ids = append(ids, a.DocumentID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var payment Payment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		docs, err := tx.LockDocuments(ctx, in.TenantID, ids)
		if err != nil {
			return err
		}
		payment, err = s.allocate(ctx, tx, in, docs)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	s.record(ctx, in.TenantID, in.ActorID, "subledger.allocate", payment.ID, map[string]any{
		"amount":      payment.Amount.String(),
		"allocations": len(payment.Allocations),
	})
	return payment, nil
}

func (s *Service) allocate(ctx context.Context, tx TxRepository, in PaymentInput, locked []Document) (Payment, error) {
	if err := in.Validate(); err != nil {
		return Payment{}, err
	}
	byID := make(map[int64]Document, len(locked))
	for _, d := range locked {
		byID[d.ID] = d
	}
	for _, a := range in.Allocations {
		doc, ok := byID[a.DocumentID]
		if !ok {
			return Payment{}, fmt.Errorf("%w: %d", ErrDocumentNotFound, a.DocumentID)
		}
		if doc.Kind != in.Kind {
			return Payment{}, fmt.Errorf("%w: document %d is %s", ErrInvalidKind, doc.ID, doc.Kind)
		}
		if doc.CounterpartyID != in.CounterpartyID {
			return Payment{}, ErrCounterpartyMismatch
		}
		if doc.Status == StatusCancelled {
			return Payment{}, ErrDocumentCancelled
		}
		remaining := doc.TotalAmount.Sub(doc.AmountPaid)
		if a.Amount.GreaterThan(remaining) {
			return Payment{}, &OverpaymentError{DocumentID: doc.ID, Requested: a.Amount, Remaining: remaining}
		}
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	payment, err := tx.InsertPayment(ctx, Payment{
		TenantID:       in.TenantID,
		Kind:           in.Kind,
		CounterpartyID: in.CounterpartyID,
		Amount:         in.Amount,
		Reference:      in.Reference,
		PaidAt:         paidAt,
	})
	if err != nil {
		return Payment{}, err
	}
	if err := tx.InsertAllocations(ctx, payment.ID, in.Allocations); err != nil {
		return Payment{}, err
	}
	payment.Allocations = in.Allocations
	for _, a := range in.Allocations {
		doc := byID[a.DocumentID]
		paid := doc.AmountPaid.Add(a.Amount)
		updated, err := tx.AddPaid(ctx, in.TenantID, doc.ID, a.Amount, statusFor(doc.TotalAmount, paid))
		if err != nil {
			return Payment{}, err
		}
		payment.Documents = append(payment.Documents, updated.withRemaining())
	}
	return payment, nil
}

// CancelByJournal cancels the document created with a journal entry that is
// being voided. Documents with payments cannot be cancelled.
func (s *Service) CancelByJournal(ctx context.Context, tenantID, entryID, actorID int64) (_ Document, err error) {
	defer s.observe("cancel", time.Now(), &err)
	var doc Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocumentByJournal(ctx, tenantID, entryID)
		if err != nil {
			return err
		}
		if doc.Status == StatusCancelled {
			return nil
		}
		if doc.AmountPaid.IsPositive() {
			return ErrDocumentHasPayments
		}
		if err := tx.SetStatus(ctx, tenantID, doc.ID, StatusCancelled); err != nil {
			return err
		}
		doc.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, tenantID, actorID, "subledger.cancel", doc.ID, map[string]any{"journal_entry_id": entryID})
	return doc.withRemaining(), nil
}

// GetDocument loads one document.
func (s *Service) GetDocument(ctx context.Context, tenantID, id int64) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetDocument(ctx, tenantID, id)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	return doc.withRemaining(), nil
}

// AgingReport groups outstanding balances per counterparty into overdue
// buckets as of asOf. Each open document lands in exactly one bucket.
func (s *Service) AgingReport(ctx context.Context, tenantID int64, kind Kind, asOf time.Time) ([]CounterpartyAging, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	var docs []Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		docs, err = tx.OpenDocuments(ctx, tenantID, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Age(docs, asOf), nil
}

// Age buckets open documents per counterparty, ordered by counterparty id.
func Age(docs []Document, asOf time.Time) []CounterpartyAging {
	asOf = shared.DateOnly(asOf)
	rows := make(map[int64]*CounterpartyAging)
	for _, d := range docs {
		if d.Status == StatusPaid || d.Status == StatusCancelled {
			continue
		}
		remaining := d.TotalAmount.Sub(d.AmountPaid)
		if !remaining.IsPositive() {
			continue
		}
		row, ok := rows[d.CounterpartyID]
		if !ok {
			row = &CounterpartyAging{CounterpartyID: d.CounterpartyID}
			rows[d.CounterpartyID] = row
		}
		row.add(BucketFor(DaysOverdue(asOf, shared.DateOnly(d.DueDate))), remaining)
	}
	out := make([]CounterpartyAging, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CounterpartyID < out[j].CounterpartyID })
	return out
}

func (s *Service) record(ctx context.Context, tenantID, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "subledger_document",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	})
}

func (s *Service) observe(operation string, started time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrOverpayment):
		outcome = "overpayment"
	case errors.Is(*err, ErrAllocationMismatch):
		outcome = "allocation_mismatch"
	default:
		outcome = "error"
	}
	s.metrics.ObserveOperation("subledger", operation, outcome, time.Since(started))
}
