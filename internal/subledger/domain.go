package subledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Kind separates receivables from payables.
type Kind string

const (
	KindReceivable Kind = "RECEIVABLE"
	KindPayable    Kind = "PAYABLE"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindReceivable || k == KindPayable
}

// Status enumerates document settlement states.
type Status string

const (
	StatusUnpaid        Status = "UNPAID"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusCancelled     Status = "CANCELLED"
)

// Document is an open item owed by or to a counterparty.
type Document struct {
	ID              int64
	TenantID        int64
	Kind            Kind
	CounterpartyID  int64
	InvoiceRef      string
	JournalEntryID  *int64
	TotalAmount     decimal.Decimal
	AmountPaid      decimal.Decimal
	AmountRemaining decimal.Decimal
	DueDate         time.Time
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (d Document) withRemaining() Document {
	d.AmountRemaining = d.TotalAmount.Sub(d.AmountPaid)
	return d
}

// statusFor derives the settlement status from the paid amount.
func statusFor(total, paid decimal.Decimal) Status {
	switch {
	case paid.IsZero():
		return StatusUnpaid
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	default:
		return StatusPartiallyPaid
	}
}

// CreateInput describes a new receivable or payable.
type CreateInput struct {
	TenantID       int64
	Kind           Kind
	CounterpartyID int64
	InvoiceRef     string
	Amount         decimal.Decimal
	DueDate        time.Time
	JournalEntryID *int64
	ActorID        int64
}

// Allocation assigns part of a payment to one document.
type Allocation struct {
	DocumentID int64
	Amount     decimal.Decimal
}

// PaymentInput is a tendered amount split over documents.
type PaymentInput struct {
	TenantID       int64
	Kind           Kind
	CounterpartyID int64
	Amount         decimal.Decimal
	Reference      string
	PaidAt         time.Time
	Allocations    []Allocation
	ActorID        int64
}

// Payment is a recorded settlement.
type Payment struct {
	ID             int64
	TenantID       int64
	Kind           Kind
	CounterpartyID int64
	Amount         decimal.Decimal
	Reference      string
	PaidAt         time.Time
	Allocations    []Allocation
	Documents      []Document
}

// AgingBucket names the overdue ranges.
type AgingBucket string

const (
	BucketCurrent AgingBucket = "current"
	Bucket1To30   AgingBucket = "1-30"
	Bucket31To60  AgingBucket = "31-60"
	Bucket61To90  AgingBucket = "61-90"
	BucketOver90  AgingBucket = "90+"
)

const hoursPerDay = 24

// DaysOverdue is floor((asOf - due) / 24h).
func DaysOverdue(asOf, due time.Time) int {
	return int(math.Floor(asOf.Sub(due).Hours() / hoursPerDay))
}

// BucketFor places a days-overdue count in exactly one bucket.
func BucketFor(days int) AgingBucket {
	switch {
	case days <= 0:
		return BucketCurrent
	case days <= 30:
		return Bucket1To30
	case days <= 60:
		return Bucket31To60
	case days <= 90:
		return Bucket61To90
	default:
		return BucketOver90
	}
}

// CounterpartyAging totals outstanding amounts per bucket.
type CounterpartyAging struct {
	CounterpartyID int64
	Current        decimal.Decimal
	Days1To30      decimal.Decimal
	Days31To60     decimal.Decimal
	Days61To90     decimal.Decimal
	Over90         decimal.Decimal
	Total          decimal.Decimal
}

func (a *CounterpartyAging) add(bucket AgingBucket, amount decimal.Decimal) {
	switch bucket {
	case BucketCurrent:
		a.Current = a.Current.Add(amount)
	case Bucket1To30:
		a.Days1To30 = a.Days1To30.Add(amount)
	case Bucket31To60:
		a.Days31To60 = a.Days31To60.Add(amount)
	case Bucket61To90:
		a.Days61To90 = a.Days61To90.Add(amount)
	default:
		a.Over90 = a.Over90.Add(amount)
	}
	a.Total = a.Total.Add(amount)
}

var (
	// ErrOverpayment indicates a payment larger than the remaining balance.
	ErrOverpayment = errors.New("subledger: payment exceeds remaining balance")
	// ErrAllocationMismatch indicates allocations do not sum to the tendered amount.
	ErrAllocationMismatch = errors.New("subledger: allocations must sum to payment amount")
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("subledger: amount must be positive")
	// ErrInvalidPrecision indicates an amount finer than the stored scale.
	ErrInvalidPrecision = errors.New("subledger: amount exceeds four decimals")
	// ErrInvalidKind indicates an unknown kind.
	ErrInvalidKind = errors.New("subledger: invalid kind")
	// ErrDocumentNotFound indicates missing document.
	ErrDocumentNotFound = errors.New("subledger: document not found")
	// ErrDocumentCancelled indicates a payment against a cancelled document.
	ErrDocumentCancelled = errors.New("subledger: document cancelled")
	// ErrDocumentHasPayments blocks cancelling a document with payments.
	ErrDocumentHasPayments = errors.New("subledger: document has payments")
	// ErrDuplicateInvoice indicates the invoice reference is already recorded.
	ErrDuplicateInvoice = errors.New("subledger: invoice reference already recorded")
	// ErrCounterpartyMismatch indicates an allocation to another counterparty's document.
	ErrCounterpartyMismatch = errors.New("subledger: document belongs to another counterparty")
)

// OverpaymentError carries the offending document and amounts.
type OverpaymentError struct {
	DocumentID int64
	Requested  decimal.Decimal
	Remaining  decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("%s: document %d requested %s remaining %s", ErrOverpayment, e.DocumentID, e.Requested.String(), e.Remaining.String())
}

// Is matches ErrOverpayment.
func (e *OverpaymentError) Is(target error) bool {
	return target == ErrOverpayment
}

// Validate checks a new document request.
func (in CreateInput) Validate() error {
	if in.TenantID == 0 {
		return shared.ErrTenantRequired
	}
	if !in.Kind.Valid() {
		return ErrInvalidKind
	}
	if in.CounterpartyID == 0 || in.InvoiceRef == "" {
		return errors.New("subledger: counterparty and invoice reference required")
	}
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !fitsScale(in.Amount) {
		return ErrInvalidPrecision
	}
	if in.DueDate.IsZero() {
		return errors.New("subledger: due date required")
	}
	return nil
}

// Validate checks allocation arithmetic without touching storage.
func (in PaymentInput) Validate() error {
	if in.TenantID == 0 {
		return shared.ErrTenantRequired
	}
	if !in.Kind.Valid() {
		return ErrInvalidKind
	}
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !fitsScale(in.Amount) {
		return ErrInvalidPrecision
	}
	if len(in.Allocations) == 0 {
		return ErrAllocationMismatch
	}
	seen := make(map[int64]struct{}, len(in.Allocations))
	sum := decimal.Zero
	for _, a := range in.Allocations {
		if a.DocumentID == 0 || !a.Amount.IsPositive() {
			return ErrInvalidAmount
		}
		if !fitsScale(a.Amount) {
			return ErrInvalidPrecision
		}
		if _, dup := seen[a.DocumentID]; dup {
			return fmt.Errorf("%w: document %d allocated twice", ErrAllocationMismatch, a.DocumentID)
		}
		seen[a.DocumentID] = struct{}{}
		sum = sum.Add(a.Amount)
	}
	if !sum.Equal(in.Amount) {
		return fmt.Errorf("%w: allocated %s of %s", ErrAllocationMismatch, sum.String(), in.Amount.String())
	}
	return nil
}

// fitsScale reports whether v fits the NUMERIC(20,4) columns unrounded.
func fitsScale(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(4))
}
