package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset             AccountType = "ASSET"
	AccountTypeCurrentAsset      AccountType = "CURRENT_ASSET"
	AccountTypeFixedAsset        AccountType = "FIXED_ASSET"
	AccountTypeContraAsset       AccountType = "CONTRA_ASSET"
	AccountTypeLiability         AccountType = "LIABILITY"
	AccountTypeCurrentLiability  AccountType = "CURRENT_LIABILITY"
	AccountTypeLongTermLiability AccountType = "LONG_TERM_LIABILITY"
	AccountTypeEquity            AccountType = "EQUITY"
	AccountTypeRevenue           AccountType = "REVENUE"
	AccountTypeOtherRevenue      AccountType = "OTHER_REVENUE"
	AccountTypeContraRevenue     AccountType = "CONTRA_REVENUE"
	AccountTypeExpense           AccountType = "EXPENSE"
	AccountTypeCOGS              AccountType = "COST_OF_GOODS_SOLD"
	AccountTypeOtherExpense      AccountType = "OTHER_EXPENSE"
)

// NormalBalance is the side on which an account balance increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// Direction is the side a posting amount lands on.
type Direction = NormalBalance

const (
	Debit  Direction = NormalDebit
	Credit Direction = NormalCredit
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen            PeriodStatus = "OPEN"
	PeriodStatusClosedPermanent PeriodStatus = "CLOSED_PERMANENT"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft     JournalStatus = "DRAFT"
	JournalStatusPosted    JournalStatus = "POSTED"
	JournalStatusCancelled JournalStatus = "CANCELLED"
)

// Account models a chart of accounts node.
type Account struct {
	ID             int64
	TenantID       int64
	Code           string
	Name           string
	Type           AccountType
	ParentID       *int64
	Level          int
	IsHeader       bool
	NormalBalance  NormalBalance
	OpeningBalance decimal.Decimal
	RunningBalance decimal.Decimal
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Period represents one accounting month of a tenant.
type Period struct {
	ID        int64
	TenantID  int64
	Year      int
	Month     int
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
	ClosedAt  *time.Time
	ClosedBy  *int64
}

// Contains reports whether date falls inside the period, inclusive.
func (p Period) Contains(date time.Time) bool {
	d := shared.DateOnly(date)
	return !d.Before(shared.DateOnly(p.StartDate)) && !d.After(shared.DateOnly(p.EndDate))
}

// JournalEntry is the voucher/general-journal pair for one business event.
type JournalEntry struct {
	ID           int64
	TenantID     int64
	Number       string
	Kind         string
	Date         time.Time
	Description  string
	Status       JournalStatus
	TotalDebit   decimal.Decimal
	TotalCredit  decimal.Decimal
	SourceModule string
	SourceRef    string
	CreatedBy    int64
	PostedAt     *time.Time
	VoidedAt     *time.Time
	VoidedBy     *int64
	VoidReason   string
	CreatedAt    time.Time
	Legs         []JournalLeg
}

// JournalLeg stores one (account, debit, credit) line.
type JournalLeg struct {
	ID          int64
	EntryID     int64
	AccountID   int64
	Sequence    int
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// Net returns debit minus credit.
func (l JournalLeg) Net() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// BalanceChange reports a running balance before and after one application.
type BalanceChange struct {
	AccountID int64
	Before    decimal.Decimal
	After     decimal.Decimal
}

// AccountMapping links integration keys to ledger accounts.
type AccountMapping struct {
	TenantID  int64
	Module    string
	Key       string
	AccountID int64
}

// LegInput describes a journal leg for a posting request.
type LegInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	TenantID     int64
	Date         time.Time
	Description  string
	Kind         string
	Prefix       string
	SourceModule string
	SourceRef    string
	ActorID      int64
	Legs         []LegInput
}

// PostingResult is the persisted entry plus every balance it moved.
type PostingResult struct {
	Entry   JournalEntry
	Changes []BalanceChange
}

// VoidInput wraps parameters for voiding. Document journals are only voided
// by the integration layer, which sets Document and undoes the side effects.
type VoidInput struct {
	TenantID int64
	EntryID  int64
	ActorID  int64
	Reason   string
	Document bool
}

// ReverseInput wraps parameters for a reversing entry. A zero Date reuses the
// original date, or the first day of the next open period when the original
// period is closed.
type ReverseInput struct {
	TenantID int64
	EntryID  int64
	Date     time.Time
	ActorID  int64
	Memo     string
}

// SourceModuleReversal links a reversing entry to its original.
const SourceModuleReversal = "REVERSAL"

// IsManualKind reports whether journals of kind are owned by the ledger itself
// rather than a business document.
func IsManualKind(kind string) bool {
	return kind == shared.KindJournalVoucher || kind == shared.KindReversal
}

// CreateAccountInput describes a new chart of accounts node.
type CreateAccountInput struct {
	TenantID       int64
	Code           string
	Name           string
	Type           AccountType
	ParentID       *int64
	IsHeader       bool
	OpeningBalance decimal.Decimal
	ActorID        int64
}

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	From   time.Time
	To     time.Time
	Status JournalStatus
	Limit  int
	Offset int
}

// TrialBalanceRow is a leaf account balance split into debit/credit columns.
type TrialBalanceRow struct {
	AccountID int64
	Code      string
	Name      string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

var balanceTolerance = decimal.New(1, -2)

var (
	// ErrUnbalancedEntry indicates debit and credit totals differ beyond tolerance.
	ErrUnbalancedEntry = errors.New("accounting: journal legs must balance")
	// ErrTooFewLegs indicates less than two legs.
	ErrTooFewLegs = errors.New("accounting: journal requires at least two legs")
	// ErrInvalidLeg indicates a negative or empty leg.
	ErrInvalidLeg = errors.New("accounting: invalid journal leg")
	// ErrPeriodClosed indicates the date falls in a permanently closed period.
	ErrPeriodClosed = errors.New("accounting: period closed")
	// ErrPeriodNotFound indicates no period covers the date.
	ErrPeriodNotFound = errors.New("accounting: period not found")
	// ErrPeriodExists indicates the tenant already has the period.
	ErrPeriodExists = errors.New("accounting: period already exists")
	// ErrHeaderPosting indicates a posting against an aggregation-only account.
	ErrHeaderPosting = errors.New("accounting: header accounts cannot receive postings")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrAccountInactive indicates a deactivated account.
	ErrAccountInactive = errors.New("accounting: account inactive")
	// ErrAccountInUse blocks removal of accounts with postings or children.
	ErrAccountInUse = errors.New("accounting: account has postings or children")
	// ErrAccountHasBalance blocks removal of accounts carrying an opening balance.
	ErrAccountHasBalance = errors.New("accounting: account balance must be zero")
	// ErrAccountCodeTaken indicates a duplicate code within the tenant.
	ErrAccountCodeTaken = errors.New("accounting: account code already used")
	// ErrParentNotHeader indicates a child under a postable account.
	ErrParentNotHeader = errors.New("accounting: parent account must be a header")
	// ErrInvalidAccountType indicates a type outside the closed enum.
	ErrInvalidAccountType = errors.New("accounting: invalid account type")
	// ErrInvalidOpeningBalance indicates an opening balance finer than four decimals.
	ErrInvalidOpeningBalance = errors.New("accounting: opening balance exceeds four decimals")
	// ErrAlreadyVoid indicates a double void.
	ErrAlreadyVoid = errors.New("accounting: journal already void")
	// ErrAlreadyReversed indicates the entry already has an active reversal.
	ErrAlreadyReversed = errors.New("accounting: journal already reversed")
	// ErrDocumentJournal indicates a document journal touched outside its document flow.
	ErrDocumentJournal = errors.New("accounting: document journals are voided through their document")
	// ErrNoOpenPeriod indicates no open period follows a closed one.
	ErrNoOpenPeriod = errors.New("accounting: no open period after closed period")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = errors.New("accounting: account mapping not found")
)

// UnbalancedEntryError carries the totals of a rejected entry.
type UnbalancedEntryError struct {
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("%s: debit %s != credit %s", ErrUnbalancedEntry, e.TotalDebit.StringFixed(2), e.TotalCredit.StringFixed(2))
}

// Is matches ErrUnbalancedEntry.
func (e *UnbalancedEntryError) Is(target error) bool {
	return target == ErrUnbalancedEntry
}

// LegError points at the offending leg.
type LegError struct {
	Index     int
	AccountID int64
	Err       error
}

func (e *LegError) Error() string {
	return fmt.Sprintf("leg %d (account %d): %v", e.Index, e.AccountID, e.Err)
}

func (e *LegError) Unwrap() error { return e.Err }

// Validate ensures posting input meets minimum criteria and returns the totals.
func (in PostingInput) Validate() (decimal.Decimal, decimal.Decimal, error) {
	if in.TenantID == 0 {
		return decimal.Zero, decimal.Zero, errors.New("accounting: tenant required")
	}
	if in.Date.IsZero() {
		return decimal.Zero, decimal.Zero, errors.New("accounting: date required")
	}
	if len(in.Legs) < 2 {
		return decimal.Zero, decimal.Zero, ErrTooFewLegs
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, leg := range in.Legs {
		if leg.AccountID == 0 {
			return decimal.Zero, decimal.Zero, &LegError{Index: idx, Err: fmt.Errorf("%w: missing account", ErrInvalidLeg)}
		}
		if leg.Debit.IsNegative() || leg.Credit.IsNegative() {
			return decimal.Zero, decimal.Zero, &LegError{Index: idx, AccountID: leg.AccountID, Err: fmt.Errorf("%w: negative amount", ErrInvalidLeg)}
		}
		if !leg.Debit.Equal(leg.Debit.Truncate(4)) || !leg.Credit.Equal(leg.Credit.Truncate(4)) {
			return decimal.Zero, decimal.Zero, &LegError{Index: idx, AccountID: leg.AccountID, Err: fmt.Errorf("%w: more than 4 decimal places", ErrInvalidLeg)}
		}
		if leg.Debit.IsZero() && leg.Credit.IsZero() {
			return decimal.Zero, decimal.Zero, &LegError{Index: idx, AccountID: leg.AccountID, Err: fmt.Errorf("%w: zero amount", ErrInvalidLeg)}
		}
		debit = debit.Add(leg.Debit)
		credit = credit.Add(leg.Credit)
	}
	if debit.Sub(credit).Abs().GreaterThan(balanceTolerance) {
		return debit, credit, &UnbalancedEntryError{TotalDebit: debit, TotalCredit: credit}
	}
	return debit, credit, nil
}

// Validate checks a new account request.
func (in CreateAccountInput) Validate() error {
	if in.TenantID == 0 {
		return errors.New("accounting: tenant required")
	}
	if in.Code == "" || in.Name == "" {
		return errors.New("accounting: code and name required")
	}
	if _, err := NormalBalanceFor(in.Type); err != nil {
		return err
	}
	if !in.OpeningBalance.Equal(in.OpeningBalance.Truncate(4)) {
		return ErrInvalidOpeningBalance
	}
	return nil
}
