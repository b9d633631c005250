package close

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// SourceModule tags closing journals in source links.
const SourceModule = "CLOSE"

// ClosePeriodInput identifies the period to close.
type ClosePeriodInput struct {
	TenantID                  int64
	Year                      int
	Month                     int
	ActorID                   int64
	RetainedEarningsAccountID int64
}

// Validate checks the request fields.
func (in ClosePeriodInput) Validate() error {
	if in.TenantID == 0 {
		return errors.New("close: tenant required")
	}
	return nil
}

// AccountActivity is the posted debit-minus-credit of one account in a period.
type AccountActivity struct {
	AccountID int64
	Code      string
	Type      accounting.AccountType
	Net       decimal.Decimal
}

// CloseResult reports the closed period and the closing journal, if any.
type CloseResult struct {
	Period       accounting.Period
	ClosingEntry *accounting.JournalEntry
	NetIncome    decimal.Decimal
}

var (
	// ErrDraftsOutstanding blocks a close while drafts remain in the period.
	ErrDraftsOutstanding = errors.New("close: draft entries outstanding")
	// ErrRetainedEarningsRequired indicates no retained earnings account is known.
	ErrRetainedEarningsRequired = errors.New("close: retained earnings account required")
	// ErrCloseInProgress indicates another close holds the period lock.
	ErrCloseInProgress = errors.New("close: close already in progress")
)

// DraftsOutstandingError carries the number of blocking drafts.
type DraftsOutstandingError struct {
	Count int
}

func (e *DraftsOutstandingError) Error() string {
	return fmt.Sprintf("%s: %d", ErrDraftsOutstanding, e.Count)
}

// Is matches ErrDraftsOutstanding.
func (e *DraftsOutstandingError) Is(target error) bool {
	return target == ErrDraftsOutstanding
}

// closingLegs reverses each account's net against retained earnings. Net
// income is the credit-side total that lands on retained earnings.
func closingLegs(activity []AccountActivity, retainedEarningsID int64) ([]accounting.LegInput, decimal.Decimal) {
	legs := make([]accounting.LegInput, 0, len(activity)+1)
	total := decimal.Zero
	for _, a := range activity {
		if a.Net.IsZero() {
			continue
		}
		leg := accounting.LegInput{AccountID: a.AccountID, Description: "close " + a.Code}
		if a.Net.IsPositive() {
			leg.Credit = a.Net
		} else {
			leg.Debit = a.Net.Neg()
		}
		legs = append(legs, leg)
		total = total.Add(a.Net)
	}
	if len(legs) == 0 {
		return nil, decimal.Zero
	}
	re := accounting.LegInput{AccountID: retainedEarningsID, Description: "retained earnings"}
	switch {
	case total.IsPositive():
		re.Debit = total
	case total.IsNegative():
		re.Credit = total.Neg()
	default:
		return legs, decimal.Zero
	}
	return append(legs, re), total.Neg()
}
