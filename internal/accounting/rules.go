package accounting

import (
	"sort"

	"github.com/shopspring/decimal"
)

// NormalBalanceFor returns the fixed polarity of an account type.
func NormalBalanceFor(t AccountType) (NormalBalance, error) {
	switch t {
	case AccountTypeAsset, AccountTypeCurrentAsset, AccountTypeFixedAsset,
		AccountTypeExpense, AccountTypeCOGS, AccountTypeOtherExpense,
		AccountTypeContraRevenue:
		return NormalDebit, nil
	case AccountTypeLiability, AccountTypeCurrentLiability, AccountTypeLongTermLiability,
		AccountTypeEquity, AccountTypeRevenue, AccountTypeOtherRevenue,
		AccountTypeContraAsset:
		return NormalCredit, nil
	default:
		return "", ErrInvalidAccountType
	}
}

// IsNominal reports whether the type is closed into equity at period end.
func IsNominal(t AccountType) bool {
	switch t {
	case AccountTypeRevenue, AccountTypeOtherRevenue, AccountTypeContraRevenue,
		AccountTypeExpense, AccountTypeCOGS, AccountTypeOtherExpense:
		return true
	}
	return false
}

// Adjustment is the signed change to a running balance when amount lands on
// direction. It is the only sign rule in the ledger: a posting on the
// account's normal side increases its balance, the other side decreases it.
func Adjustment(normal NormalBalance, direction Direction, amount decimal.Decimal) decimal.Decimal {
	if direction == normal {
		return amount
	}
	return amount.Neg()
}

// Restate expresses a balance delta kept in polarity from in polarity to, so
// a credit-normal child moves a debit-normal header the other way.
func Restate(delta decimal.Decimal, from, to NormalBalance) decimal.Decimal {
	if from == to {
		return delta
	}
	return delta.Neg()
}

// netPosting turns a debit-minus-credit net into a direction and a positive
// amount.
func netPosting(net decimal.Decimal) (Direction, decimal.Decimal) {
	if net.IsNegative() {
		return Credit, net.Neg()
	}
	return Debit, net
}

// applyOrder returns leg indexes sorted by account id so every transaction
// locks account rows in the same order.
func applyOrder(legs []JournalLeg) []int {
	idx := make([]int, len(legs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return legs[idx[a]].AccountID < legs[idx[b]].AccountID
	})
	return idx
}

// TrialBalanceColumns splits a running balance into debit/credit columns.
func TrialBalanceColumns(a Account) (decimal.Decimal, decimal.Decimal) {
	bal := a.RunningBalance
	if a.NormalBalance == NormalCredit {
		bal = bal.Neg()
	}
	if bal.IsNegative() {
		return decimal.Zero, bal.Neg()
	}
	return bal, decimal.Zero
}
