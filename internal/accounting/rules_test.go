package accounting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAdjustmentFollowsNormalBalance(t *testing.T) {
	amt := decimal.NewFromInt(100)
	cases := []struct {
		normal    NormalBalance
		direction Direction
		want      int64
	}{
		{NormalDebit, Debit, 100},
		{NormalDebit, Credit, -100},
		{NormalCredit, Credit, 100},
		{NormalCredit, Debit, -100},
	}
	for _, tc := range cases {
		require.True(t, Adjustment(tc.normal, tc.direction, amt).Equal(decimal.NewFromInt(tc.want)), "%s/%s", tc.normal, tc.direction)
	}
}

func TestNormalBalanceFor(t *testing.T) {
	debitTypes := []AccountType{AccountTypeAsset, AccountTypeFixedAsset, AccountTypeCOGS, AccountTypeContraRevenue}
	for _, typ := range debitTypes {
		nb, err := NormalBalanceFor(typ)
		require.NoError(t, err)
		require.Equal(t, NormalDebit, nb)
	}
	creditTypes := []AccountType{AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeContraAsset}
	for _, typ := range creditTypes {
		nb, err := NormalBalanceFor(typ)
		require.NoError(t, err)
		require.Equal(t, NormalCredit, nb)
	}
	_, err := NormalBalanceFor("OTHER")
	require.ErrorIs(t, err, ErrInvalidAccountType)
	require.True(t, IsNominal(AccountTypeCOGS))
	require.False(t, IsNominal(AccountTypeEquity))
}

func TestApplyOrderSortsByAccount(t *testing.T) {
	legs := []JournalLeg{{AccountID: 9}, {AccountID: 3}, {AccountID: 5}, {AccountID: 3}}
	require.Equal(t, []int{1, 3, 2, 0}, applyOrder(legs))
}

func TestNetPostingAndColumns(t *testing.T) {
	dir, amt := netPosting(decimal.NewFromInt(-40))
	require.Equal(t, Credit, dir)
	require.True(t, amt.Equal(decimal.NewFromInt(40)))

	debit, credit := TrialBalanceColumns(Account{NormalBalance: NormalCredit, RunningBalance: decimal.NewFromInt(12)})
	require.True(t, debit.IsZero())
	require.True(t, credit.Equal(decimal.NewFromInt(12)))

	debit, credit = TrialBalanceColumns(Account{NormalBalance: NormalDebit, RunningBalance: decimal.NewFromInt(-3)})
	require.True(t, debit.IsZero())
	require.True(t, credit.Equal(decimal.NewFromInt(3)))
}

func TestRestateFlipsAcrossPolarity(t *testing.T) {
	require.True(t, Restate(decimal.NewFromInt(5), NormalDebit, NormalDebit).Equal(decimal.NewFromInt(5)))
	require.True(t, Restate(decimal.NewFromInt(5), NormalCredit, NormalDebit).Equal(decimal.NewFromInt(-5)))
}
