package ledger_test

import (
	"context"
	"testing"

	"bourse/internal/bourseerr"
	"bourse/internal/common"
	"bourse/internal/ledger"

	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *ledger.MemLedger {
	t.Helper()
	return ledger.NewMemLedger(nil)
}

func TestCreateAccount_InitialBalance(t *testing.T) {
	l := newLedger(t)
	acc, err := l.CreateAccount(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(common.InitialCashMinorUnits), acc.CashMinor)
	require.Equal(t, common.AccountActive, acc.Status)
}

func TestCreateAccount_Idempotent(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	first, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)
	second, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestReserveCash_InsufficientFunds(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)

	err = l.ReserveCash(ctx, acc.ID, acc.CashMinor+1, "order-1")
	require.ErrorIs(t, err, bourseerr.ErrInsufficientFunds)
}

func TestReserveAndReleaseCash_RoundTrips(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, l.ReserveCash(ctx, acc.ID, 10_000, "order-1"))
	balance, err := l.Balance(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, acc.CashMinor-10_000, balance)

	require.NoError(t, l.ReleaseCash(ctx, acc.ID, 10_000, "order-1"))
	balance, err = l.Balance(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, acc.CashMinor, balance)

	history, err := l.History(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, common.HistoryBuyStock, history[0].Type)
	require.Equal(t, int64(-10_000), history[0].AmountMinor)
	require.Equal(t, acc.CashMinor, history[0].BalanceBefore)
	require.Equal(t, acc.CashMinor-10_000, history[0].BalanceAfter)
	require.Equal(t, common.HistoryRefund, history[1].Type)
	require.Equal(t, int64(10_000), history[1].AmountMinor)
	require.Equal(t, acc.CashMinor-10_000, history[1].BalanceBefore)
	require.Equal(t, acc.CashMinor, history[1].BalanceAfter)
}

func TestHistory_BalanceInvariantHoldsAcrossMutations(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, l.ReserveCash(ctx, acc.ID, 300_000, "order-1"))
	require.NoError(t, l.ReserveCash(ctx, acc.ID, 50_000, "order-2"))
	require.NoError(t, l.ReleaseCash(ctx, acc.ID, 50_000, "order-2"))
	require.NoError(t, l.CreditCash(ctx, acc.ID, 120_000, "order-3"))

	history, err := l.History(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)

	// Every row balances, and consecutive rows chain: one row's after is
	// the next row's before.
	running := acc.CashMinor
	for i, row := range history {
		require.Equal(t, running, row.BalanceBefore, "row %d", i)
		require.Equal(t, row.BalanceBefore+row.AmountMinor, row.BalanceAfter, "row %d", i)
		running = row.BalanceAfter
	}

	balance, err := l.Balance(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, running, balance)
}

func TestApplyBuyFill_RecomputesAverageCostWithTruncation(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, l.ApplyBuyFill(ctx, acc.ID, "005930", 3, 100))
	require.NoError(t, l.ApplyBuyFill(ctx, acc.ID, "005930", 2, 101))

	h, err := l.GetHolding(ctx, acc.ID, "005930")
	require.NoError(t, err)
	require.Equal(t, uint64(5), h.Quantity)
	// (3*100 + 2*101) / 5 = 502/5 = 100 (integer truncation)
	require.Equal(t, int64(100), h.AvgCostMinor)
}

func TestApplySellFill_Oversold(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)

	err = l.ApplySellFill(ctx, acc.ID, "005930", 1)
	require.ErrorIs(t, err, bourseerr.ErrInsufficientHolding)
}

func TestApplySellFill_DeletesHoldingAtZero(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, l.ApplyBuyFill(ctx, acc.ID, "005930", 5, 100))
	require.NoError(t, l.ApplySellFill(ctx, acc.ID, "005930", 5))

	_, err = l.GetHolding(ctx, acc.ID, "005930")
	require.ErrorIs(t, err, bourseerr.ErrNotFound)
}
