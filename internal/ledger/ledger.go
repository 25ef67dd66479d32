// Package ledger is the sole writer of account cash balances and holding
// quantities. Every cash mutation is one atomic transaction that also
// appends an AccountHistory row, so the history stream and the balances
// can never drift apart. Holding mutations (buy and sell fills) are atomic
// on their own and append no history row.
package ledger

import (
	"context"
	"fmt"
	"time"

	"bourse/internal/bourseerr"
	"bourse/internal/common"
)

// Account is a trading account with one cash balance.
type Account struct {
	ID        string // account id
	UserID    string // owning user
	Status    common.AccountStatus
	CashMinor int64 // cashBalance, in minor currency units
	CreatedAt time.Time
}

// Holding is one ticker position held by an account.
type Holding struct {
	ID           string
	AccountID    string
	Ticker       string
	Quantity     uint64
	AvgCostMinor int64 // average cost per share, minor units, integer truncation
}

// AccountHistory is one append-only ledger entry. Every row satisfies
// BalanceAfter = BalanceBefore + AmountMinor.
type AccountHistory struct {
	ID            string
	AccountID     string
	Type          common.HistoryType
	AmountMinor   int64 // signed: negative debits cash, positive credits it
	BalanceBefore int64
	BalanceAfter  int64
	OrderID       string
	CreatedAt     time.Time
}

// Ledger is the full set of cash and holding operations. Implementations
// must make every cash-mutating method atomic with its history append;
// ApplyBuyFill and ApplySellFill write no history.
type Ledger interface {
	CreateAccount(ctx context.Context, userID string) (Account, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	CanReserve(ctx context.Context, accountID string, amountMinor int64) (bool, error)
	ReserveCash(ctx context.Context, accountID string, amountMinor int64, orderID string) error
	ReleaseCash(ctx context.Context, accountID string, amountMinor int64, orderID string) error
	CreditCash(ctx context.Context, accountID string, amountMinor int64, orderID string) error
	ApplyBuyFill(ctx context.Context, accountID, ticker string, qty uint64, priceMinor int64) error
	ApplySellFill(ctx context.Context, accountID, ticker string, qty uint64) error
	GetHolding(ctx context.Context, accountID, ticker string) (Holding, error)
	History(ctx context.Context, accountID string) ([]AccountHistory, error)
}

// avgCost recomputes the average cost of a holding after a buy fill,
// truncating to an integer minor-unit amount.
func avgCost(oldQty uint64, oldAvg int64, qty uint64, price int64) int64 {
	if oldQty+qty == 0 {
		return 0
	}
	total := int64(oldQty)*oldAvg + int64(qty)*price
	return total / int64(oldQty+qty)
}

// errOversold reports a sell fill exceeding the held quantity.
func errOversold(accountID, ticker string, have, want uint64) error {
	return fmt.Errorf("ledger: account %s holds %d of %s, cannot sell %d: %w", accountID, have, ticker, want, bourseerr.ErrInsufficientHolding)
}

func errInsufficientFunds(accountID string, balance, amount int64) error {
	return fmt.Errorf("ledger: account %s balance %d insufficient for %d: %w", accountID, balance, amount, bourseerr.ErrInsufficientFunds)
}

func errAccountNotFound(accountID string) error {
	return fmt.Errorf("ledger: account %s: %w", accountID, bourseerr.ErrNotFound)
}

func errHoldingNotFound(accountID, ticker string) error {
	return fmt.Errorf("ledger: holding %s/%s: %w", accountID, ticker, bourseerr.ErrNotFound)
}
