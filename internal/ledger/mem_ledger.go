package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bourse/internal/common"
)

// MemLedger is an in-process Ledger used by tests for every component that
// depends on one, so unit tests never need a live Postgres instance.
type MemLedger struct {
	mu        sync.Mutex
	accounts  map[string]Account
	byUser    map[string]string  // userID -> accountID
	holdings  map[string]Holding // accountID|ticker -> Holding
	histories map[string][]AccountHistory
	now       func() time.Time
}

// NewMemLedger builds an empty MemLedger. If now is nil, time.Now is used.
func NewMemLedger(now func() time.Time) *MemLedger {
	if now == nil {
		now = time.Now
	}
	return &MemLedger{
		accounts:  map[string]Account{},
		byUser:    map[string]string{},
		holdings:  map[string]Holding{},
		histories: map[string][]AccountHistory{},
		now:       now,
	}
}

func holdingKey(accountID, ticker string) string { return accountID + "|" + ticker }

func (m *MemLedger) CreateAccount(_ context.Context, userID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byUser[userID]; ok {
		return m.accounts[id], nil
	}
	acc := Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    common.AccountActive,
		CashMinor: common.InitialCashMinorUnits,
		CreatedAt: m.now(),
	}
	m.accounts[acc.ID] = acc
	m.byUser[userID] = acc.ID
	return acc, nil
}

func (m *MemLedger) Balance(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return 0, errAccountNotFound(accountID)
	}
	return acc.CashMinor, nil
}

func (m *MemLedger) CanReserve(_ context.Context, accountID string, amountMinor int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return false, errAccountNotFound(accountID)
	}
	return acc.CashMinor >= amountMinor, nil
}

func (m *MemLedger) ReserveCash(_ context.Context, accountID string, amountMinor int64, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return errAccountNotFound(accountID)
	}
	if acc.CashMinor < amountMinor {
		return errInsufficientFunds(accountID, acc.CashMinor, amountMinor)
	}
	before := acc.CashMinor
	acc.CashMinor -= amountMinor
	m.accounts[accountID] = acc
	m.appendHistory(accountID, common.HistoryBuyStock, -amountMinor, orderID, before, acc.CashMinor)
	return nil
}

func (m *MemLedger) ReleaseCash(_ context.Context, accountID string, amountMinor int64, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return errAccountNotFound(accountID)
	}
	before := acc.CashMinor
	acc.CashMinor += amountMinor
	m.accounts[accountID] = acc
	m.appendHistory(accountID, common.HistoryRefund, amountMinor, orderID, before, acc.CashMinor)
	return nil
}

func (m *MemLedger) CreditCash(_ context.Context, accountID string, amountMinor int64, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return errAccountNotFound(accountID)
	}
	before := acc.CashMinor
	acc.CashMinor += amountMinor
	m.accounts[accountID] = acc
	m.appendHistory(accountID, common.HistorySellStock, amountMinor, orderID, before, acc.CashMinor)
	return nil
}

func (m *MemLedger) ApplyBuyFill(_ context.Context, accountID, ticker string, qty uint64, priceMinor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := holdingKey(accountID, ticker)
	h, ok := m.holdings[key]
	if !ok {
		h = Holding{ID: uuid.NewString(), AccountID: accountID, Ticker: ticker}
	}
	h.AvgCostMinor = avgCost(h.Quantity, h.AvgCostMinor, qty, priceMinor)
	h.Quantity += qty
	m.holdings[key] = h
	return nil
}

func (m *MemLedger) ApplySellFill(_ context.Context, accountID, ticker string, qty uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := holdingKey(accountID, ticker)
	h, ok := m.holdings[key]
	if !ok {
		return errOversold(accountID, ticker, 0, qty)
	}
	if h.Quantity < qty {
		return errOversold(accountID, ticker, h.Quantity, qty)
	}
	h.Quantity -= qty
	if h.Quantity == 0 {
		delete(m.holdings, key)
		return nil
	}
	m.holdings[key] = h
	return nil
}

func (m *MemLedger) GetHolding(_ context.Context, accountID, ticker string) (Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[holdingKey(accountID, ticker)]
	if !ok {
		return Holding{}, errHoldingNotFound(accountID, ticker)
	}
	return h, nil
}

func (m *MemLedger) History(_ context.Context, accountID string) ([]AccountHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AccountHistory, len(m.histories[accountID]))
	copy(out, m.histories[accountID])
	return out, nil
}

// appendHistory must be called with m.mu held.
func (m *MemLedger) appendHistory(accountID string, typ common.HistoryType, amountMinor int64, orderID string, balanceBefore, balanceAfter int64) {
	m.histories[accountID] = append(m.histories[accountID], AccountHistory{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Type:          typ,
		AmountMinor:   amountMinor,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		OrderID:       orderID,
		CreatedAt:     m.now(),
	})
}

var _ Ledger = (*MemLedger)(nil)
