package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"bourse/internal/common"
)

// SQLLedger is the Postgres-backed Ledger, one sqlx transaction per
// operation against the account / account_history / holding tables.
type SQLLedger struct {
	db          *sqlx.DB
	initialCash int64
}

// NewSQLLedger wraps an already-open sqlx connection pool. initialCash is
// the opening balance credited to every new account.
func NewSQLLedger(db *sqlx.DB, initialCash int64) *SQLLedger {
	return &SQLLedger{db: db, initialCash: initialCash}
}

// Open connects to Postgres via lib/pq and bounds the connection pool.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (l *SQLLedger) CreateAccount(ctx context.Context, userID string) (Account, error) {
	var existing accountRow
	err := l.db.GetContext(ctx, &existing,
		`SELECT id, user_id, status, cash_minor, created_at FROM account WHERE user_id = $1 AND status = $2`,
		userID, common.AccountActive.String())
	if err == nil {
		return existing.toAccount(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("ledger: lookup account for %s: %w", userID, err)
	}

	acc := Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    common.AccountActive,
		CashMinor: l.initialCash,
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO account (id, user_id, status, cash_minor) VALUES ($1, $2, $3, $4)`,
		acc.ID, acc.UserID, acc.Status.String(), acc.CashMinor)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: create account for %s: %w", userID, err)
	}
	return acc, nil
}

func (l *SQLLedger) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := l.db.GetContext(ctx, &balance, `SELECT cash_minor FROM account WHERE id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errAccountNotFound(accountID)
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: balance %s: %w", accountID, err)
	}
	return balance, nil
}

func (l *SQLLedger) CanReserve(ctx context.Context, accountID string, amountMinor int64) (bool, error) {
	balance, err := l.Balance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return balance >= amountMinor, nil
}

func (l *SQLLedger) ReserveCash(ctx context.Context, accountID string, amountMinor int64, orderID string) error {
	return l.withTx(ctx, func(tx *sqlx.Tx) error {
		var balance int64
		if err := tx.GetContext(ctx, &balance, `SELECT cash_minor FROM account WHERE id = $1 FOR UPDATE`, accountID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errAccountNotFound(accountID)
			}
			return err
		}
		if balance < amountMinor {
			return errInsufficientFunds(accountID, balance, amountMinor)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE account SET cash_minor = cash_minor - $1 WHERE id = $2`, amountMinor, accountID); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, accountID, common.HistoryBuyStock, -amountMinor, orderID, balance, balance-amountMinor); err != nil {
			return err
		}
		logMutation(accountID, orderID, "reserveCash", balance, balance-amountMinor)
		return nil
	})
}

func (l *SQLLedger) ReleaseCash(ctx context.Context, accountID string, amountMinor int64, orderID string) error {
	return l.withTx(ctx, func(tx *sqlx.Tx) error {
		var before int64
		if err := tx.GetContext(ctx, &before, `SELECT cash_minor FROM account WHERE id = $1 FOR UPDATE`, accountID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errAccountNotFound(accountID)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE account SET cash_minor = cash_minor + $1 WHERE id = $2`, amountMinor, accountID); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, accountID, common.HistoryRefund, amountMinor, orderID, before, before+amountMinor); err != nil {
			return err
		}
		logMutation(accountID, orderID, "releaseCash", before, before+amountMinor)
		return nil
	})
}

func (l *SQLLedger) CreditCash(ctx context.Context, accountID string, amountMinor int64, orderID string) error {
	return l.withTx(ctx, func(tx *sqlx.Tx) error {
		var before int64
		if err := tx.GetContext(ctx, &before, `SELECT cash_minor FROM account WHERE id = $1 FOR UPDATE`, accountID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errAccountNotFound(accountID)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE account SET cash_minor = cash_minor + $1 WHERE id = $2`, amountMinor, accountID); err != nil {
			return err
		}
		if err := appendHistory(ctx, tx, accountID, common.HistorySellStock, amountMinor, orderID, before, before+amountMinor); err != nil {
			return err
		}
		logMutation(accountID, orderID, "creditCash", before, before+amountMinor)
		return nil
	})
}

func (l *SQLLedger) ApplyBuyFill(ctx context.Context, accountID, ticker string, qty uint64, priceMinor int64) error {
	return l.withTx(ctx, func(tx *sqlx.Tx) error {
		var row holdingRow
		err := tx.GetContext(ctx, &row,
			`SELECT id, account_id, ticker, quantity, avg_cost_minor FROM holding WHERE account_id = $1 AND ticker = $2 FOR UPDATE`,
			accountID, ticker)
		var h Holding
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h = Holding{ID: uuid.NewString(), AccountID: accountID, Ticker: ticker}
		case err != nil:
			return err
		default:
			h = row.toHolding()
		}

		newAvg := avgCost(h.Quantity, h.AvgCostMinor, qty, priceMinor)
		newQty := h.Quantity + qty

		_, err = tx.ExecContext(ctx,
			`INSERT INTO holding (id, account_id, ticker, quantity, avg_cost_minor)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (account_id, ticker)
			 DO UPDATE SET quantity = $4, avg_cost_minor = $5`,
			h.ID, accountID, ticker, newQty, newAvg)
		if err != nil {
			return err
		}
		log.Info().Str("accountId", accountID).Str("ticker", ticker).
			Uint64("qtyBefore", h.Quantity).Uint64("qtyAfter", newQty).
			Int64("avgCostBefore", h.AvgCostMinor).Int64("avgCostAfter", newAvg).
			Msg("ledger: buy fill applied")
		return nil
	})
}

func (l *SQLLedger) ApplySellFill(ctx context.Context, accountID, ticker string, qty uint64) error {
	return l.withTx(ctx, func(tx *sqlx.Tx) error {
		var row holdingRow
		err := tx.GetContext(ctx, &row,
			`SELECT id, account_id, ticker, quantity, avg_cost_minor FROM holding WHERE account_id = $1 AND ticker = $2 FOR UPDATE`,
			accountID, ticker)
		if errors.Is(err, sql.ErrNoRows) {
			return errOversold(accountID, ticker, 0, qty)
		}
		if err != nil {
			return err
		}
		h := row.toHolding()
		if h.Quantity < qty {
			return errOversold(accountID, ticker, h.Quantity, qty)
		}
		remaining := h.Quantity - qty
		if remaining == 0 {
			if _, err = tx.ExecContext(ctx, `DELETE FROM holding WHERE id = $1`, h.ID); err != nil {
				return err
			}
		} else if _, err = tx.ExecContext(ctx, `UPDATE holding SET quantity = $1 WHERE id = $2`, remaining, h.ID); err != nil {
			return err
		}
		log.Info().Str("accountId", accountID).Str("ticker", ticker).
			Uint64("qtyBefore", h.Quantity).Uint64("qtyAfter", remaining).
			Msg("ledger: sell fill applied")
		return nil
	})
}

func (l *SQLLedger) GetHolding(ctx context.Context, accountID, ticker string) (Holding, error) {
	var row holdingRow
	err := l.db.GetContext(ctx, &row,
		`SELECT id, account_id, ticker, quantity, avg_cost_minor FROM holding WHERE account_id = $1 AND ticker = $2`,
		accountID, ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return Holding{}, errHoldingNotFound(accountID, ticker)
	}
	if err != nil {
		return Holding{}, fmt.Errorf("ledger: get holding %s/%s: %w", accountID, ticker, err)
	}
	return row.toHolding(), nil
}

func (l *SQLLedger) History(ctx context.Context, accountID string) ([]AccountHistory, error) {
	var rows []historyRow
	err := l.db.SelectContext(ctx, &rows,
		`SELECT id, account_id, type, amount_minor, balance_before, balance_after, order_id, created_at FROM account_history WHERE account_id = $1 ORDER BY created_at ASC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("ledger: history %s: %w", accountID, err)
	}
	out := make([]AccountHistory, len(rows))
	for i, r := range rows {
		out[i] = r.toHistory()
	}
	return out, nil
}

func (l *SQLLedger) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit tx: %w", err)
	}
	return nil
}

func appendHistory(ctx context.Context, tx *sqlx.Tx, accountID string, typ common.HistoryType, amountMinor int64, orderID string, balanceBefore, balanceAfter int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO account_history (id, account_id, type, amount_minor, balance_before, balance_after, order_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), accountID, typ.String(), amountMinor, balanceBefore, balanceAfter, orderID)
	if err != nil {
		return fmt.Errorf("ledger: append history for %s: %w", accountID, err)
	}
	return nil
}

// logMutation emits a before/after balance audit event on top of the
// AccountHistory row appendHistory writes.
func logMutation(accountID, orderID, op string, before, after int64) {
	log.Info().Str("accountId", accountID).Str("orderId", orderID).Str("op", op).
		Int64("balanceBefore", before).Int64("balanceAfter", after).
		Msg("ledger: cash mutation applied")
}

// accountRow mirrors the account table for sqlx scanning.
type accountRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Status    string    `db:"status"`
	CashMinor int64     `db:"cash_minor"`
	CreatedAt time.Time `db:"created_at"`
}

func (r accountRow) toAccount() Account {
	a := Account{
		ID:        r.ID,
		UserID:    r.UserID,
		CashMinor: r.CashMinor,
		CreatedAt: r.CreatedAt,
	}
	switch r.Status {
	case common.AccountInactive.String():
		a.Status = common.AccountInactive
	case common.AccountSuspended.String():
		a.Status = common.AccountSuspended
	default:
		a.Status = common.AccountActive
	}
	return a
}

// holdingRow mirrors the holding table for sqlx scanning.
type holdingRow struct {
	ID           string `db:"id"`
	AccountID    string `db:"account_id"`
	Ticker       string `db:"ticker"`
	Quantity     int64  `db:"quantity"`
	AvgCostMinor int64  `db:"avg_cost_minor"`
}

func (r holdingRow) toHolding() Holding {
	return Holding{
		ID:           r.ID,
		AccountID:    r.AccountID,
		Ticker:       r.Ticker,
		Quantity:     uint64(r.Quantity),
		AvgCostMinor: r.AvgCostMinor,
	}
}

// historyRow mirrors the account_history table for sqlx scanning.
type historyRow struct {
	ID            string    `db:"id"`
	AccountID     string    `db:"account_id"`
	Type          string    `db:"type"`
	AmountMinor   int64     `db:"amount_minor"`
	BalanceBefore int64     `db:"balance_before"`
	BalanceAfter  int64     `db:"balance_after"`
	OrderID       string    `db:"order_id"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r historyRow) toHistory() AccountHistory {
	h := AccountHistory{
		ID:            r.ID,
		AccountID:     r.AccountID,
		AmountMinor:   r.AmountMinor,
		BalanceBefore: r.BalanceBefore,
		BalanceAfter:  r.BalanceAfter,
		OrderID:       r.OrderID,
		CreatedAt:     r.CreatedAt,
	}
	switch r.Type {
	case common.HistorySellStock.String():
		h.Type = common.HistorySellStock
	case common.HistoryBuyProduct.String():
		h.Type = common.HistoryBuyProduct
	case common.HistoryRefund.String():
		h.Type = common.HistoryRefund
	case common.HistoryReserveAdjust.String():
		h.Type = common.HistoryReserveAdjust
	default:
		h.Type = common.HistoryBuyStock
	}
	return h
}

var _ Ledger = (*SQLLedger)(nil)
