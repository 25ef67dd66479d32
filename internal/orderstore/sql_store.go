package orderstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bourse/internal/common"
)

// SQLStore is the Postgres-backed Store.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an already-open sqlx connection pool.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context, o Order) (Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stock_order
			(id, side, account_id, ticker, holding_id, price_minor, quantity, status, retry_count, next_eligible_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.Side.String(), o.AccountID, o.Ticker, o.HoldingID, o.PriceMinor, o.Quantity,
		o.Status.String(), o.RetryCount, nullTime(o.NextEligibleAt), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("orderstore: create order: %w", err)
	}
	return o, nil
}

func (s *SQLStore) Get(ctx context.Context, orderID string) (Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM stock_order WHERE id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, errOrderNotFound(orderID)
	}
	if err != nil {
		return Order{}, fmt.Errorf("orderstore: get %s: %w", orderID, err)
	}
	return row.toOrder(), nil
}

func (s *SQLStore) ListByAccountStatus(ctx context.Context, accountID string, status common.OrderStatus) ([]Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM stock_order WHERE account_id = $1 AND status = $2 ORDER BY created_at ASC`,
		accountID, status.String())
	if err != nil {
		return nil, fmt.Errorf("orderstore: list %s/%s: %w", accountID, status, err)
	}
	return toOrders(rows), nil
}

func (s *SQLStore) ListByStatus(ctx context.Context, status common.OrderStatus) ([]Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM stock_order WHERE status = $1 ORDER BY created_at ASC`, status.String())
	if err != nil {
		return nil, fmt.Errorf("orderstore: list status %s: %w", status, err)
	}
	return toOrders(rows), nil
}

func (s *SQLStore) Transition(ctx context.Context, orderID string, to common.OrderStatus, mutate func(*Order)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("orderstore: begin tx: %w", err)
	}

	var row orderRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM stock_order WHERE id = $1 FOR UPDATE`, orderID); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return errOrderNotFound(orderID)
		}
		return fmt.Errorf("orderstore: lock %s: %w", orderID, err)
	}

	o := row.toOrder()
	if !canTransition(o.Status, to) {
		_ = tx.Rollback()
		return errIllegalTransition(orderID, o.Status, to)
	}
	if mutate != nil {
		mutate(&o)
	}
	o.Status = to
	o.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx,
		`UPDATE stock_order SET status=$1, retry_count=$2, next_eligible_at=$3, price_minor=$4, quantity=$5, updated_at=$6 WHERE id=$7`,
		o.Status.String(), o.RetryCount, nullTime(o.NextEligibleAt), o.PriceMinor, o.Quantity, o.UpdatedAt, orderID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("orderstore: update %s: %w", orderID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("orderstore: commit %s: %w", orderID, err)
	}
	return nil
}

func (s *SQLStore) IncrementRetry(ctx context.Context, orderID string) (Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Order{}, fmt.Errorf("orderstore: begin tx: %w", err)
	}

	var row orderRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM stock_order WHERE id = $1 FOR UPDATE`, orderID); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, errOrderNotFound(orderID)
		}
		return Order{}, fmt.Errorf("orderstore: lock %s: %w", orderID, err)
	}

	o := row.toOrder()
	o.RetryCount++
	o.UpdatedAt = time.Now()

	if _, err := tx.ExecContext(ctx,
		`UPDATE stock_order SET retry_count=$1, updated_at=$2 WHERE id=$3`,
		o.RetryCount, o.UpdatedAt, orderID); err != nil {
		_ = tx.Rollback()
		return Order{}, fmt.Errorf("orderstore: increment retry %s: %w", orderID, err)
	}

	if err := tx.Commit(); err != nil {
		return Order{}, fmt.Errorf("orderstore: commit %s: %w", orderID, err)
	}
	return o, nil
}

// orderRow mirrors the stock_order table for sqlx scanning.
type orderRow struct {
	ID             string       `db:"id"`
	Side           string       `db:"side"`
	AccountID      string       `db:"account_id"`
	Ticker         string       `db:"ticker"`
	HoldingID      string       `db:"holding_id"`
	PriceMinor     int64        `db:"price_minor"`
	Quantity       int64        `db:"quantity"`
	Status         string       `db:"status"`
	RetryCount     int          `db:"retry_count"`
	NextEligibleAt sql.NullTime `db:"next_eligible_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func (r orderRow) toOrder() Order {
	o := Order{
		ID:         r.ID,
		AccountID:  r.AccountID,
		Ticker:     r.Ticker,
		HoldingID:  r.HoldingID,
		PriceMinor: r.PriceMinor,
		Quantity:   uint64(r.Quantity),
		RetryCount: r.RetryCount,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.Side == common.Sell.String() {
		o.Side = common.Sell
	} else {
		o.Side = common.Buy
	}
	switch r.Status {
	case common.StatusReserved.String():
		o.Status = common.StatusReserved
	case common.StatusExecuted.String():
		o.Status = common.StatusExecuted
	case common.StatusFailed.String():
		o.Status = common.StatusFailed
	case common.StatusCancelled.String():
		o.Status = common.StatusCancelled
	default:
		o.Status = common.StatusPending
	}
	if r.NextEligibleAt.Valid {
		o.NextEligibleAt = r.NextEligibleAt.Time
	}
	return o
}

func toOrders(rows []orderRow) []Order {
	out := make([]Order, len(rows))
	for i, r := range rows {
		out[i] = r.toOrder()
	}
	return out
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

var _ Store = (*SQLStore)(nil)
