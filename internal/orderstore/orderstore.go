// Package orderstore persists buy/sell orders and enforces their status
// machine. Only the admission service creates rows; only the matching
// worker, the reservation opener and the post-close pending-cleanup job
// transition them, and re-entry into a terminal state is forbidden.
package orderstore

import (
	"context"
	"fmt"
	"time"

	"bourse/internal/bourseerr"
	"bourse/internal/common"
)

// Order is one buy or sell order and its lifecycle state.
type Order struct {
	ID             string
	Side           common.Side
	AccountID      string
	Ticker         string // set for BUY; also set for SELL (denormalized for lookups)
	HoldingID      string // set for SELL, references the Holding being sold
	PriceMinor     int64
	Quantity       uint64
	Status         common.OrderStatus
	RetryCount     int
	NextEligibleAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// legalTransitions enumerates the status machine. A transition not
// listed here is rejected.
var legalTransitions = map[common.OrderStatus][]common.OrderStatus{
	common.StatusPending:  {common.StatusExecuted, common.StatusFailed},
	common.StatusReserved: {common.StatusPending, common.StatusCancelled},
}

func canTransition(from, to common.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Store is the order persistence interface.
type Store interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	ListByAccountStatus(ctx context.Context, accountID string, status common.OrderStatus) ([]Order, error)
	ListByStatus(ctx context.Context, status common.OrderStatus) ([]Order, error)
	Transition(ctx context.Context, orderID string, to common.OrderStatus, mutate func(*Order)) error
	// IncrementRetry bumps RetryCount without a status transition: a
	// PENDING order stays PENDING across retry attempts, so this can't
	// ride the Transition status-machine check.
	IncrementRetry(ctx context.Context, orderID string) (Order, error)
}

func errOrderNotFound(orderID string) error {
	return fmt.Errorf("orderstore: order %s: %w", orderID, bourseerr.ErrNotFound)
}

func errIllegalTransition(orderID string, from, to common.OrderStatus) error {
	return fmt.Errorf("orderstore: order %s cannot move %s -> %s: %w", orderID, from, to, bourseerr.ErrConflict)
}
