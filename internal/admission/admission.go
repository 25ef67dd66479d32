// Package admission validates and admits buy/sell orders: normalize and
// check the request, resolve a price when the caller omits one, reserve
// funds or verify holdings, persist the order, and enqueue it for
// execution. Each step returns early on failure, so a rejected order
// leaves cash, holdings, and the order store untouched.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bourse/internal/bourseerr"
	"bourse/internal/bus"
	"bourse/internal/clock"
	"bourse/internal/common"
	"bourse/internal/ledger"
	"bourse/internal/metrics"
	"bourse/internal/oracle"
	"bourse/internal/orderstore"
	"bourse/internal/stocks"
)

// Service admits orders. It depends on the oracle for price resolution,
// the stock catalog for ticker validation, the ledger for cash/holdings,
// the order store for persistence, the market calendar for the
// open/closed branch, and the bus to publish newly PENDING orders.
type Service struct {
	oracle   *oracle.Oracle
	catalog  stocks.Catalog
	ledger   ledger.Ledger
	orders   orderstore.Store
	calendar *clock.Calendar
	bus      *bus.Bus

	maxQuantity uint64
	maxPrice    int64
}

// New builds an admission Service.
func New(o *oracle.Oracle, catalog stocks.Catalog, l ledger.Ledger, s orderstore.Store, cal *clock.Calendar, b *bus.Bus, maxQuantity uint64, maxPrice int64) *Service {
	return &Service{oracle: o, catalog: catalog, ledger: l, orders: s, calendar: cal, bus: b, maxQuantity: maxQuantity, maxPrice: maxPrice}
}

// SubmitBuy validates and admits a buy order, returning its orderId. The
// full order amount is debited from the account up front; a later fill
// only moves holdings, and a cancellation refunds the debit.
func (s *Service) SubmitBuy(ctx context.Context, userID, ticker string, qty uint64, price *int64) (orderID string, err error) {
	start := time.Now()
	status := common.StatusFailed
	defer func() {
		if err == nil {
			metrics.ObserveAdmission("BUY", status.String(), time.Since(start).Seconds())
		} else {
			metrics.ObserveAdmission("BUY", "REJECTED", time.Since(start).Seconds())
		}
	}()

	ticker, resolvedPrice, err := s.validateAndResolvePrice(ctx, ticker, qty, price)
	if err != nil {
		return "", err
	}

	acc, err := s.ledger.CreateAccount(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("admission: resolve account for %s: %w", userID, err)
	}

	amount := resolvedPrice * int64(qty)
	orderID = uuid.NewString()

	if err := s.ledger.ReserveCash(ctx, acc.ID, amount, orderID); err != nil {
		return "", err
	}

	status = common.StatusPending
	if !s.calendar.IsOpen() {
		status = common.StatusReserved
	}

	if _, err := s.orders.Create(ctx, orderstore.Order{
		ID:         orderID,
		Side:       common.Buy,
		AccountID:  acc.ID,
		Ticker:     ticker,
		PriceMinor: resolvedPrice,
		Quantity:   qty,
		Status:     status,
	}); err != nil {
		_ = s.ledger.ReleaseCash(ctx, acc.ID, amount, orderID)
		return "", fmt.Errorf("admission: persist order: %w", err)
	}

	if status == common.StatusPending {
		if err := s.publish(orderID, common.Buy); err != nil {
			return "", err
		}
	}

	return orderID, nil
}

// SubmitSell validates and admits a sell order; symmetric to SubmitBuy but
// reserves no cash and instead requires an existing holding with
// sufficient quantity. Cash is credited only when the order fills.
func (s *Service) SubmitSell(ctx context.Context, userID, ticker string, qty uint64, price *int64) (orderID string, err error) {
	start := time.Now()
	status := common.StatusFailed
	defer func() {
		if err == nil {
			metrics.ObserveAdmission("SELL", status.String(), time.Since(start).Seconds())
		} else {
			metrics.ObserveAdmission("SELL", "REJECTED", time.Since(start).Seconds())
		}
	}()

	ticker, resolvedPrice, err := s.validateAndResolvePrice(ctx, ticker, qty, price)
	if err != nil {
		return "", err
	}

	acc, err := s.ledger.CreateAccount(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("admission: resolve account for %s: %w", userID, err)
	}

	holding, err := s.ledger.GetHolding(ctx, acc.ID, ticker)
	if err != nil {
		if errors.Is(err, bourseerr.ErrNotFound) {
			return "", fmt.Errorf("admission: account %s holds no %s: %w", acc.ID, ticker, bourseerr.ErrInsufficientHolding)
		}
		return "", err
	}
	if holding.Quantity < qty {
		return "", fmt.Errorf("admission: account %s holds %d of %s, cannot sell %d: %w",
			acc.ID, holding.Quantity, ticker, qty, bourseerr.ErrInsufficientHolding)
	}

	orderID = uuid.NewString()
	status = common.StatusPending
	if !s.calendar.IsOpen() {
		status = common.StatusReserved
	}

	if _, err := s.orders.Create(ctx, orderstore.Order{
		ID:         orderID,
		Side:       common.Sell,
		AccountID:  acc.ID,
		Ticker:     ticker,
		HoldingID:  holding.ID,
		PriceMinor: resolvedPrice,
		Quantity:   qty,
		Status:     status,
	}); err != nil {
		return "", fmt.Errorf("admission: persist order: %w", err)
	}

	if status == common.StatusPending {
		if err := s.publish(orderID, common.Sell); err != nil {
			return "", err
		}
	}

	return orderID, nil
}

func (s *Service) validateAndResolvePrice(ctx context.Context, ticker string, qty uint64, price *int64) (string, int64, error) {
	ticker, err := common.NormalizeTicker(ticker)
	if err != nil {
		return "", 0, fmt.Errorf("admission: %w", err)
	}
	if _, err := s.catalog.Get(ctx, ticker); err != nil {
		return "", 0, err
	}
	if qty < 1 || qty > s.maxQuantity {
		return "", 0, fmt.Errorf("admission: quantity %d out of range [1, %d]: %w", qty, s.maxQuantity, bourseerr.ErrInvalidArgument)
	}
	if price != nil && (*price < 1 || *price > s.maxPrice) {
		return "", 0, fmt.Errorf("admission: price %d out of range [1, %d]: %w", *price, s.maxPrice, bourseerr.ErrInvalidArgument)
	}

	resolvedPrice := int64(0)
	if price != nil {
		resolvedPrice = *price
	} else {
		p, err := s.oracle.CurrentPrice(ctx, ticker)
		if err != nil {
			return "", 0, fmt.Errorf("admission: resolve price for %s: %w", ticker, err)
		}
		resolvedPrice = p.Amount
	}
	return ticker, resolvedPrice, nil
}

func (s *Service) publish(orderID string, side common.Side) error {
	return s.bus.Publish(bus.TopicActive, bus.Message{
		OrderID:    orderID,
		Side:       side,
		EnqueuedAt: s.calendar.Now(),
	})
}
