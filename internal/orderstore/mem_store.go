package orderstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bourse/internal/common"
)

// MemStore is an in-process Store used by tests.
type MemStore struct {
	mu     sync.Mutex
	orders map[string]Order
	now    func() time.Time
}

// NewMemStore builds an empty MemStore. If now is nil, time.Now is used.
func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{orders: map[string]Order{}, now: now}
}

func (m *MemStore) Create(_ context.Context, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt, o.UpdatedAt = m.now(), m.now()
	m.orders[o.ID] = o
	return o, nil
}

func (m *MemStore) Get(_ context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, errOrderNotFound(orderID)
	}
	return o, nil
}

func (m *MemStore) ListByAccountStatus(_ context.Context, accountID string, status common.OrderStatus) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.AccountID == accountID && o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemStore) ListByStatus(_ context.Context, status common.OrderStatus) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemStore) Transition(_ context.Context, orderID string, to common.OrderStatus, mutate func(*Order)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return errOrderNotFound(orderID)
	}
	if !canTransition(o.Status, to) {
		return errIllegalTransition(orderID, o.Status, to)
	}
	if mutate != nil {
		mutate(&o)
	}
	o.Status = to
	o.UpdatedAt = m.now()
	m.orders[orderID] = o
	return nil
}

func (m *MemStore) IncrementRetry(_ context.Context, orderID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, errOrderNotFound(orderID)
	}
	o.RetryCount++
	o.UpdatedAt = m.now()
	m.orders[orderID] = o
	return o, nil
}

var _ Store = (*MemStore)(nil)
