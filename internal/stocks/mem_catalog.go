package stocks

import (
	"context"
	"sort"
	"sync"

	"bourse/internal/common"
)

// MemCatalog is an in-process Catalog used by tests.
type MemCatalog struct {
	mu     sync.RWMutex
	stocks map[string]Stock
}

// NewMemCatalog builds a catalog pre-seeded with the given stocks.
func NewMemCatalog(seed ...Stock) *MemCatalog {
	m := &MemCatalog{stocks: map[string]Stock{}}
	for _, s := range seed {
		m.stocks[s.Ticker] = s
	}
	return m
}

// Put inserts or replaces a stock.
func (m *MemCatalog) Put(s Stock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[s.Ticker] = s
}

func (m *MemCatalog) Get(_ context.Context, ticker string) (Stock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stocks[ticker]
	if !ok {
		return Stock{}, errUnknownTicker(ticker)
	}
	if s.Status == common.StockDelisted {
		return Stock{}, errDelisted(ticker)
	}
	return s, nil
}

func (m *MemCatalog) List(context.Context) ([]Stock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Stock, 0, len(m.stocks))
	for _, s := range m.stocks {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

var _ Catalog = (*MemCatalog)(nil)
