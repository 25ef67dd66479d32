// Package pricecache holds the realtime last-trade and order-book
// snapshots per ticker, backed by Redis with TTL-based freshness. The
// external feed writes, the oracle reads, and neither ever blocks on the
// other.
package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Key prefixes for the three snapshot families.
const (
	prefixStock     = "realtime:stock:"
	prefixOrderBook = "realtime:orderbook:"
	prefixClose     = "close:"
)

// ErrMiss is returned by Get* calls when a key is absent. A miss is
// normal; callers fall through to the next price source.
var ErrMiss = errors.New("pricecache: miss")

// PriceSnapshot is the last known trade for a ticker.
type PriceSnapshot struct {
	Ticker       string    `json:"ticker"`
	LastPrice    int64     `json:"lastPrice"`
	ChangeSign   int       `json:"changeSign"`
	ChangeAmount int64     `json:"changeAmount"`
	ChangeRate   float64   `json:"changeRate"`
	Volume       int64     `json:"volume"`
	TradeTime    time.Time `json:"tradeTime"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// BookLevel is one depth level of an OrderBookSnapshot.
type BookLevel struct {
	Price int64 `json:"price"`
	Size  int64 `json:"size"`
}

// OrderBookSnapshot is the ten-deep bid/ask book for a ticker.
type OrderBookSnapshot struct {
	Ticker     string      `json:"ticker"`
	Asks       []BookLevel `json:"asks"`
	Bids       []BookLevel `json:"bids"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// Cache is the redis-backed snapshot store.
type Cache struct {
	rdb      *redis.Client
	priceTTL time.Duration
	bookTTL  time.Duration
	closeTTL time.Duration
}

// New builds a Cache over an already-configured redis client.
func New(rdb *redis.Client, priceTTL, bookTTL, closeTTL time.Duration) *Cache {
	return &Cache{rdb: rdb, priceTTL: priceTTL, bookTTL: bookTTL, closeTTL: closeTTL}
}

func stockKey(ticker string) string     { return prefixStock + ticker }
func orderBookKey(ticker string) string { return prefixOrderBook + ticker }
func closeKey(ticker string) string     { return prefixClose + ticker }

// PutPrice stores the latest trade snapshot for ticker; the external
// price feed calls this at whatever rate it receives trades.
func (c *Cache) PutPrice(ctx context.Context, ticker string, snap PriceSnapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("pricecache: marshal price: %w", err)
	}
	if err := c.rdb.Set(ctx, stockKey(ticker), buf, c.priceTTL).Err(); err != nil {
		return fmt.Errorf("pricecache: put price %s: %w", ticker, err)
	}
	return nil
}

// GetPrice returns the cached PriceSnapshot for ticker, or ErrMiss.
func (c *Cache) GetPrice(ctx context.Context, ticker string) (PriceSnapshot, error) {
	var snap PriceSnapshot
	raw, err := c.rdb.Get(ctx, stockKey(ticker)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, ErrMiss
	}
	if err != nil {
		return snap, fmt.Errorf("pricecache: get price %s: %w", ticker, err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("pricecache: unmarshal price %s: %w", ticker, err)
	}
	return snap, nil
}

// PutBook stores the latest order-book snapshot for ticker.
func (c *Cache) PutBook(ctx context.Context, ticker string, book OrderBookSnapshot) error {
	buf, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("pricecache: marshal book: %w", err)
	}
	if err := c.rdb.Set(ctx, orderBookKey(ticker), buf, c.bookTTL).Err(); err != nil {
		return fmt.Errorf("pricecache: put book %s: %w", ticker, err)
	}
	return nil
}

// GetBook returns the cached OrderBookSnapshot for ticker, or ErrMiss.
func (c *Cache) GetBook(ctx context.Context, ticker string) (OrderBookSnapshot, error) {
	var book OrderBookSnapshot
	raw, err := c.rdb.Get(ctx, orderBookKey(ticker)).Bytes()
	if errors.Is(err, redis.Nil) {
		return book, ErrMiss
	}
	if err != nil {
		return book, fmt.Errorf("pricecache: get book %s: %w", ticker, err)
	}
	if err := json.Unmarshal(raw, &book); err != nil {
		return book, fmt.Errorf("pricecache: unmarshal book %s: %w", ticker, err)
	}
	return book, nil
}

// PutClose stores the prior-close price for ticker. Close prices carry a
// much longer TTL than realtime snapshots so they survive the overnight
// gap.
func (c *Cache) PutClose(ctx context.Context, ticker string, price int64) error {
	if err := c.rdb.Set(ctx, closeKey(ticker), price, c.closeTTL).Err(); err != nil {
		return fmt.Errorf("pricecache: put close %s: %w", ticker, err)
	}
	return nil
}

// GetClose returns the cached prior-close price for ticker, or ErrMiss.
func (c *Cache) GetClose(ctx context.Context, ticker string) (int64, error) {
	price, err := c.rdb.Get(ctx, closeKey(ticker)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrMiss
	}
	if err != nil {
		return 0, fmt.Errorf("pricecache: get close %s: %w", ticker, err)
	}
	return price, nil
}

// ListActiveTickers scans realtime:stock:* and returns the ticker suffix
// of every live key.
func (c *Cache) ListActiveTickers(ctx context.Context) ([]string, error) {
	var tickers []string
	iter := c.rdb.Scan(ctx, 0, prefixStock+"*", 0).Iterator()
	for iter.Next(ctx) {
		tickers = append(tickers, strings.TrimPrefix(iter.Val(), prefixStock))
	}
	if err := iter.Err(); err != nil {
		log.Error().Err(err).Msg("pricecache: scan active tickers failed")
		return nil, fmt.Errorf("pricecache: scan active tickers: %w", err)
	}
	return tickers, nil
}
