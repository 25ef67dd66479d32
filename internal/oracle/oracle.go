// Package oracle resolves a single current price for a ticker out of the
// live cache, the prior close, a stale cache entry, or a static fallback
// table, in that order of preference.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bourse/internal/common"
	"bourse/internal/pricecache"
)

// Source reports which tier of the resolution order a price came from.
type Source int

const (
	SourceLive Source = iota
	SourceClose
	SourceStale
	SourceDefault
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "LIVE"
	case SourceClose:
		return "CLOSE"
	case SourceStale:
		return "STALE"
	default:
		return "DEFAULT"
	}
}

// Price is the resolved current price for a ticker, tagged with the tier
// of the cascade that produced it.
type Price struct {
	Ticker string
	Amount int64
	Source Source
}

// Cache is the subset of pricecache.Cache the oracle reads from.
type Cache interface {
	GetPrice(ctx context.Context, ticker string) (pricecache.PriceSnapshot, error)
	GetClose(ctx context.Context, ticker string) (int64, error)
}

// Calendar is the subset of clock.Calendar the oracle reads from.
type Calendar interface {
	IsOpen() bool
	Now() time.Time
}

// Oracle resolves the price to use for admission and execution.
type Oracle struct {
	cache           Cache
	calendar        Calendar
	freshnessWindow time.Duration
	defaults        map[string]int64
}

// New builds an Oracle. defaults is a small static per-ticker fallback
// table; a nil or empty map is fine, every ticker then falls through to
// the system default.
func New(cache Cache, calendar Calendar, freshnessWindow time.Duration, defaults map[string]int64) *Oracle {
	return &Oracle{
		cache:           cache,
		calendar:        calendar,
		freshnessWindow: freshnessWindow,
		defaults:        defaults,
	}
}

// CurrentPrice resolves the price for ticker, walking the four-step
// cascade.
func (o *Oracle) CurrentPrice(ctx context.Context, ticker string) (Price, error) {
	ticker, err := common.NormalizeTicker(ticker)
	if err != nil {
		return Price{}, fmt.Errorf("oracle: %w", err)
	}

	snap, snapErr := o.cache.GetPrice(ctx, ticker)
	haveSnap := snapErr == nil
	if snapErr != nil && !errors.Is(snapErr, pricecache.ErrMiss) {
		return Price{}, fmt.Errorf("oracle: get price %s: %w", ticker, snapErr)
	}

	marketOpen := o.calendar.IsOpen()

	// 1. Live, fresh snapshot while the market is open.
	if marketOpen && haveSnap && o.fresh(snap) {
		return Price{Ticker: ticker, Amount: snap.LastPrice, Source: SourceLive}, nil
	}

	// 2. Prior close, if cached.
	closePrice, closeErr := o.cache.GetClose(ctx, ticker)
	if closeErr == nil {
		return Price{Ticker: ticker, Amount: closePrice, Source: SourceClose}, nil
	}
	if !errors.Is(closeErr, pricecache.ErrMiss) {
		return Price{}, fmt.Errorf("oracle: get close %s: %w", ticker, closeErr)
	}

	// 3. Stale snapshot while the market is closed.
	if !marketOpen && haveSnap {
		return Price{Ticker: ticker, Amount: snap.LastPrice, Source: SourceStale}, nil
	}

	// 4. Static per-ticker default, or the system default.
	if amount, ok := o.defaults[ticker]; ok {
		return Price{Ticker: ticker, Amount: amount, Source: SourceDefault}, nil
	}
	return Price{Ticker: ticker, Amount: common.SystemDefaultPrice, Source: SourceDefault}, nil
}

// fresh reports whether snap was received within the freshness window of
// the oracle's clock.
func (o *Oracle) fresh(snap pricecache.PriceSnapshot) bool {
	return o.calendar.Now().Sub(snap.ReceivedAt) < o.freshnessWindow
}
