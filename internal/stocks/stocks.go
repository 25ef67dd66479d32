// Package stocks is the listed-security reference catalog: ticker, name,
// sector, and listing state for every security orders may be admitted
// against. Admission rejects tickers the catalog does not carry as LISTED.
package stocks

import (
	"context"
	"fmt"
	"time"

	"bourse/internal/bourseerr"
	"bourse/internal/common"
)

// Stock is one listed security.
type Stock struct {
	Ticker     string
	Name       string
	Sector     string
	Status     common.StockStatus
	ListedAt   time.Time
	DelistedAt time.Time // zero unless Status is DELISTED
}

// Catalog resolves tickers against the reference data.
type Catalog interface {
	// Get returns the stock for a normalized 6-digit ticker. A ticker the
	// catalog does not carry, or one that is DELISTED, is reported as
	// not found.
	Get(ctx context.Context, ticker string) (Stock, error)
	List(ctx context.Context) ([]Stock, error)
}

func errUnknownTicker(ticker string) error {
	return fmt.Errorf("stocks: unknown ticker %s: %w", ticker, bourseerr.ErrNotFound)
}

func errDelisted(ticker string) error {
	return fmt.Errorf("stocks: ticker %s is delisted: %w", ticker, bourseerr.ErrNotFound)
}
