// Package common holds the small set of enums and wire-shared value types
// used by every other package in the trading pipeline: order sides,
// account/order status, and asset identifiers.
package common

import (
	"fmt"

	"bourse/internal/bourseerr"
)

// Side is which direction an Order moves the ledger.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// OrderStatus is the position of an Order in its lifecycle.
type OrderStatus int

const (
	StatusPending OrderStatus = iota
	StatusReserved
	StatusExecuted
	StatusFailed
	StatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusReserved:
		return "RESERVED"
	case StatusExecuted:
		return "EXECUTED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("OrderStatus(%d)", int(s))
	}
}

// Terminal reports whether the status can never transition again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// AccountStatus mirrors the account.status column.
type AccountStatus int

const (
	AccountActive AccountStatus = iota
	AccountInactive
	AccountSuspended
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "ACTIVE"
	case AccountInactive:
		return "INACTIVE"
	case AccountSuspended:
		return "SUSPENDED"
	default:
		return fmt.Sprintf("AccountStatus(%d)", int(s))
	}
}

// HistoryType classifies an AccountHistory row.
type HistoryType int

const (
	HistoryBuyStock HistoryType = iota
	HistorySellStock
	HistoryBuyProduct
	HistoryRefund
	HistoryReserveAdjust
)

func (t HistoryType) String() string {
	switch t {
	case HistoryBuyStock:
		return "BUY_STOCK"
	case HistorySellStock:
		return "SELL_STOCK"
	case HistoryBuyProduct:
		return "BUY_PRODUCT"
	case HistoryRefund:
		return "REFUND"
	case HistoryReserveAdjust:
		return "RESERVE_ADJUST"
	default:
		return fmt.Sprintf("HistoryType(%d)", int(t))
	}
}

// StockStatus mirrors the stock.status column.
type StockStatus int

const (
	StockListed StockStatus = iota
	StockDelisted
)

func (s StockStatus) String() string {
	switch s {
	case StockListed:
		return "LISTED"
	case StockDelisted:
		return "DELISTED"
	default:
		return fmt.Sprintf("StockStatus(%d)", int(s))
	}
}

// Default values for the trading tunables; config may override the ones
// that are wired through constructors.
const (
	InitialCashMinorUnits = 1_000_000
	MaxQuantityPerOrder   = 10_000
	MaxPriceMinorUnits    = 10_000_000
	FillRateFloor         = 0.65
	FillRateCeiling       = 0.75
	RetryDelay            = "3m"
	RetryMax              = 5
	SystemDefaultPrice    = 50_000
	FreshnessWindow       = "5m"
)

// NormalizeTicker left-pads a ticker to the canonical 6-digit form used
// throughout the system.
func NormalizeTicker(ticker string) (string, error) {
	if len(ticker) == 0 || len(ticker) > 6 {
		return "", fmt.Errorf("%w: ticker %q", ErrInvalidTicker, ticker)
	}
	for _, r := range ticker {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: ticker %q", ErrInvalidTicker, ticker)
		}
	}
	padded := ticker
	for len(padded) < 6 {
		padded = "0" + padded
	}
	return padded, nil
}

// ErrInvalidTicker is returned by NormalizeTicker for malformed input.
var ErrInvalidTicker = fmt.Errorf("invalid ticker: %w", bourseerr.ErrInvalidArgument)
