package stocks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"bourse/internal/common"
)

// SQLCatalog is the Postgres-backed Catalog over the stock table.
type SQLCatalog struct {
	db *sqlx.DB
}

// NewSQLCatalog wraps an already-open sqlx connection pool.
func NewSQLCatalog(db *sqlx.DB) *SQLCatalog {
	return &SQLCatalog{db: db}
}

func (c *SQLCatalog) Get(ctx context.Context, ticker string) (Stock, error) {
	var row stockRow
	err := c.db.GetContext(ctx, &row,
		`SELECT ticker, name, sector, status, listed_at, delisted_at FROM stock WHERE ticker = $1`, ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return Stock{}, errUnknownTicker(ticker)
	}
	if err != nil {
		return Stock{}, fmt.Errorf("stocks: get %s: %w", ticker, err)
	}
	s := row.toStock()
	if s.Status == common.StockDelisted {
		return Stock{}, errDelisted(ticker)
	}
	return s, nil
}

func (c *SQLCatalog) List(ctx context.Context) ([]Stock, error) {
	var rows []stockRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT ticker, name, sector, status, listed_at, delisted_at FROM stock ORDER BY ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("stocks: list: %w", err)
	}
	out := make([]Stock, len(rows))
	for i, r := range rows {
		out[i] = r.toStock()
	}
	return out, nil
}

// stockRow mirrors the stock table for sqlx scanning.
type stockRow struct {
	Ticker     string       `db:"ticker"`
	Name       string       `db:"name"`
	Sector     string       `db:"sector"`
	Status     string       `db:"status"`
	ListedAt   time.Time    `db:"listed_at"`
	DelistedAt sql.NullTime `db:"delisted_at"`
}

func (r stockRow) toStock() Stock {
	s := Stock{
		Ticker:   r.Ticker,
		Name:     r.Name,
		Sector:   r.Sector,
		ListedAt: r.ListedAt,
	}
	if r.Status == common.StockDelisted.String() {
		s.Status = common.StockDelisted
	} else {
		s.Status = common.StockListed
	}
	if r.DelistedAt.Valid {
		s.DelistedAt = r.DelistedAt.Time
	}
	return s
}

var _ Catalog = (*SQLCatalog)(nil)
