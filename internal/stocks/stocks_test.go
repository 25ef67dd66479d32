package stocks_test

import (
	"context"
	"testing"

	"bourse/internal/bourseerr"
	"bourse/internal/common"
	"bourse/internal/stocks"

	"github.com/stretchr/testify/require"
)

func TestGet_ListedStock(t *testing.T) {
	c := stocks.NewMemCatalog(stocks.Stock{Ticker: "005930", Name: "Samsung Electronics", Sector: "Tech", Status: common.StockListed})

	s, err := c.Get(context.Background(), "005930")
	require.NoError(t, err)
	require.Equal(t, "Samsung Electronics", s.Name)
}

func TestGet_UnknownTicker(t *testing.T) {
	c := stocks.NewMemCatalog()

	_, err := c.Get(context.Background(), "999999")
	require.ErrorIs(t, err, bourseerr.ErrNotFound)
}

func TestGet_DelistedTicker(t *testing.T) {
	c := stocks.NewMemCatalog(stocks.Stock{Ticker: "123456", Status: common.StockDelisted})

	_, err := c.Get(context.Background(), "123456")
	require.ErrorIs(t, err, bourseerr.ErrNotFound)
}

func TestList_SortedByTicker(t *testing.T) {
	c := stocks.NewMemCatalog(
		stocks.Stock{Ticker: "035420", Status: common.StockListed},
		stocks.Stock{Ticker: "005930", Status: common.StockListed},
	)

	all, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "005930", all[0].Ticker)
	require.Equal(t, "035420", all[1].Ticker)
}
