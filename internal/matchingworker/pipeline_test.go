package matchingworker_test

import (
	"context"
	"testing"
	"time"

	"bourse/internal/admission"
	"bourse/internal/bus"
	"bourse/internal/clock"
	"bourse/internal/common"
	"bourse/internal/ledger"
	"bourse/internal/matchingworker"
	"bourse/internal/oracle"
	"bourse/internal/orderstore"
	"bourse/internal/pricecache"
	"bourse/internal/reservation"
	"bourse/internal/retrydispatch"
	"bourse/internal/stocks"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// pipeline wires the full order path — admission, bus, matching workers,
// retry dispatcher, reservation opener — over in-memory stores and
// miniredis, with a zero retry delay so misses redeliver immediately.
type pipeline struct {
	admission *admission.Service
	opener    *reservation.Opener
	ledger    *ledger.MemLedger
	orders    *orderstore.MemStore
	clock     *clock.FakeClock
}

type pipelineCache struct {
	prices map[string]pricecache.PriceSnapshot
	clk    *clock.FakeClock
}

func (c *pipelineCache) GetPrice(_ context.Context, ticker string) (pricecache.PriceSnapshot, error) {
	snap, ok := c.prices[ticker]
	if !ok {
		return pricecache.PriceSnapshot{}, pricecache.ErrMiss
	}
	// Keep the snapshot fresh relative to the fake clock so the oracle
	// always resolves the live tier.
	snap.ReceivedAt = c.clk.Now()
	return snap, nil
}

func (c *pipelineCache) GetClose(context.Context, string) (int64, error) {
	return 0, pricecache.ErrMiss
}

func startPipeline(t *testing.T, at time.Time, prices map[string]int64) *pipeline {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	fc := clock.NewFakeClock(at.In(loc))
	cal := clock.NewCalendar(fc, clock.WithLocation(loc))

	snaps := map[string]pricecache.PriceSnapshot{}
	for ticker, price := range prices {
		snaps[ticker] = pricecache.PriceSnapshot{Ticker: ticker, LastPrice: price}
	}
	o := oracle.New(&pipelineCache{prices: snaps, clk: fc}, cal, 5*time.Minute, nil)

	catalog := stocks.NewMemCatalog(
		stocks.Stock{Ticker: "005930", Name: "Samsung Electronics", Status: common.StockListed},
		stocks.Stock{Ticker: "000660", Name: "SK hynix", Status: common.StockListed},
		stocks.Stock{Ticker: "035420", Name: "NAVER", Status: common.StockListed},
	)

	l := ledger.NewMemLedger(nil)
	store := orderstore.NewMemStore(nil)
	pub, sub := bus.NewGoChannelBackend()
	b := bus.New(pub, sub)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	retry := retrydispatch.New(rdb, b, fc, 0, common.RetryMax, 24*time.Hour)
	worker := matchingworker.New(b, store, l, retry, common.RetryMax, common.FillRateFloor, common.FillRateCeiling)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = matchingworker.Pool(ctx, 3, worker) }()
	go func() { _ = retry.RunDispatcher(ctx) }()

	t.Cleanup(cancel)
	return &pipeline{
		admission: admission.New(o, catalog, l, store, cal, b, common.MaxQuantityPerOrder, common.MaxPriceMinorUnits),
		opener:    reservation.New(o, l, store, b),
		ledger:    l,
		orders:    store,
		clock:     fc,
	}
}

func (p *pipeline) awaitTerminal(t *testing.T, orderID string) orderstore.Order {
	t.Helper()
	var got orderstore.Order
	require.Eventually(t, func() bool {
		o, err := p.orders.Get(context.Background(), orderID)
		if err != nil {
			return false
		}
		got = o
		return o.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return got
}

func kst(t *testing.T, hour int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return time.Date(2026, 7, 29, hour, 0, 0, 0, loc)
}

func TestPipeline_BuyExecutesEndToEnd(t *testing.T) {
	p := startPipeline(t, kst(t, 10), map[string]int64{"005930": 70_000})
	ctx := context.Background()

	price := int64(70_000)
	orderID, err := p.admission.SubmitBuy(ctx, "user-1", "005930", 1, &price)
	require.NoError(t, err)

	got := p.awaitTerminal(t, orderID)
	require.Equal(t, common.StatusExecuted, got.Status)
	require.LessOrEqual(t, got.RetryCount, common.RetryMax)

	balance, err := p.ledger.Balance(ctx, got.AccountID)
	require.NoError(t, err)
	require.Equal(t, int64(common.InitialCashMinorUnits)-70_000, balance)

	h, err := p.ledger.GetHolding(ctx, got.AccountID, "005930")
	require.NoError(t, err)
	require.Equal(t, uint64(1), h.Quantity)
	require.Equal(t, int64(70_000), h.AvgCostMinor)

	history, err := p.ledger.History(ctx, got.AccountID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, common.HistoryBuyStock, history[0].Type)
	require.Equal(t, int64(-70_000), history[0].AmountMinor)
}

func TestPipeline_SellCreditsProceeds(t *testing.T) {
	p := startPipeline(t, kst(t, 10), map[string]int64{"035420": 200_000})
	ctx := context.Background()

	acc, err := p.ledger.CreateAccount(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, p.ledger.ApplyBuyFill(ctx, acc.ID, "035420", 3, 180_000))

	price := int64(200_000)
	orderID, err := p.admission.SubmitSell(ctx, "user-1", "035420", 2, &price)
	require.NoError(t, err)

	got := p.awaitTerminal(t, orderID)
	require.Equal(t, common.StatusExecuted, got.Status)

	h, err := p.ledger.GetHolding(ctx, acc.ID, "035420")
	require.NoError(t, err)
	require.Equal(t, uint64(1), h.Quantity)
	require.Equal(t, int64(180_000), h.AvgCostMinor)

	balance, err := p.ledger.Balance(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(common.InitialCashMinorUnits)+400_000, balance)

	history, err := p.ledger.History(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, common.HistorySellStock, history[0].Type)
	require.Equal(t, int64(400_000), history[0].AmountMinor)
}

func TestPipeline_ReservedOrderOpensAndExecutes(t *testing.T) {
	// Admit on a Saturday: the order parks as RESERVED with cash debited.
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	saturday := time.Date(2026, 8, 1, 10, 0, 0, 0, loc)
	p := startPipeline(t, saturday, map[string]int64{"000660": 110_000})
	ctx := context.Background()

	price := int64(100_000)
	orderID, err := p.admission.SubmitBuy(ctx, "user-1", "000660", 2, &price)
	require.NoError(t, err)

	got, err := p.orders.Get(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, common.StatusReserved, got.Status)

	balance, err := p.ledger.Balance(ctx, got.AccountID)
	require.NoError(t, err)
	require.Equal(t, int64(common.InitialCashMinorUnits)-200_000, balance)

	// Monday 09:00: the opener re-anchors to the live 110,000, reserves
	// the 20,000 delta, and hands the order to the matching pipeline.
	p.clock.Set(time.Date(2026, 8, 3, 9, 0, 0, 0, loc))
	p.opener.RunOnce(ctx)

	final := p.awaitTerminal(t, orderID)
	require.Equal(t, common.StatusExecuted, final.Status)
	require.Equal(t, int64(110_000), final.PriceMinor)

	balance, err = p.ledger.Balance(ctx, final.AccountID)
	require.NoError(t, err)
	require.Equal(t, int64(common.InitialCashMinorUnits)-220_000, balance)
}

func TestPipeline_SellRaceFailsSecondOrder(t *testing.T) {
	p := startPipeline(t, kst(t, 10), map[string]int64{"035420": 200_000})
	ctx := context.Background()

	acc, err := p.ledger.CreateAccount(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, p.ledger.ApplyBuyFill(ctx, acc.ID, "035420", 3, 180_000))

	// Both sells admit against the same 3-share holding; together they
	// would oversell it, so exactly one can fill.
	price := int64(200_000)
	first, err := p.admission.SubmitSell(ctx, "user-1", "035420", 3, &price)
	require.NoError(t, err)
	second, err := p.admission.SubmitSell(ctx, "user-1", "035420", 3, &price)
	require.NoError(t, err)

	gotFirst := p.awaitTerminal(t, first)
	gotSecond := p.awaitTerminal(t, second)

	statuses := []common.OrderStatus{gotFirst.Status, gotSecond.Status}
	require.Contains(t, statuses, common.StatusExecuted)
	require.Contains(t, statuses, common.StatusFailed)

	// Only the executed sell credited cash.
	balance, err := p.ledger.Balance(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(common.InitialCashMinorUnits)+600_000, balance)
}
