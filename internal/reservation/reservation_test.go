package reservation_test

import (
	"context"
	"testing"
	"time"

	"bourse/internal/bus"
	"bourse/internal/clock"
	"bourse/internal/common"
	"bourse/internal/ledger"
	"bourse/internal/oracle"
	"bourse/internal/orderstore"
	"bourse/internal/pricecache"
	"bourse/internal/reservation"

	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	prices map[string]pricecache.PriceSnapshot
}

func (f *fakeCache) GetPrice(_ context.Context, ticker string) (pricecache.PriceSnapshot, error) {
	if snap, ok := f.prices[ticker]; ok {
		return snap, nil
	}
	return pricecache.PriceSnapshot{}, pricecache.ErrMiss
}

func (f *fakeCache) GetClose(context.Context, string) (int64, error) {
	return 0, pricecache.ErrMiss
}

func newOpener(t *testing.T, livePrice int64) (*reservation.Opener, *ledger.MemLedger, *orderstore.MemStore, *bus.Bus) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, loc) // market open instant
	fc := clock.NewFakeClock(now)
	cal := clock.NewCalendar(fc, clock.WithLocation(loc))

	cache := &fakeCache{prices: map[string]pricecache.PriceSnapshot{
		"000660": {LastPrice: livePrice, ReceivedAt: now},
	}}
	o := oracle.New(cache, cal, 5*time.Minute, nil)
	l := ledger.NewMemLedger(nil)
	store := orderstore.NewMemStore(nil)
	pub, sub := bus.NewGoChannelBackend()
	b := bus.New(pub, sub)

	return reservation.New(o, l, store, b), l, store, b
}

func TestRunOnce_PriceIncreaseReservesDeltaAndPromotes(t *testing.T) {
	opn, l, store, b := newOpener(t, 110_000)
	ctx := context.Background()

	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, l.ReserveCash(ctx, acc.ID, 200_000, "order-1")) // 2 * 100,000

	order, err := store.Create(ctx, orderstore.Order{
		ID: "order-1", Side: common.Buy, AccountID: acc.ID, Ticker: "000660",
		PriceMinor: 100_000, Quantity: 2, Status: common.StatusReserved,
	})
	require.NoError(t, err)

	envelopes, err := b.Subscribe(ctx, bus.TopicActive)
	require.NoError(t, err)

	opn.RunOnce(ctx)

	got, err := store.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, common.StatusPending, got.Status)
	require.Equal(t, int64(110_000), got.PriceMinor)

	balance, err := l.Balance(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(common.InitialCashMinorUnits)-200_000-20_000, balance)

	select {
	case env := <-envelopes:
		require.Equal(t, order.ID, env.Message.OrderID)
	case <-time.After(time.Second):
		t.Fatal("expected promoted order to be published")
	}
}

func TestRunOnce_PriceIncreaseShortfallCancelsAndRefunds(t *testing.T) {
	opn, l, store, _ := newOpener(t, 130_000)
	ctx := context.Background()

	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)
	// Spend everything but 210,000 up front, so after the 200,000
	// reservation only 10,000 remains and the 60,000 delta cannot fit.
	require.NoError(t, l.ReserveCash(ctx, acc.ID, int64(common.InitialCashMinorUnits)-210_000, "burn"))
	require.NoError(t, l.ReserveCash(ctx, acc.ID, 200_000, "order-1"))

	order, err := store.Create(ctx, orderstore.Order{
		ID: "order-1", Side: common.Buy, AccountID: acc.ID, Ticker: "000660",
		PriceMinor: 100_000, Quantity: 2, Status: common.StatusReserved,
	})
	require.NoError(t, err)

	opn.RunOnce(ctx)

	got, err := store.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, common.StatusCancelled, got.Status)

	balance, err := l.Balance(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(210_000), balance)
}

func TestRunOnce_PriceDecreaseReleasesDelta(t *testing.T) {
	opn, l, store, _ := newOpener(t, 90_000)
	ctx := context.Background()

	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, l.ReserveCash(ctx, acc.ID, 200_000, "order-1"))

	order, err := store.Create(ctx, orderstore.Order{
		ID: "order-1", Side: common.Buy, AccountID: acc.ID, Ticker: "000660",
		PriceMinor: 100_000, Quantity: 2, Status: common.StatusReserved,
	})
	require.NoError(t, err)

	opn.RunOnce(ctx)

	got, err := store.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, common.StatusPending, got.Status)
	require.Equal(t, int64(90_000), got.PriceMinor)

	balance, err := l.Balance(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(common.InitialCashMinorUnits)-180_000, balance)
}

func TestRunOnce_SellReanchorsPriceAndPromotes(t *testing.T) {
	opn, l, store, _ := newOpener(t, 95_000)
	ctx := context.Background()

	acc, err := l.CreateAccount(ctx, "user-1")
	require.NoError(t, err)

	order, err := store.Create(ctx, orderstore.Order{
		ID: "order-2", Side: common.Sell, AccountID: acc.ID, Ticker: "000660",
		PriceMinor: 100_000, Quantity: 3, Status: common.StatusReserved,
	})
	require.NoError(t, err)

	opn.RunOnce(ctx)

	got, err := store.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, common.StatusPending, got.Status)
	require.Equal(t, int64(95_000), got.PriceMinor)
}
