// Package reservation promotes orders parked while the market was
// closed: at open, every RESERVED order moves toward PENDING, with buy
// orders re-anchored to the live price and their cash reservation
// adjusted by the delta.
package reservation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"bourse/internal/bus"
	"bourse/internal/common"
	"bourse/internal/ledger"
	"bourse/internal/metrics"
	"bourse/internal/oracle"
	"bourse/internal/orderstore"
)

// Opener walks the RESERVED orders at market open. Each per-order
// transition is its own transaction; the pass makes no attempt to open
// all reserved orders atomically.
type Opener struct {
	oracle *oracle.Oracle
	ledger ledger.Ledger
	orders orderstore.Store
	bus    *bus.Bus
}

// New builds an Opener.
func New(o *oracle.Oracle, l ledger.Ledger, s orderstore.Store, b *bus.Bus) *Opener {
	return &Opener{oracle: o, ledger: l, orders: s, bus: b}
}

// RunOnce walks every RESERVED order once. It never returns an error for
// a single order's failure; each order is logged and the pass continues
// with the next one.
func (o *Opener) RunOnce(ctx context.Context) {
	reserved, err := o.orders.ListByStatus(ctx, common.StatusReserved)
	if err != nil {
		log.Error().Err(err).Msg("reservation: list reserved orders failed")
		return
	}

	for _, ord := range reserved {
		if ord.Side == common.Buy {
			o.openBuy(ctx, ord)
		} else {
			o.openSell(ctx, ord)
		}
	}
}

func (o *Opener) openBuy(ctx context.Context, ord orderstore.Order) {
	live, err := o.oracle.CurrentPrice(ctx, ord.Ticker)
	if err != nil {
		log.Error().Err(err).Str("orderId", ord.ID).Msg("reservation: resolve live price failed")
		return
	}

	delta := (live.Amount - ord.PriceMinor) * int64(ord.Quantity)

	switch {
	case delta == 0:
		o.promote(ctx, ord, live.Amount)
	case delta < 0:
		if err := o.ledger.ReleaseCash(ctx, ord.AccountID, -delta, ord.ID); err != nil {
			log.Error().Err(err).Str("orderId", ord.ID).Msg("reservation: release cash for price decrease failed")
			return
		}
		o.promote(ctx, ord, live.Amount)
	default: // delta > 0
		can, err := o.ledger.CanReserve(ctx, ord.AccountID, delta)
		if err != nil {
			log.Error().Err(err).Str("orderId", ord.ID).Msg("reservation: canReserve check failed")
			return
		}
		if !can {
			o.cancelForShortfall(ctx, ord)
			return
		}
		if err := o.ledger.ReserveCash(ctx, ord.AccountID, delta, ord.ID); err != nil {
			log.Error().Err(err).Str("orderId", ord.ID).Msg("reservation: reserve additional cash failed")
			o.cancelForShortfall(ctx, ord)
			return
		}
		o.promote(ctx, ord, live.Amount)
	}
}

func (o *Opener) openSell(ctx context.Context, ord orderstore.Order) {
	live, err := o.oracle.CurrentPrice(ctx, ord.Ticker)
	if err != nil {
		log.Error().Err(err).Str("orderId", ord.ID).Msg("reservation: resolve live price failed")
		return
	}
	o.promote(ctx, ord, live.Amount)
}

// promote moves a RESERVED order to PENDING at its (possibly re-anchored)
// price and publishes it to the execution bus.
func (o *Opener) promote(ctx context.Context, ord orderstore.Order, priceMinor int64) {
	err := o.orders.Transition(ctx, ord.ID, common.StatusPending, func(mut *orderstore.Order) {
		mut.PriceMinor = priceMinor
	})
	if err != nil {
		log.Error().Err(err).Str("orderId", ord.ID).Msg("reservation: promote to PENDING failed")
		return
	}
	metrics.IncReservationOutcome(ord.Side.String(), "PROMOTED")
	if err := o.bus.Publish(bus.TopicActive, bus.Message{
		OrderID:    ord.ID,
		Side:       ord.Side,
		EnqueuedAt: time.Now(),
	}); err != nil {
		log.Error().Err(err).Str("orderId", ord.ID).Msg("reservation: publish promoted order failed")
	}
}

// cancelForShortfall releases the original reservation and cancels a buy
// order that cannot afford its re-anchored price.
func (o *Opener) cancelForShortfall(ctx context.Context, ord orderstore.Order) {
	originalAmount := ord.PriceMinor * int64(ord.Quantity)
	if err := o.ledger.ReleaseCash(ctx, ord.AccountID, originalAmount, ord.ID); err != nil {
		log.Error().Err(err).Str("orderId", ord.ID).Msg("reservation: release cash on cancellation failed")
		return
	}
	if err := o.orders.Transition(ctx, ord.ID, common.StatusCancelled, nil); err != nil {
		log.Error().Err(err).Str("orderId", ord.ID).Msg("reservation: transition to CANCELLED failed")
		return
	}
	metrics.IncReservationOutcome(ord.Side.String(), "CANCELLED")
}

// Schedule registers RunOnce against a cron.Cron at the given
// seconds-first expression (e.g. "0 0 9 * * MON-FRI" for 09:00 local).
// Callers own the cron's lifecycle.
func Schedule(c *cron.Cron, spec string, o *Opener) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		o.RunOnce(context.Background())
	})
}
