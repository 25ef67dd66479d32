// Package pendingcleanup is the post-close sweep: shortly after market
// close, any order still PENDING has missed its window. PENDING's only
// legal exits are EXECUTED or FAILED, so a stuck order is marked FAILED
// and its buy reservation released, the same reversal the matching
// worker applies on a failed fill.
package pendingcleanup

import (
	"context"

	"github.com/rs/zerolog/log"

	"bourse/internal/clock"
	"bourse/internal/common"
	"bourse/internal/ledger"
	"bourse/internal/metrics"
	"bourse/internal/orderstore"
)

// Cleaner is the pending-cleanup job.
type Cleaner struct {
	orders   orderstore.Store
	ledger   ledger.Ledger
	calendar *clock.Calendar
}

// New builds a Cleaner.
func New(orders orderstore.Store, l ledger.Ledger, cal *clock.Calendar) *Cleaner {
	return &Cleaner{orders: orders, ledger: l, calendar: cal}
}

// RunOnce fails every order still PENDING once the market has closed. It is
// a no-op if called while the market happens to still be open (a manually
// triggered run, or a misconfigured cron spec).
func (c *Cleaner) RunOnce(ctx context.Context) {
	if c.calendar.IsOpen() {
		return
	}

	pending, err := c.orders.ListByStatus(ctx, common.StatusPending)
	if err != nil {
		log.Error().Err(err).Msg("pendingcleanup: list pending orders failed")
		return
	}

	for _, ord := range pending {
		if ord.Side == common.Buy {
			amount := ord.PriceMinor * int64(ord.Quantity)
			if err := c.ledger.ReleaseCash(ctx, ord.AccountID, amount, ord.ID); err != nil {
				log.Error().Err(err).Str("orderId", ord.ID).Msg("pendingcleanup: release cash failed")
				continue
			}
		}
		if err := c.orders.Transition(ctx, ord.ID, common.StatusFailed, nil); err != nil {
			log.Error().Err(err).Str("orderId", ord.ID).Msg("pendingcleanup: transition to FAILED failed")
			continue
		}
		metrics.IncPendingCleanup(ord.Side.String())
	}
}
