// Package feedsub is the pre-open feed-subscription refresh job: shortly
// before market open, recompute the set of tickers with at least one
// order in flight (PENDING or RESERVED) so the external price feed knows
// what to subscribe to for the day. The backend imposes no schema on the
// feed beyond the price-cache writes, so the job logs the refreshed set
// rather than pushing it anywhere.
package feedsub

import (
	"context"

	"github.com/rs/zerolog/log"

	"bourse/internal/common"
	"bourse/internal/orderstore"
)

// Refresher is the feed-subscription refresh job.
type Refresher struct {
	orders orderstore.Store
}

// New builds a Refresher.
func New(orders orderstore.Store) *Refresher {
	return &Refresher{orders: orders}
}

// RunOnce recomputes the distinct ticker set across every in-flight order
// and logs it for the external feed to pick up.
func (r *Refresher) RunOnce(ctx context.Context) {
	seen := map[string]struct{}{}
	for _, status := range []common.OrderStatus{common.StatusPending, common.StatusReserved} {
		orders, err := r.orders.ListByStatus(ctx, status)
		if err != nil {
			log.Error().Err(err).Str("status", status.String()).Msg("feedsub: list orders failed")
			continue
		}
		for _, o := range orders {
			seen[o.Ticker] = struct{}{}
		}
	}

	tickers := make([]string, 0, len(seen))
	for t := range seen {
		tickers = append(tickers, t)
	}
	log.Info().Strs("tickers", tickers).Int("count", len(tickers)).Msg("feedsub: refreshed subscription set")
}
