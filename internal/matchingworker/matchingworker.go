// Package matchingworker consumes orders.active, draws a probabilistic
// fill outcome per attempt, and applies the settlement or reversal ledger
// effects. A pool of workers runs under one tomb so a fatal error in any
// of them tears the group down together.
package matchingworker

import (
	"context"
	"math/rand"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/bus"
	"bourse/internal/common"
	"bourse/internal/ledger"
	"bourse/internal/metrics"
	"bourse/internal/orderstore"
	"bourse/internal/retrydispatch"
)

// Outcome tags the result of one fill attempt.
type Outcome int

const (
	Missed Outcome = iota
	Filled
	ForcedFilled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Filled:
		return "FILLED"
	case ForcedFilled:
		return "FORCED_FILLED"
	case Failed:
		return "FAILED"
	default:
		return "MISSED"
	}
}

// draw is the attempt outcome as a pure function of the retry counter and
// two independent uniform draws in [0,1): r2 jitters the per-attempt fill
// rate between floor and ceiling, r1 decides against it. An order that
// has exhausted its retries fills unconditionally.
func draw(retryCount, retryMax int, floor, ceiling, r1, r2 float64) Outcome {
	if retryCount >= retryMax {
		return ForcedFilled
	}
	p := floor + r2*(ceiling-floor)
	if r1 < p {
		return Filled
	}
	return Missed
}

// Worker is one matching consumer; Pool runs several concurrently over a
// shared subscription.
type Worker struct {
	bus       *bus.Bus
	orders    orderstore.Store
	ledger    ledger.Ledger
	retry     *retrydispatch.Scheduler
	retryMax  int
	rateFloor float64
	rateCeil  float64
}

// New builds a Worker.
func New(b *bus.Bus, orders orderstore.Store, l ledger.Ledger, retry *retrydispatch.Scheduler, retryMax int, rateFloor, rateCeil float64) *Worker {
	return &Worker{bus: b, orders: orders, ledger: l, retry: retry, retryMax: retryMax, rateFloor: rateFloor, rateCeil: rateCeil}
}

// Pool runs n copies of w under a tomb.Tomb and waits for ctx
// cancellation or the first worker failure. A router goroutine reads the
// single orders.active subscription and hashes each message's orderId to
// a fixed worker, so all messages for one order are handled by one
// goroutine in enqueue order; messages for different orders spread across
// the pool with no ordering between them.
func Pool(ctx context.Context, n int, w *Worker) error {
	t, ctx := tomb.WithContext(ctx)

	envelopes, err := w.bus.Subscribe(ctx, bus.TopicActive)
	if err != nil {
		return err
	}

	partitions := make([]chan *bus.Envelope, n)
	for i := range partitions {
		partitions[i] = make(chan *bus.Envelope)
	}

	t.Go(func() error {
		defer func() {
			for _, ch := range partitions {
				close(ch)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case env, ok := <-envelopes:
				if !ok {
					return nil
				}
				select {
				case partitions[bus.Partition(env.Message.OrderID, n)] <- env:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	for i := 0; i < n; i++ {
		ch := partitions[i]
		t.Go(func() error {
			return w.run(t.Context(ctx), ch)
		})
	}

	return t.Wait()
}

func (w *Worker) run(ctx context.Context, envelopes <-chan *bus.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-envelopes:
			if !ok {
				return nil
			}
			w.handle(ctx, env)
		}
	}
}

// handle processes one envelope end to end, always acknowledging: a
// poison message must never be redelivered forever. Redelivery of a
// message for an already-terminal order is a no-op because the status
// check runs before any ledger effect.
func (w *Worker) handle(ctx context.Context, env *bus.Envelope) {
	defer env.Ack()

	order, err := w.orders.Get(ctx, env.Message.OrderID)
	if err != nil {
		return
	}
	if order.Status != common.StatusPending {
		return
	}

	outcome := draw(order.RetryCount, w.retryMax, w.rateFloor, w.rateCeil, rand.Float64(), rand.Float64())
	metrics.IncMatchAttempt(outcome.String())

	switch outcome {
	case Filled, ForcedFilled:
		w.settle(ctx, order)
	case Missed:
		if _, err := w.orders.IncrementRetry(ctx, order.ID); err != nil {
			log.Error().Err(err).Str("orderId", order.ID).Msg("matchingworker: increment retry count failed")
		}
		if err := w.retry.Schedule(ctx, order.ID, order.Side, order.RetryCount); err != nil {
			log.Error().Err(err).Str("orderId", order.ID).Msg("matchingworker: schedule retry failed")
		}
	}
}

// settle applies the fill. A buy moves holdings only — its cash left the
// account at admission. A sell reduces the holding and credits the
// proceeds. Any ledger failure reverses the buy reservation and marks the
// order FAILED.
func (w *Worker) settle(ctx context.Context, order orderstore.Order) {
	var settleErr error
	amount := order.PriceMinor * int64(order.Quantity)

	if order.Side == common.Buy {
		settleErr = w.ledger.ApplyBuyFill(ctx, order.AccountID, order.Ticker, order.Quantity, order.PriceMinor)
	} else {
		if settleErr = w.ledger.ApplySellFill(ctx, order.AccountID, order.Ticker, order.Quantity); settleErr == nil {
			settleErr = w.ledger.CreditCash(ctx, order.AccountID, amount, order.ID)
		}
	}

	if settleErr != nil {
		if order.Side == common.Buy {
			if err := w.ledger.ReleaseCash(ctx, order.AccountID, amount, order.ID); err != nil {
				log.Error().Err(err).Str("orderId", order.ID).Msg("matchingworker: release cash after failed fill failed")
			}
		}
		if err := w.orders.Transition(ctx, order.ID, common.StatusFailed, nil); err != nil {
			log.Error().Err(err).Str("orderId", order.ID).Msg("matchingworker: transition to FAILED failed")
		}
		return
	}

	if err := w.orders.Transition(ctx, order.ID, common.StatusExecuted, nil); err != nil {
		log.Error().Err(err).Str("orderId", order.ID).Msg("matchingworker: transition to EXECUTED failed")
	}
}
