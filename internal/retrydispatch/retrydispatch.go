// Package retrydispatch gates redelivery of missed orders: a per-order
// retry counter and next-eligible-time, durably recorded in Redis and
// mirrored through an in-process btree ordered by nextEligibleAt so the
// soonest-eligible record is always at the front.
package retrydispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"bourse/internal/bus"
	"bourse/internal/clock"
	"bourse/internal/common"
	"bourse/internal/metrics"
)

// record is one in-process delay-queue entry, ordered by nextEligibleAt.
type record struct {
	orderID        string
	side           common.Side
	retryCount     int
	nextEligibleAt time.Time
}

// Scheduler persists a retry record to Redis, tracks it in an ordered
// in-process btree (for PendingDepth and NextEligible), and publishes the
// retry message with NotBefore set. The dispatcher gates on each message's
// NotBefore, forwarding to orders.active no earlier than nextEligibleAt;
// it does not sweep the btree.
type Scheduler struct {
	rdb   *redis.Client
	bus   *bus.Bus
	clk   clock.Clock
	delay time.Duration
	max   int
	ttl   time.Duration

	mu        sync.Mutex
	pending   *btree.BTreeG[*record]
	byOrderID map[string]time.Time // orderID -> nextEligibleAt, to key btree deletes
}

// New builds a Scheduler. clk supplies every time read so tests can
// drive the eligibility gate with a fake clock.
func New(rdb *redis.Client, b *bus.Bus, clk clock.Clock, delay time.Duration, max int, ttl time.Duration) *Scheduler {
	return &Scheduler{
		rdb:   rdb,
		bus:   b,
		clk:   clk,
		delay: delay,
		max:   max,
		ttl:   ttl,
		pending: btree.NewBTreeG(func(a, b *record) bool {
			if a.nextEligibleAt.Equal(b.nextEligibleAt) {
				return a.orderID < b.orderID
			}
			return a.nextEligibleAt.Before(b.nextEligibleAt)
		}),
		byOrderID: map[string]time.Time{},
	}
}

func retryCountKey(orderID string) string { return "retry:count:" + orderID }
func retryDelayKey(orderID string) string { return "retry:delay:" + orderID }

// recyclePause bounds how often a single not-yet-eligible message cycles
// through orders.retry.
const recyclePause = 50 * time.Millisecond

// Schedule increments retryCount, persists the retry record, and
// publishes to orders.retry with notBefore set.
func (s *Scheduler) Schedule(ctx context.Context, orderID string, side common.Side, retryCount int) error {
	next := retryCount + 1
	if next > s.max {
		// The worker force-fills once the counter reaches max, so a
		// schedule call past it has nothing left to do.
		return nil
	}

	nextEligibleAt := s.clk.Now().Add(s.delay)

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, retryCountKey(orderID), next, s.ttl)
	pipe.Set(ctx, retryDelayKey(orderID), nextEligibleAt.Unix(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retrydispatch: persist retry record for %s: %w", orderID, err)
	}

	s.mu.Lock()
	s.pending.Set(&record{orderID: orderID, side: side, retryCount: next, nextEligibleAt: nextEligibleAt})
	s.byOrderID[orderID] = nextEligibleAt
	depth := s.pending.Len()
	s.mu.Unlock()
	metrics.SetRetryPendingDepth(depth)

	return s.bus.Publish(bus.TopicRetry, bus.Message{
		OrderID:    orderID,
		Side:       side,
		RetryCount: next,
		EnqueuedAt: s.clk.Now(),
		NotBefore:  &nextEligibleAt,
	})
}

// RunDispatcher consumes orders.retry and forwards each message to
// orders.active once now >= notBefore, otherwise re-publishes it to
// orders.retry unchanged. It returns when ctx is cancelled.
func (s *Scheduler) RunDispatcher(ctx context.Context) error {
	envelopes, err := s.bus.Subscribe(ctx, bus.TopicRetry)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-envelopes:
			if !ok {
				return nil
			}
			s.dispatch(ctx, env)
		}
	}
}

// PendingDepth reports how many orders are currently waiting out their
// retry delay, for the matching pipeline's retry-depth gauge.
func (s *Scheduler) PendingDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// NextEligible returns the soonest nextEligibleAt among pending retries,
// or false if none are pending.
func (s *Scheduler) NextEligible() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.pending.Min()
	if !ok {
		return time.Time{}, false
	}
	return r.nextEligibleAt, true
}

func (s *Scheduler) dispatch(ctx context.Context, env *bus.Envelope) {
	defer env.Ack()

	msg := env.Message
	if msg.NotBefore != nil && s.clk.Now().Before(*msg.NotBefore) {
		// Pause before recycling so a not-yet-eligible message does not
		// spin through the topic at full speed for its whole delay.
		select {
		case <-ctx.Done():
			return
		case <-time.After(recyclePause):
		}
		if err := s.bus.Publish(bus.TopicRetry, msg); err != nil {
			log.Error().Err(err).Str("orderId", msg.OrderID).Msg("retrydispatch: republish delayed message failed")
		}
		return
	}

	s.mu.Lock()
	if at, ok := s.byOrderID[msg.OrderID]; ok {
		s.pending.Delete(&record{orderID: msg.OrderID, nextEligibleAt: at})
		delete(s.byOrderID, msg.OrderID)
	}
	depth := s.pending.Len()
	s.mu.Unlock()
	metrics.SetRetryPendingDepth(depth)

	if err := s.bus.Publish(bus.TopicActive, msg); err != nil {
		log.Error().Err(err).Str("orderId", msg.OrderID).Msg("retrydispatch: forward to active failed")
	}
}
