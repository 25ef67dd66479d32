// Package bus is the execution bus: at-least-once delivery over two
// logical topics, orders.active and orders.retry. Per-order ordering is a
// two-part contract: each backend delivers a topic's messages to a single
// subscription in enqueue order (gochannel is an ordered channel, the
// NATS Streaming backend runs one ordered subscription per process), and
// consumers route every message through Partition so all messages for one
// orderId land on the same goroutine. Built on watermill's
// Publisher/Subscriber pair, swappable between the in-process gochannel
// backend (tests, single-process deployments) and NATS Streaming
// (multi-process deployments) without touching caller code.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"bourse/internal/common"
)

// The two logical queues orders flow through.
const (
	TopicActive = "orders.active"
	TopicRetry  = "orders.retry"
)

// Message is the wire envelope published to either topic.
type Message struct {
	OrderID    string      `json:"orderId"`
	Side       common.Side `json:"side"`
	RetryCount int         `json:"retryCount"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
	NotBefore  *time.Time  `json:"notBefore,omitempty"`
}

// Bus is the minimal surface the admission service, matching worker, and
// retry scheduler need: publish a Message and subscribe to a topic's
// stream of Messages.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

// New wraps an already-constructed watermill Publisher/Subscriber pair.
// Callers choose the backend (gochannel.NewGoChannel for tests and
// single-process runs, watermill-nats's NewStreamingPublisher/
// NewStreamingSubscriber via NewNATSBackend for multi-process deployments).
func New(publisher message.Publisher, subscriber message.Subscriber) *Bus {
	return &Bus{publisher: publisher, subscriber: subscriber}
}

// Publish enqueues msg onto topic. The orderId also travels as metadata
// for tracing and operational filtering.
func (b *Bus) Publish(topic string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal message for order %s: %w", msg.OrderID, err)
	}
	wmsg := message.NewMessage(uuid.NewString(), payload)
	wmsg.Metadata.Set("orderId", msg.OrderID)
	if err := b.publisher.Publish(topic, wmsg); err != nil {
		return fmt.Errorf("bus: publish order %s to %s: %w", msg.OrderID, topic, err)
	}
	return nil
}

// Subscribe returns a channel of decoded Messages for topic. The caller
// is responsible for Ack()-ing the underlying watermill message only
// after the consequent state change is durably persisted.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *Envelope, error) {
	raw, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}
	out := make(chan *Envelope)
	go func() {
		defer close(out)
		for wmsg := range raw {
			var msg Message
			if err := json.Unmarshal(wmsg.Payload, &msg); err != nil {
				// Poison message: ack to prevent infinite redelivery.
				// There is nothing sensible to retry here.
				wmsg.Ack()
				continue
			}
			select {
			case out <- &Envelope{Message: msg, raw: wmsg}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Envelope pairs a decoded Message with the underlying watermill message
// so the consumer can Ack/Nack it once processing finishes.
type Envelope struct {
	Message Message
	raw     *message.Message
}

// Ack acknowledges successful processing.
func (e *Envelope) Ack() { e.raw.Ack() }

// Nack signals the message should be redelivered.
func (e *Envelope) Nack() { e.raw.Nack() }

// Partition maps orderID onto a stable index in [0, n), so a consumer
// pool can pin each order's messages to one worker. Same id, same index,
// for the lifetime of the order.
func Partition(orderID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return int(h.Sum32() % uint32(n))
}

// NewLogger adapts watermill's logging to a no-op; the components wire
// zerolog separately from watermill's own logger.
func NewLogger() watermill.LoggerAdapter {
	return watermill.NopLogger{}
}
