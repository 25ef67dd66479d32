package bus

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// NewGoChannelBackend builds an in-process Publisher/Subscriber pair, used
// for tests and single-process deployments. Persistent delivery means a
// subscriber that connects after a publish still receives the message,
// which the retry republish loop relies on.
func NewGoChannelBackend() (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 256,
			Persistent:          true,
		},
		NewLogger(),
	)
	return pubSub, pubSub
}

// NATSConfig locates the NATS Streaming cluster backing the bus in
// multi-process deployments.
type NATSConfig struct {
	URL       string
	ClusterID string
	ClientID  string
}

// NewNATSBackend builds a Publisher/Subscriber pair against a NATS
// Streaming cluster. The durable queue group gives at-least-once delivery
// with redelivery after AckWaitTimeout, matching the manual-ack contract
// consumers are written against.
func NewNATSBackend(cfg NATSConfig) (message.Publisher, message.Subscriber, error) {
	marshaler := nats.GobMarshaler{}

	publisher, err := nats.NewStreamingPublisher(nats.StreamingPublisherConfig{
		ClusterID:   cfg.ClusterID,
		ClientID:    cfg.ClientID + "-pub",
		StanOptions: []stan.Option{stan.NatsURL(cfg.URL)},
		Marshaler:   marshaler,
	}, NewLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("bus: new nats publisher: %w", err)
	}

	// One subscription per topic per process: STAN delivers a channel's
	// messages to a single subscription in publish order, and the consumer
	// pools fan out per-order via Partition. More subscriptions here would
	// round-robin messages across goroutines and break that ordering.
	subscriber, err := nats.NewStreamingSubscriber(nats.StreamingSubscriberConfig{
		ClusterID:        cfg.ClusterID,
		ClientID:         cfg.ClientID + "-sub",
		QueueGroup:       "bourse",
		DurableName:      "bourse-durable",
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     5 * time.Second,
		StanOptions:      []stan.Option{stan.NatsURL(cfg.URL)},
		Unmarshaler:      marshaler,
	}, NewLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("bus: new nats subscriber: %w", err)
	}

	return publisher, subscriber, nil
}
