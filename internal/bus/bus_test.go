package bus_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bourse/internal/bus"
	"bourse/internal/common"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	pub, sub := bus.NewGoChannelBackend()
	b := bus.New(pub, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, bus.TopicActive)
	require.NoError(t, err)

	want := bus.Message{OrderID: "order-1", Side: common.Buy, EnqueuedAt: time.Now()}
	require.NoError(t, b.Publish(bus.TopicActive, want))

	select {
	case env := <-msgs:
		require.Equal(t, want.OrderID, env.Message.OrderID)
		require.Equal(t, common.Buy, env.Message.Side)
		env.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscribe_PreservesEnqueueOrderPerSubscription(t *testing.T) {
	pub, sub := bus.NewGoChannelBackend()
	b := bus.New(pub, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, bus.TopicRetry)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(bus.TopicRetry, bus.Message{OrderID: "order-1", RetryCount: i}))
	}

	for i := 0; i < 3; i++ {
		select {
		case env := <-msgs:
			require.Equal(t, i, env.Message.RetryCount)
			env.Ack()
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestPartition_StableForAnOrder(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7} {
		first := bus.Partition("order-42", n)
		require.GreaterOrEqual(t, first, 0)
		require.Less(t, first, n)
		for i := 0; i < 10; i++ {
			require.Equal(t, first, bus.Partition("order-42", n))
		}
	}
}

func TestPartition_SpreadsAcrossWorkers(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 8; i++ {
		idx := bus.Partition(fmt.Sprintf("order-%d", i), 3)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 3)
		seen[idx] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestPartition_SingleWorkerAlwaysZero(t *testing.T) {
	require.Equal(t, 0, bus.Partition("order-1", 1))
	require.Equal(t, 0, bus.Partition("order-1", 0))
}
