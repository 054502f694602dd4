// Package brokertest holds the behaviour every broker.Broker must show.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/broker"
)

// Factory creates a fresh broker for one test
type Factory func(t *testing.T) broker.Broker

// subscribeDelay gives a subscription time to start before publishing
const subscribeDelay = 150 * time.Millisecond

// Run runs the conformance suite against brokers built by factory
func Run(t *testing.T, factory Factory) {
	t.Run("PublishAndSubscribe", func(t *testing.T) { testPublishAndSubscribe(t, factory) })
	t.Run("OrderedDelivery", func(t *testing.T) { testOrderedDelivery(t, factory) })
	t.Run("MultipleSubscribers", func(t *testing.T) { testMultipleSubscribers(t, factory) })
	t.Run("TopicIsolation", func(t *testing.T) { testTopicIsolation(t, factory) })
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerError(t, factory) })
	t.Run("ContextCancellation", func(t *testing.T) { testCancellation(t, factory) })
}

func uniqueTopic(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

// collect subscribes to topic and returns received payloads once n arrived
func collect(ctx context.Context, b broker.Broker, topic string, n int) <-chan []string {
	out := make(chan []string, 1)
	go func() {
		var got []string
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		_ = b.Subscribe(ctx, topic, func(_ context.Context, env broker.Envelope) error {
			got = append(got, string(env.Data))
			if len(got) == n {
				cancel()
			}
			return nil
		})
		out <- got
	}()
	return out
}

func wait(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
		return nil
	}
}

func testPublishAndSubscribe(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	topic := uniqueTopic(t)

	received := collect(ctx, b, topic, 1)
	time.Sleep(subscribeDelay)

	id, err := b.Publish(ctx, topic, []byte(`{"jsonrpc":"2.0","method":"x"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, []string{`{"jsonrpc":"2.0","method":"x"}`}, wait(t, received))
}

func testOrderedDelivery(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	topic := uniqueTopic(t)

	received := collect(ctx, b, topic, 5)
	time.Sleep(subscribeDelay)

	var want []string
	for i := 0; i < 5; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		_, err := b.Publish(ctx, topic, []byte(msg))
		require.NoError(t, err)
	}
	assert.Equal(t, want, wait(t, received))
}

func testMultipleSubscribers(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	topic := uniqueTopic(t)

	first := collect(ctx, b, topic, 1)
	second := collect(ctx, b, topic, 1)
	time.Sleep(subscribeDelay)

	_, err := b.Publish(ctx, topic, []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, []string{"hello"}, wait(t, first))
	assert.Equal(t, []string{"hello"}, wait(t, second))
}

func testTopicIsolation(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	topicA, topicB := uniqueTopic(t)+"-a", uniqueTopic(t)+"-b"

	received := collect(ctx, b, topicA, 1)
	time.Sleep(subscribeDelay)

	_, err := b.Publish(ctx, topicB, []byte("for b"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, topicA, []byte("for a"))
	require.NoError(t, err)

	assert.Equal(t, []string{"for a"}, wait(t, received))
}

func testHandlerError(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	topic := uniqueTopic(t)
	boom := errors.New("boom")

	var (
		mu    sync.Mutex
		calls int
	)
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, topic, func(context.Context, broker.Envelope) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return boom
		})
	}()
	time.Sleep(subscribeDelay)

	_, err := b.Publish(ctx, topic, []byte("1"))
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func testCancellation(t *testing.T, factory Factory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, uniqueTopic(t), func(context.Context, broker.Envelope) error { return nil })
	}()
	time.Sleep(subscribeDelay)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription ignored cancellation")
	}
}
