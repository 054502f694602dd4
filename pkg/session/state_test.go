package session

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt uint32
		want    time.Duration
	}{
		{"zero counts as first", 0, 100 * time.Millisecond},
		{"first", 1, 100 * time.Millisecond},
		{"second", 2, 200 * time.Millisecond},
		{"third", 3, 400 * time.Millisecond},
		{"capped", 10, 5 * time.Second},
		{"huge attempt stays capped", 5000, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delay(tt.attempt, 100*time.Millisecond, 2.0, 5*time.Second))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Connected", State{Kind: Connected}.String())
	assert.Equal(t, "Failed(dial refused)", FailedState("dial refused").String())
	assert.True(t, FailedState("x").Is(Failed))
}

func TestSubscriptionSeesCurrentThenEveryTransition(t *testing.T) {
	w := NewStateWatcher(State{Kind: Disconnected})
	w.Set(State{Kind: Connecting})

	sub := w.Subscribe()
	defer sub.Unsubscribe()

	// no reader while these happen: nothing may be lost
	w.Set(State{Kind: Connected})
	w.Set(State{Kind: Disconnected})
	w.Set(FailedState("gone"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := []State{{Kind: Connecting}, {Kind: Connected}, {Kind: Disconnected}, FailedState("gone")}
	for _, expected := range want {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, expected, got)
	}
	assert.Equal(t, FailedState("gone"), w.Current())
}

func TestSubscriptionNextWaits(t *testing.T) {
	w := NewStateWatcher(State{Kind: Disconnected})
	sub := w.Subscribe()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Set(State{Kind: Connected})
	}()
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Connected, got.Kind)

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = sub.Next(short)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindRequestTimeout))
}

func TestSubscriptionChannel(t *testing.T) {
	w := NewStateWatcher(State{Kind: Disconnected})
	sub := w.Subscribe()

	ch := sub.C()
	w.Set(State{Kind: Connecting})
	w.Set(State{Kind: Connected})

	var got []StateKind
	for i := 0; i < 3; i++ {
		select {
		case st := <-ch:
			got = append(got, st.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting on channel")
		}
	}
	assert.Equal(t, []StateKind{Disconnected, Connecting, Connected}, got)

	sub.Unsubscribe()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closes after Unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	w := NewStateWatcher(State{Kind: Disconnected})
	sub := w.Subscribe()
	sub.Unsubscribe()
	sub.Unsubscribe()

	w.Set(State{Kind: Connected})
	_, err := sub.Next(context.Background())
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindInvalidState))
}

func TestConcurrentSubscribers(t *testing.T) {
	w := NewStateWatcher(State{Kind: Disconnected})
	const transitions = 50

	subs := make([]*Subscription, 4)
	for i := range subs {
		subs[i] = w.Subscribe()
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			defer sub.Unsubscribe()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			prev := -1
			for i := 0; i <= transitions; i++ {
				st, err := sub.Next(ctx)
				if !assert.NoError(t, err) {
					return
				}
				if st.Kind == Failed {
					n, err := strconv.Atoi(st.Reason)
					assert.NoError(t, err)
					assert.Greater(t, n, prev)
					prev = n
				}
			}
		}(sub)
	}

	for i := 0; i < transitions; i++ {
		w.Set(FailedState(strconv.Itoa(i)))
	}
	wg.Wait()
}
