package transport

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

func note(t *testing.T, method string) *protocol.Notification {
	t.Helper()
	n, err := protocol.NewNotification(method, nil)
	require.NoError(t, err)
	return n
}

func TestQueueEmptyIsNotClosed(t *testing.T) {
	q := NewNotificationQueue()

	n, err := q.Pop()
	assert.NoError(t, err)
	assert.Nil(t, n)
}

func TestQueueKeepsEveryNotificationInOrder(t *testing.T) {
	q := NewNotificationQueue()
	const total = 5000
	for i := 0; i < total; i++ {
		require.True(t, q.Push(note(t, fmt.Sprintf("n%d", i))))
	}
	assert.Equal(t, total, q.Len())

	for i := 0; i < total; i++ {
		n, err := q.Pop()
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, fmt.Sprintf("n%d", i), n.Method)
	}
	n, err := q.Pop()
	assert.NoError(t, err)
	assert.Nil(t, n)
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	q := NewNotificationQueue()
	q.Push(note(t, "a"))
	q.Close()

	assert.False(t, q.Push(note(t, "b")), "push after close")

	n, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "a", n.Method)

	_, err = q.Pop()
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestQueueReadySignals(t *testing.T) {
	q := NewNotificationQueue()
	ready := q.Ready()

	go q.Push(note(t, "a"))
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("ready was not signalled after push")
	}

	// a waiter parked before Close must wake up
	_, _ = q.Pop()
	ready = q.Ready()
	go q.Close()
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("ready was not signalled on close")
	}

	select {
	case <-q.Ready():
	default:
		t.Fatal("a closed queue must always be ready")
	}
}
