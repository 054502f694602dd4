package transport

import (
	"sync"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// NotificationQueue is the unbounded FIFO between a transport's receive
// loop and the dispatcher. Push never blocks the receive loop and never
// discards a notification.
type NotificationQueue struct {
	mu     sync.Mutex
	items  []*protocol.Notification
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func NewNotificationQueue() *NotificationQueue {
	return &NotificationQueue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push enqueues n. It reports false if the queue is closed.
func (q *NotificationQueue) Push(n *protocol.Notification) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, n)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop returns the oldest notification, (nil, nil) when empty, or
// ErrChannelClosed once closed and drained.
func (q *NotificationQueue) Pop() (*protocol.Notification, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		n := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		return n, nil
	}
	if q.closed {
		return nil, ErrChannelClosed
	}
	return nil, nil
}

// Ready fires after a push. Once the queue is closed the returned channel
// is always ready.
func (q *NotificationQueue) Ready() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return q.done
	}
	return q.ready
}

// Close stops accepting notifications. Queued items can still be popped.
func (q *NotificationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
		// wake a consumer already waiting on ready
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
}

func (q *NotificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
