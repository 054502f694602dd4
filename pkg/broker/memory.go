package broker

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// Memory is a single-process Broker. Publish blocks until every subscriber
// has accepted the message into its buffer.
type Memory struct {
	mu      sync.RWMutex
	topics  map[string]map[*memorySub]struct{}
	seq     atomic.Int64
	closed  chan struct{}
	closing sync.Once
}

type memorySub struct {
	ch   chan Envelope
	done chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		topics: make(map[string]map[*memorySub]struct{}),
		closed: make(chan struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	select {
	case <-m.closed:
		return "", ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	env := Envelope{ID: strconv.FormatInt(m.seq.Add(1), 10), Data: append([]byte(nil), data...)}

	m.mu.RLock()
	subs := make([]*memorySub, 0, len(m.topics[topic]))
	for s := range m.topics[topic] {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- env:
		case <-s.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return env.ID, nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string, handler Handler) error {
	s := &memorySub{ch: make(chan Envelope, 64), done: make(chan struct{})}

	m.mu.Lock()
	if m.topics[topic] == nil {
		m.topics[topic] = make(map[*memorySub]struct{})
	}
	m.topics[topic][s] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.topics[topic], s)
		if len(m.topics[topic]) == 0 {
			delete(m.topics, topic)
		}
		m.mu.Unlock()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return ErrClosed
		case env := <-s.ch:
			if err := handler(ctx, env); err != nil {
				return err
			}
		}
	}
}

// Subscribers returns the number of active subscriptions to topic
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics[topic])
}

// Close ends every subscription
func (m *Memory) Close() error {
	m.closing.Do(func() { close(m.closed) })
	return nil
}
