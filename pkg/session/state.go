package session

import (
	"context"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
)

// StateKind names a connection state
type StateKind int

const (
	Disconnected StateKind = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (k StateKind) String() string {
	switch k {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// State is the connection state of a session. Reason is only set for Failed.
type State struct {
	Kind   StateKind
	Reason string
}

// FailedState builds the Failed state carrying reason
func FailedState(reason string) State {
	return State{Kind: Failed, Reason: reason}
}

func (s State) String() string {
	if s.Kind == Failed && s.Reason != "" {
		return "Failed(" + s.Reason + ")"
	}
	return s.Kind.String()
}

// Is reports whether the state has kind k
func (s State) Is(k StateKind) bool { return s.Kind == k }

// StateWatcher holds the current state and fans transitions out to subscribers
type StateWatcher struct {
	mu      sync.Mutex
	current State
	subs    map[*Subscription]struct{}
}

func NewStateWatcher(initial State) *StateWatcher {
	return &StateWatcher{
		current: initial,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Current returns the latest state
func (w *StateWatcher) Current() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Set records s and queues it for every subscriber
func (w *StateWatcher) Set(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = s
	for sub := range w.subs {
		sub.push(s)
	}
}

// Subscribe returns a subscription whose first value is the current state.
// Every later transition is delivered once, in order.
func (w *StateWatcher) Subscribe() *Subscription {
	sub := &Subscription{
		watcher: w,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	sub.push(w.current)
	w.subs[sub] = struct{}{}
	return sub
}

func (w *StateWatcher) remove(sub *Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, sub)
}

// Subscription receives state transitions. Values are buffered without bound
// so a slow reader never loses a transition.
type Subscription struct {
	watcher *StateWatcher

	mu      sync.Mutex
	pending []State
	closed  bool
	signal  chan struct{}
	done    chan struct{}

	chOnce sync.Once
	ch     chan State
}

func (s *Subscription) push(st State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, st)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (State, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		st := s.pending[0]
		s.pending = s.pending[1:]
		return st, true, false
	}
	return State{}, false, s.closed
}

// Next returns the next state, waiting for one if none is buffered
func (s *Subscription) Next(ctx context.Context) (State, error) {
	for {
		st, ok, closed := s.pop()
		if ok {
			return st, nil
		}
		if closed {
			return State{}, mcperrors.InvalidState("next", "Unsubscribed")
		}

		select {
		case <-s.signal:
		case <-s.done:
		case <-ctx.Done():
			return State{}, mcperrors.FromContext(ctx.Err(), "wait for state", 0)
		}
	}
}

// C returns a channel delivering the same sequence as Next. It is closed
// after Unsubscribe.
func (s *Subscription) C() <-chan State {
	s.chOnce.Do(func() {
		s.ch = make(chan State)
		go s.forward()
	})
	return s.ch
}

func (s *Subscription) forward() {
	defer close(s.ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		st, err := s.Next(ctx)
		if err != nil {
			return
		}
		select {
		case s.ch <- st:
		case <-s.done:
			return
		}
	}
}

// Unsubscribe stops delivery. Buffered values are discarded.
func (s *Subscription) Unsubscribe() {
	s.watcher.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.done)
}
