package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// fakeServerTransport records notifications instead of sending them
type fakeServerTransport struct {
	mu        sync.Mutex
	handler   transport.RequestHandler
	running    bool
	startBlock chan struct{}
	startErr   error
	stopErr   error
	stopBlock chan struct{}
	sendErr   error
	sent      []*protocol.Notification
}

func (f *fakeServerTransport) Start(context.Context) error {
	f.mu.Lock()
	block := f.startBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeServerTransport) Stop(ctx context.Context) error {
	f.mu.Lock()
	block := f.stopBlock
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.running = false
	return nil
}

func (f *fakeServerTransport) SetRequestHandler(h transport.RequestHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeServerTransport) SendNotification(_ context.Context, n *protocol.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeServerTransport) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeServerTransport) Info() string { return "fake" }

func (f *fakeServerTransport) notifications() []*protocol.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Notification(nil), f.sent...)
}

func (f *fakeServerTransport) methods() []string {
	var out []string
	for _, n := range f.notifications() {
		out = append(out, n.Method)
	}
	return out
}

func TestLifecycleStartStop(t *testing.T) {
	l := NewLifecycle(logging.Nop())
	ft := &fakeServerTransport{}

	var events []string
	l.OnStart(func() { events = append(events, "start") })
	l.OnStop(func() { events = append(events, "stop") })

	assert.Equal(t, StateCreated, l.State())
	assert.False(t, l.IsRunning())
	assert.Zero(t, l.Uptime())

	require.NoError(t, l.Start(context.Background(), ft))
	assert.Equal(t, StateRunning, l.State())
	assert.True(t, l.IsRunning())
	assert.True(t, ft.IsRunning())

	require.NoError(t, l.Stop(context.Background()))
	assert.Equal(t, StateStopped, l.State())
	assert.False(t, l.IsRunning())
	assert.Zero(t, l.Uptime())

	// a stopped server can start again
	require.NoError(t, l.Start(context.Background(), ft))
	require.NoError(t, l.Stop(context.Background()))

	assert.Equal(t, []string{"start", "stop", "start", "stop"}, events)
}

func TestLifecycleRejectsInvalidTransitions(t *testing.T) {
	l := NewLifecycle(logging.Nop())
	ft := &fakeServerTransport{}

	err := l.Stop(context.Background())
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindInvalidState))
	assert.Equal(t, StateCreated, l.State())

	require.NoError(t, l.Start(context.Background(), ft))
	err = l.Start(context.Background(), ft)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindInvalidState))
	assert.Equal(t, StateRunning, l.State())
}

func TestLifecycleStartFailure(t *testing.T) {
	l := NewLifecycle(logging.Nop())
	ft := &fakeServerTransport{startErr: errors.New("address in use")}

	var got error
	l.OnError(func(err error) { got = err })

	err := l.Start(context.Background(), ft)
	require.Error(t, err)
	assert.Equal(t, StateError, l.State())
	assert.Equal(t, "address in use", l.Reason())
	assert.Equal(t, "Error(address in use)", l.String())
	assert.Equal(t, err, got)
	assert.False(t, l.IsRunning())

	// Error is terminal for Start
	ft.startErr = nil
	assert.True(t, mcperrors.IsKind(l.Start(context.Background(), ft), mcperrors.KindInvalidState))
}

func TestLifecycleStopFailure(t *testing.T) {
	l := NewLifecycle(logging.Nop())
	ft := &fakeServerTransport{}
	require.NoError(t, l.Start(context.Background(), ft))

	ft.stopErr = errors.New("stuck")
	require.Error(t, l.Stop(context.Background()))
	assert.Equal(t, StateError, l.State())
}

func TestLifecycleStopWithTimeout(t *testing.T) {
	l := NewLifecycle(logging.Nop())
	ft := &fakeServerTransport{stopBlock: make(chan struct{})}
	require.NoError(t, l.Start(context.Background(), ft))

	start := time.Now()
	err := l.StopWithTimeout(30 * time.Millisecond)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindConnectionTimeout))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateError, l.State())
	assert.False(t, l.IsRunning())
}

func TestLifecycleStopWithTimeoutReportsOnce(t *testing.T) {
	l := NewLifecycle(logging.Nop())
	ft := &fakeServerTransport{stopBlock: make(chan struct{})}
	require.NoError(t, l.Start(context.Background(), ft))

	var (
		mu      sync.Mutex
		reasons []string
	)
	l.OnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, err.Error())
	})

	err := l.StopWithTimeout(30 * time.Millisecond)
	require.Error(t, err)

	// the cancelled background stop must not fail the lifecycle again
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{err.Error()}, reasons)
	assert.Equal(t, err.Error(), l.Reason())
	assert.Equal(t, StateError, l.State())
}

func TestLifecycleStopWhileStarting(t *testing.T) {
	l := NewLifecycle(logging.Nop())
	ft := &fakeServerTransport{startBlock: make(chan struct{})}

	started := make(chan error, 1)
	go func() { started <- l.Start(context.Background(), ft) }()
	require.Eventually(t, func() bool { return l.State() == StateStarting }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop(context.Background()) }()
	require.Eventually(t, func() bool { return l.State() == StateStopping }, time.Second, time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("stop returned before the transport finished starting")
	case <-time.After(20 * time.Millisecond):
	}
	close(ft.startBlock)

	assert.True(t, mcperrors.IsKind(<-started, mcperrors.KindInvalidState))
	require.NoError(t, <-stopped)
	assert.Equal(t, StateStopped, l.State())
	assert.False(t, ft.IsRunning())

	require.NoError(t, l.Start(context.Background(), ft))
	assert.True(t, ft.IsRunning())
	require.NoError(t, l.Stop(context.Background()))
}

func TestLifecycleStopWithTimeoutCompletes(t *testing.T) {
	l := NewLifecycle(logging.Nop())
	ft := &fakeServerTransport{}
	require.NoError(t, l.Start(context.Background(), ft))

	require.NoError(t, l.StopWithTimeout(time.Second))
	assert.Equal(t, StateStopped, l.State())
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateCreated:  "Created",
		StateStarting: "Starting",
		StateRunning:  "Running",
		StateStopping: "Stopping",
		StateStopped:  "Stopped",
		StateError:    "Error",
		State(42):     "Unknown",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
