package transport

import (
	"context"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// MockTransport is an in-memory Transport for tests. Requests are answered
// by the handler for their method; unknown methods get MethodNotFound.
type MockTransport struct {
	mu        sync.Mutex
	handlers  map[string]func(*protocol.Request) (*protocol.Response, error)
	requests  []*protocol.Request
	sent      []*protocol.Notification
	failing   bool
	closed    bool
	queue     *NotificationQueue
	closeHook func()
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		handlers: make(map[string]func(*protocol.Request) (*protocol.Response, error)),
		queue:    NewNotificationQueue(),
	}
}

// Handle sets the reply function for method
func (m *MockTransport) Handle(method string, fn func(*protocol.Request) (*protocol.Response, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = fn
}

// HandleResult answers method with a fixed result
func (m *MockTransport) HandleResult(method string, result interface{}) {
	m.Handle(method, func(req *protocol.Request) (*protocol.Response, error) {
		return protocol.NewResponse(req.ID, result)
	})
}

// SetFailing makes every send fail with a transport error until reset
func (m *MockTransport) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// OnClose registers fn to run when the transport is closed
func (m *MockTransport) OnClose(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHook = fn
}

// Inject queues a notification as if the peer had sent it
func (m *MockTransport) Inject(n *protocol.Notification) bool {
	return m.queue.Push(n)
}

// Requests returns the requests sent so far
func (m *MockTransport) Requests() []*protocol.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*protocol.Request(nil), m.requests...)
}

// Notifications returns the notifications sent so far
func (m *MockTransport) Notifications() []*protocol.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*protocol.Notification(nil), m.sent...)
}

func (m *MockTransport) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, mcperrors.NotConnected()
	}
	if m.failing {
		m.mu.Unlock()
		return nil, mcperrors.TransportIO("mock", "write", mcperrors.ConnectionClosed("mock"))
	}
	m.requests = append(m.requests, req)
	fn, ok := m.handlers[req.Method]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, mcperrors.FromContext(err, req.Method, 0)
	}
	if !ok {
		return mcperrors.ToResponse(mcperrors.MethodNotFound(req.Method), req.ID), nil
	}
	return fn(req)
}

func (m *MockTransport) SendNotification(_ context.Context, n *protocol.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return mcperrors.NotConnected()
	}
	if m.failing {
		return mcperrors.TransportIO("mock", "write", mcperrors.ConnectionClosed("mock"))
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *MockTransport) ReceiveNotification() (*protocol.Notification, error) {
	return m.queue.Pop()
}

func (m *MockTransport) Ready() <-chan struct{} {
	return m.queue.Ready()
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	hook := m.closeHook
	m.mu.Unlock()

	m.queue.Close()
	if hook != nil {
		hook()
	}
	return nil
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *MockTransport) Info() string { return "mock" }
