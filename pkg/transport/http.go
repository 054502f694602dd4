package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmaxmax/go-sse"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// Paths served by HTTPServer and used by HTTPTransport
const (
	PathRPC    = "/mcp"
	PathNotify = "/mcp/notify"
	PathEvents = "/mcp/events"
	PathHealth = "/health"
)

const sseRetryDelay = time.Second

// HTTPTransport posts each request to {endpoint}/mcp and reads the response
// from the reply body, so no correlation table is involved; the response id
// is still checked. Server notifications arrive over an event stream.
type HTTPTransport struct {
	base      string
	sseURL    string
	client    *http.Client
	headers   map[string]string
	timeout   time.Duration
	maxSize   int64
	logger    logging.Logger
	metrics   observability.MetricsProvider
	queue     *NotificationQueue
	connected atomic.Bool

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
}

// NewHTTPTransport connects to the server at base, e.g. "http://localhost:8080"
func NewHTTPTransport(ctx context.Context, base string, opts ...Option) (*HTTPTransport, error) {
	cfg := config.DefaultTransportConfig(config.TransportHTTP)
	cfg.Endpoint = base
	return newHTTPTransport(ctx, cfg, buildOptions(opts))
}

func newHTTPTransport(_ context.Context, cfg Config, o *options) (*HTTPTransport, error) {
	if cfg.Endpoint == "" {
		return nil, mcperrors.InvalidParams("http endpoint is required")
	}
	base := strings.TrimRight(cfg.Endpoint, "/")
	sseURL := cfg.SSEEndpoint
	if sseURL == "" {
		sseURL = base + PathEvents
	}
	client := o.httpClient
	if client == nil {
		client = &http.Client{}
	}

	t := &HTTPTransport{
		base:    base,
		sseURL:  sseURL,
		client:  client,
		headers: cfg.Headers,
		timeout: cfg.RequestTimeout,
		maxSize: cfg.MaxMessageSize,
		logger:  o.logger.WithFields(logging.String("component", "http_transport")),
		metrics: o.metrics,
		queue:   NewNotificationQueue(),
	}
	t.connected.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.group, ctx = errgroup.WithContext(ctx)
	t.group.Go(func() error {
		t.eventLoop(ctx)
		return nil
	})
	return t, nil
}

func (t *HTTPTransport) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if !t.connected.Load() {
		return nil, mcperrors.NotConnected()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, mcperrors.Serialization(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, err := t.post(reqCtx, t.base+PathRPC, data)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, mcperrors.FromContext(reqCtx.Err(), req.Method, t.timeout)
		}
		return nil, err
	}

	msg, err := protocol.Classify(body)
	if err != nil {
		return nil, mcperrors.Serialization(err)
	}
	if msg.Kind != protocol.KindResponse {
		return nil, mcperrors.ProtocolViolation("expected a response to %s, got a %s", req.Method, msg.Kind)
	}
	if !protocol.SameID(msg.Response.ID, req.ID) {
		return nil, mcperrors.ProtocolViolation("response id %s does not match request id %s",
			protocol.IDKey(msg.Response.ID), protocol.IDKey(req.ID))
	}
	return msg.Response, nil
}

func (t *HTTPTransport) SendNotification(ctx context.Context, n *protocol.Notification) error {
	if !t.connected.Load() {
		return mcperrors.NotConnected()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return mcperrors.Serialization(err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	_, err = t.post(reqCtx, t.base+PathNotify, data)
	return err
}

func (t *HTTPTransport) post(ctx context.Context, url string, data []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, mcperrors.TransportIO("http", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, mcperrors.TransportIO("http", "post", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, mcperrors.HTTPStatus(url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxSize))
	if err != nil {
		return nil, mcperrors.TransportIO("http", "read body", err)
	}
	return body, nil
}

// eventLoop keeps an event stream open until Close, reconnecting after a fixed delay
func (t *HTTPTransport) eventLoop(ctx context.Context) {
	defer t.queue.Close()
	for {
		err := t.readEvents(ctx)
		if ctx.Err() != nil {
			return
		}
		t.logger.Debug("event stream ended, retrying", logging.Err(err), logging.Duration("delay", sseRetryDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(sseRetryDelay):
		}
	}
}

func (t *HTTPTransport) readEvents(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.sseURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return mcperrors.TransportIO("http", "open event stream", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return mcperrors.HTTPStatus(t.sseURL, resp.StatusCode)
	}

	for ev, err := range sse.Read(resp.Body, &sse.ReadConfig{MaxEventSize: int(t.maxSize)}) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if ev.Type != "" && ev.Type != "message" {
			continue
		}
		t.handleEvent(ctx, []byte(ev.Data))
	}
	return io.EOF
}

func (t *HTTPTransport) handleEvent(ctx context.Context, data []byte) {
	msg, err := protocol.Classify(data)
	if err != nil {
		t.logger.Warn("dropping invalid event", logging.Err(err))
		return
	}
	switch msg.Kind {
	case protocol.KindNotification:
		t.metrics.RecordNotification(ctx, msg.Notification.Method, observability.DirectionInbound)
		t.queue.Push(msg.Notification)
	case protocol.KindBatch:
		items, _ := protocol.DecodeBatch(msg.Batch)
		for _, item := range items {
			if item.Kind == protocol.KindNotification {
				t.queue.Push(item.Notification)
			}
		}
	default:
		t.logger.Debug("ignoring event", logging.String("kind", msg.Kind.String()))
	}
}

func (t *HTTPTransport) ReceiveNotification() (*protocol.Notification, error) {
	return t.queue.Pop()
}

// Ready implements Notifier
func (t *HTTPTransport) Ready() <-chan struct{} {
	return t.queue.Ready()
}

func (t *HTTPTransport) IsConnected() bool {
	return t.connected.Load()
}

func (t *HTTPTransport) Info() string {
	return "http(" + t.base + ")"
}

// Close stops the event stream and waits for its goroutine
func (t *HTTPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.cancel()
		_ = t.group.Wait()
		t.queue.Close()
	})
	return nil
}
