package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// WebSocketTransport is a client transport over a single websocket. One text
// message carries one JSON-RPC frame.
type WebSocketTransport struct {
	*clientConn

	conn         *websocket.Conn
	url          string
	wmu          sync.Mutex
	writeTimeout time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration
	cancel       context.CancelFunc
	group        *errgroup.Group
	closeOnce    sync.Once
}

// DialWebSocket connects to url and starts the read and ping loops
func DialWebSocket(ctx context.Context, url string, opts ...Option) (*WebSocketTransport, error) {
	cfg := config.DefaultTransportConfig(config.TransportWebSocket)
	cfg.Endpoint = url
	return dialWebSocket(ctx, cfg, buildOptions(opts))
}

func dialWebSocket(ctx context.Context, cfg Config, o *options) (*WebSocketTransport, error) {
	if cfg.Endpoint == "" {
		return nil, mcperrors.InvalidParams("websocket endpoint is required")
	}
	dialer := o.dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		}
	}
	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.Endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, mcperrors.HTTPStatus(cfg.Endpoint, resp.StatusCode)
		}
		return nil, mcperrors.TransportIO("websocket", "dial", err)
	}
	conn.SetReadLimit(cfg.MaxMessageSize)

	t := &WebSocketTransport{
		conn:         conn,
		url:          cfg.Endpoint,
		writeTimeout: cfg.WriteTimeout,
		readTimeout:  cfg.ReadTimeout,
		pingInterval: cfg.PingInterval,
	}
	t.clientConn = newClientConn("websocket", cfg, o, t.writeMessage)

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.group, loopCtx = errgroup.WithContext(loopCtx)
	t.group.Go(func() error { return t.readLoop(loopCtx) })
	if t.pingInterval > 0 {
		t.group.Go(func() error { return t.pingLoop(loopCtx) })
	}

	t.logger.Debug("websocket connected", logging.String("url", t.url))
	return t, nil
}

func (t *WebSocketTransport) readLoop(ctx context.Context) error {
	defer t.shutdown()

	t.extendReadDeadline()
	t.conn.SetPongHandler(func(string) error {
		t.extendReadDeadline()
		return nil
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("websocket closed", logging.Err(err))
				return nil
			}
			t.logger.Warn("websocket read failed", logging.Err(err))
			return mcperrors.TransportIO("websocket", "read", err)
		}
		t.extendReadDeadline()
		t.handleFrame(ctx, data)
	}
}

func (t *WebSocketTransport) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deadline := time.Now().Add(t.writeTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.logger.Warn("websocket ping failed", logging.Err(err))
				_ = t.conn.Close()
				return nil
			}
		}
	}
}

func (t *WebSocketTransport) extendReadDeadline() {
	if t.readTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
}

func (t *WebSocketTransport) writeMessage(ctx context.Context, data []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if !t.connected.Load() {
		return mcperrors.NotConnected()
	}
	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return mcperrors.TransportIO("websocket", "write", err)
	}
	return nil
}

func (t *WebSocketTransport) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return t.roundTrip(ctx, req)
}

func (t *WebSocketTransport) SendNotification(ctx context.Context, n *protocol.Notification) error {
	return t.notify(ctx, n)
}

func (t *WebSocketTransport) ReceiveNotification() (*protocol.Notification, error) {
	return t.receive()
}

// Ready implements Notifier
func (t *WebSocketTransport) Ready() <-chan struct{} {
	return t.queue.Ready()
}

func (t *WebSocketTransport) IsConnected() bool {
	return t.connected.Load()
}

func (t *WebSocketTransport) Info() string {
	return "websocket(" + t.url + ")"
}

// Close sends a close frame, closes the socket and waits for the loops to exit
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.wmu.Lock()
		wasConnected := t.connected.Load()
		t.shutdown()
		t.wmu.Unlock()

		if wasConnected {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		t.cancel()
		if cerr := t.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = mcperrors.TransportIO("websocket", "close", cerr)
		}
		_ = t.group.Wait()
	})
	return err
}
