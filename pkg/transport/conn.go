package transport

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// writeFunc writes one encoded frame to the underlying stream
type writeFunc func(ctx context.Context, data []byte) error

// clientConn holds what the stdio and websocket client transports share:
// request correlation, demultiplexing of inbound frames and the
// notification queue.
type clientConn struct {
	name      string
	logger    logging.Logger
	metrics   observability.MetricsProvider
	pending   *PendingTable
	queue     *NotificationQueue
	handler   RequestHandler
	write     writeFunc
	timeout   time.Duration
	connected atomic.Bool
}

func newClientConn(name string, cfg Config, o *options, write writeFunc) *clientConn {
	c := &clientConn{
		name:    name,
		logger:  o.logger.WithFields(logging.String("component", name+"_transport")),
		metrics: o.metrics,
		pending: NewPendingTable(),
		queue:   NewNotificationQueue(),
		handler: o.requestHandler,
		write:   write,
		timeout: cfg.RequestTimeout,
	}
	c.connected.Store(true)
	return c
}

func (c *clientConn) roundTrip(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if !c.connected.Load() {
		return nil, mcperrors.NotConnected()
	}

	ch, err := c.pending.Register(req.ID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		c.pending.Remove(req.ID)
		return nil, mcperrors.Serialization(err)
	}
	if err := c.write(ctx, data); err != nil {
		c.pending.Remove(req.ID)
		return nil, err
	}

	resp, err := c.pending.Await(ctx, req.ID, ch, c.timeout)
	if err != nil {
		return nil, err
	}
	if !protocol.SameID(resp.ID, req.ID) {
		return nil, mcperrors.ProtocolViolation("response id %s does not match request id %s",
			protocol.IDKey(resp.ID), protocol.IDKey(req.ID))
	}
	return resp, nil
}

func (c *clientConn) notify(ctx context.Context, n *protocol.Notification) error {
	if !c.connected.Load() {
		return mcperrors.NotConnected()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return mcperrors.Serialization(err)
	}
	return c.write(ctx, data)
}

func (c *clientConn) receive() (*protocol.Notification, error) {
	return c.queue.Pop()
}

// handleFrame routes one inbound frame
func (c *clientConn) handleFrame(ctx context.Context, data []byte) {
	msg, err := protocol.Classify(data)
	if err != nil {
		c.logger.Warn("dropping invalid frame", logging.Err(err), logging.Int("bytes", len(data)))
		return
	}
	c.dispatch(ctx, msg)
}

func (c *clientConn) dispatch(ctx context.Context, msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindResponse:
		if !c.pending.Resolve(msg.Response) {
			c.logger.Debug("dropping orphan response", logging.String("id", protocol.IDKey(msg.Response.ID)))
		}
	case protocol.KindNotification:
		c.metrics.RecordNotification(ctx, msg.Notification.Method, observability.DirectionInbound)
		if !c.queue.Push(msg.Notification) {
			c.logger.Debug("notification after close dropped", logging.String("method", msg.Notification.Method))
		}
	case protocol.KindRequest:
		c.answer(ctx, msg.Request)
	case protocol.KindBatch:
		items, err := protocol.DecodeBatch(msg.Batch)
		if err != nil {
			c.logger.Warn("batch contained invalid items", logging.Err(err))
		}
		for _, item := range items {
			c.dispatch(ctx, item)
		}
	}
}

// answer replies to a request initiated by the server
func (c *clientConn) answer(ctx context.Context, req *protocol.Request) {
	var resp *protocol.Response
	if c.handler != nil {
		resp = c.handler.HandleRequest(ctx, req)
	} else {
		resp = mcperrors.ToResponse(mcperrors.MethodNotFound(req.Method), req.ID)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to encode reply", logging.Err(err), logging.String("method", req.Method))
		return
	}
	if err := c.write(ctx, data); err != nil {
		c.logger.Warn("failed to send reply", logging.Err(err), logging.String("method", req.Method))
	}
}

// shutdown marks the connection closed, fails outstanding requests and
// closes the notification queue. It is safe to call more than once.
func (c *clientConn) shutdown() {
	c.connected.Store(false)
	c.pending.FailAll(mcperrors.ConnectionClosed(c.name))
	c.queue.Close()
}
