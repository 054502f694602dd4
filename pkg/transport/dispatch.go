package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// serveFrame processes one frame received by a server transport and returns
// the encoded reply, or nil when nothing should be sent back.
func serveFrame(ctx context.Context, h RequestHandler, logger logging.Logger, data []byte) []byte {
	msg, err := protocol.Classify(data)
	if err != nil {
		resp := invalidFrameResponse(data, err)
		if resp == nil {
			logger.Debug("dropping invalid frame", logging.Err(err))
			return nil
		}
		return encode(logger, resp)
	}

	switch msg.Kind {
	case protocol.KindRequest:
		return encode(logger, handleRequest(ctx, h, logger, msg.Request))
	case protocol.KindNotification:
		handleNotification(ctx, h, logger, msg.Notification)
		return nil
	case protocol.KindBatch:
		return serveBatch(ctx, h, logger, msg.Batch)
	case protocol.KindResponse:
		logger.Debug("dropping response from peer", logging.String("id", protocol.IDKey(msg.Response.ID)))
	}
	return nil
}

func serveBatch(ctx context.Context, h RequestHandler, logger logging.Logger, raw []json.RawMessage) []byte {
	items, err := protocol.DecodeBatch(raw)
	if err != nil {
		logger.Warn("batch contained invalid items", logging.Err(err))
	}

	var out protocol.BatchResponse
	for _, m := range items {
		switch m.Kind {
		case protocol.KindRequest:
			out = append(out, handleRequest(ctx, h, logger, m.Request))
		case protocol.KindNotification:
			handleNotification(ctx, h, logger, m.Notification)
		}
	}
	if len(out) == 0 {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		logger.Error("failed to encode batch reply", logging.Err(err))
		return nil
	}
	return data
}

// handleRequest calls h and guarantees a response carrying the request id
func handleRequest(ctx context.Context, h RequestHandler, logger logging.Logger, req *protocol.Request) (resp *protocol.Response) {
	if h == nil {
		return mcperrors.ToResponse(mcperrors.MethodNotFound(req.Method), req.ID)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("request handler panicked",
				logging.String("method", req.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			resp = mcperrors.ToResponse(mcperrors.Internal(fmt.Errorf("panic: %v", r)), req.ID)
		}
	}()

	resp = h.HandleRequest(ctx, req)
	if resp == nil {
		return mcperrors.ToResponse(mcperrors.Internal(fmt.Errorf("no response for %s", req.Method)), req.ID)
	}
	resp.ID = req.ID
	return resp
}

func handleNotification(ctx context.Context, h RequestHandler, logger logging.Logger, n *protocol.Notification) {
	nh, ok := h.(NotificationHandler)
	if !ok {
		return
	}
	if err := nh.HandleNotification(ctx, n); err != nil {
		logger.Debug("notification handler failed", logging.String("method", n.Method), logging.Err(err))
	}
}

// invalidFrameResponse builds the error reply for a frame that failed to
// classify. Frames that are not valid JSON get a parse error with a null id;
// well-formed objects carrying an id get InvalidRequest; anything else is dropped.
func invalidFrameResponse(data []byte, err error) *protocol.Response {
	if !json.Valid(data) {
		return protocol.NewErrorResponse(nil, protocol.ParseError, "parse error", err.Error())
	}
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(data, &probe) != nil || len(probe.ID) == 0 {
		return nil
	}
	var id interface{}
	_ = json.Unmarshal(probe.ID, &id)
	return protocol.NewErrorResponse(id, protocol.InvalidRequest, "invalid request", err.Error())
}

func encode(logger logging.Logger, v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode reply", logging.Err(err))
		return nil
	}
	return data
}
