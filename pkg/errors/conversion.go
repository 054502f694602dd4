package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// responseData is attached to error responses so the peer can recover the kind
type responseData struct {
	Kind    string      `json:"kind"`
	Details string      `json:"details,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ToProtocolError converts any error into a JSON-RPC error object.
// Non-MCP errors become internal errors.
func ToProtocolError(err error) *protocol.Error {
	if err == nil {
		return nil
	}
	mcpErr, ok := AsMCPError(err)
	if !ok {
		mcpErr = Internal(err)
	}
	return &protocol.Error{
		Code:    protocol.ErrorCode(ResponseCode(mcpErr.Kind())),
		Message: mcpErr.Message(),
		Data: &responseData{
			Kind:    mcpErr.Kind().String(),
			Details: mcpErr.Details(),
			Data:    mcpErr.Data(),
		},
	}
}

// ToResponse builds the error response for a request id
func ToResponse(err error, id interface{}) *protocol.Response {
	return &protocol.Response{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		ID:             id,
		Error:          ToProtocolError(err),
	}
}

// FromProtocolError converts a JSON-RPC error object received from a peer.
// The kind is taken from data.kind when present and otherwise derived from the code.
func FromProtocolError(perr *protocol.Error) MCPError {
	if perr == nil {
		return nil
	}
	kind := KindForCode(int(perr.Code))
	if name := kindFromData(perr.Data); name != "" {
		if k, ok := ParseKind(name); ok {
			kind = k
		}
	}
	return Wrap(perr, kind, perr.Message).WithData(perr.Data)
}

func kindFromData(data interface{}) string {
	switch d := data.(type) {
	case map[string]interface{}:
		if s, ok := d["kind"].(string); ok {
			return s
		}
	case *responseData:
		return d.Kind
	case json.RawMessage:
		var rd responseData
		if json.Unmarshal(d, &rd) == nil {
			return rd.Kind
		}
	}
	return ""
}

// FromContext converts a context error into RequestTimeout or Cancelled
func FromContext(err error, operation string, timeout time.Duration) MCPError {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, KindRequestTimeout, RequestTimeout(operation, timeout).Message())
	}
	return Cancelled(operation, err)
}
