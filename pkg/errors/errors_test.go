package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

func TestKindTable(t *testing.T) {
	tests := []struct {
		name     string
		err      MCPError
		wantKind Kind
		wantCode int
		wantCat  Category
	}{
		{"not connected", NotConnected(), KindNotConnected, CodeNotConnected, CategoryConnection},
		{"connection timeout", ConnectionTimeout("connect", time.Second), KindConnectionTimeout, CodeConnectionTimeout, CategoryTimeout},
		{"handshake", HandshakeFailed(fmt.Errorf("boom")), KindHandshakeFailed, CodeHandshakeFailed, CategoryConnection},
		{"reconnect exhausted", ReconnectExhausted(3), KindReconnectExhausted, CodeReconnectExhausted, CategoryConnection},
		{"transport io", TransportIO("stdio", "write", fmt.Errorf("broken pipe")), KindTransportIO, CodeTransportError, CategoryTransport},
		{"serialization", Serialization(fmt.Errorf("bad json")), KindSerialization, CodeParseError, CategoryProtocol},
		{"protocol violation", ProtocolViolation("id mismatch"), KindProtocolViolation, CodeInvalidRequest, CategoryProtocol},
		{"method not found", MethodNotFound("nope"), KindMethodNotFound, CodeMethodNotFound, CategoryProtocol},
		{"invalid params", InvalidParams("missing %s", "name"), KindInvalidParams, CodeInvalidParams, CategoryValidation},
		{"tool not found", ToolNotFound("echo"), KindToolNotFound, CodeToolNotFound, CategoryNotFound},
		{"resource not found", ResourceNotFound("file:///x"), KindResourceNotFound, CodeResourceNotFound, CategoryNotFound},
		{"prompt not found", PromptNotFound("greet"), KindPromptNotFound, CodePromptNotFound, CategoryNotFound},
		{"internal", Internal(fmt.Errorf("x")), KindInternal, CodeInternalError, CategoryInternal},
		{"invalid state", InvalidState("stop", "Created"), KindInvalidState, CodeInvalidState, CategoryState},
		{"access denied", AccessDenied("tools/call", "missing role"), KindAccessDenied, CodeAccessDenied, CategoryAuth},
		{"rate limited", RateLimited("tools/call"), KindRateLimited, CodeRateLimited, CategoryAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Kind(); got != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", got, tt.wantKind)
			}
			if got := tt.err.Code(); got != tt.wantCode {
				t.Errorf("Code() = %v, want %v", got, tt.wantCode)
			}
			if got := tt.err.Category(); got != tt.wantCat {
				t.Errorf("Category() = %v, want %v", got, tt.wantCat)
			}
			if tt.err.Error() == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

func TestResponseCodeIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if got := ResponseCode(KindToolNotFound); got != -32000 {
			t.Fatalf("ResponseCode(ToolNotFound) = %d", got)
		}
	}
	if got := ResponseCode(KindNotConnected); got != CodeInternalError {
		t.Errorf("runtime kinds must be reported as internal, got %d", got)
	}
	if got := ResponseCode(KindMethodNotFound); got != CodeMethodNotFound {
		t.Errorf("ResponseCode(MethodNotFound) = %d", got)
	}
}

func TestWrapAndMatch(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := TransportIO("websocket", "read", cause)

	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause should be reachable with errors.Is")
	}

	outer := fmt.Errorf("send failed: %w", err)
	if !IsKind(outer, KindTransportIO) {
		t.Error("IsKind should see through fmt wrapping")
	}
	if !stderrors.Is(outer, TransportIO("other", "write", nil)) {
		t.Error("errors of the same kind should match with errors.Is")
	}
	if stderrors.Is(outer, NotConnected()) {
		t.Error("errors of different kinds must not match")
	}
	if KindOf(fmt.Errorf("plain")) != KindInternal {
		t.Error("plain errors should classify as internal")
	}
}

func TestWithContextDoesNotMutate(t *testing.T) {
	err := MethodNotFound("a")
	withCtx := err.WithContext(&Context{RequestID: "123", Component: "router"})

	if withCtx.Context().RequestID != "123" {
		t.Errorf("RequestID = %q", withCtx.Context().RequestID)
	}
	if withCtx.Context().Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
	if err.Context().RequestID != "" {
		t.Error("original error was modified by WithContext()")
	}
}

func TestProtocolRoundTrip(t *testing.T) {
	resp := ToResponse(PromptNotFound("greet"), 9)
	if resp.ID != 9 {
		t.Errorf("ID = %v, want 9", resp.ID)
	}
	if resp.Error.Code != protocol.PromptNotFound {
		t.Errorf("Code = %d", resp.Error.Code)
	}

	// simulate the wire
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	var decoded protocol.Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	back := FromProtocolError(decoded.Error)
	if back.Kind() != KindPromptNotFound {
		t.Errorf("Kind = %v, want PromptNotFound", back.Kind())
	}

	// without data the code decides
	plain := FromProtocolError(&protocol.Error{Code: protocol.MethodNotFound, Message: "x"})
	if plain.Kind() != KindMethodNotFound {
		t.Errorf("Kind = %v, want MethodNotFound", plain.Kind())
	}
	unknown := FromProtocolError(&protocol.Error{Code: -1, Message: "x"})
	if unknown.Kind() != KindInternal {
		t.Errorf("Kind = %v, want Internal", unknown.Kind())
	}
}

func TestToProtocolErrorWrapsPlainErrors(t *testing.T) {
	perr := ToProtocolError(fmt.Errorf("disk on fire"))
	if perr.Code != protocol.InternalError {
		t.Errorf("Code = %d", perr.Code)
	}
	if ToProtocolError(nil) != nil {
		t.Error("nil error should give nil object")
	}
}

func TestFromContext(t *testing.T) {
	if !IsKind(FromContext(context.DeadlineExceeded, "ping", time.Second), KindRequestTimeout) {
		t.Error("deadline should map to RequestTimeout")
	}
	if !IsKind(FromContext(context.Canceled, "ping", time.Second), KindCancelled) {
		t.Error("cancel should map to Cancelled")
	}
}

func TestMarshalJSON(t *testing.T) {
	data, err := json.Marshal(ToolNotFound("echo").WithDetail("catalog empty"))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["kind"] != "ToolNotFound" {
		t.Errorf("kind = %v", m["kind"])
	}
	if m["code"] != float64(CodeToolNotFound) {
		t.Errorf("code = %v", m["code"])
	}
	if m["details"] != "catalog empty" {
		t.Errorf("details = %v", m["details"])
	}
}
