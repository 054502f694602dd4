package errors

import "fmt"

// NotFoundData identifies the missing catalog entry
type NotFoundData struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// StateData describes a rejected state transition
type StateData struct {
	Operation string `json:"operation"`
	From      string `json:"from"`
}

// ProtocolViolation reports a malformed envelope or a correlation mismatch
func ProtocolViolation(format string, args ...interface{}) MCPError {
	return Newf(KindProtocolViolation, format, args...)
}

// Serialization wraps an encode or decode failure
func Serialization(cause error) MCPError {
	message := "serialization error"
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return Wrap(cause, KindSerialization, message)
}

// MethodNotFound reports an unknown method name
func MethodNotFound(method string) MCPError {
	return New(KindMethodNotFound, fmt.Sprintf("method not found: %s", method)).
		WithContext(&Context{Method: method})
}

// InvalidParams reports missing or malformed method parameters
func InvalidParams(format string, args ...interface{}) MCPError {
	return Newf(KindInvalidParams, "invalid params: "+format, args...)
}

// ToolNotFound reports an unknown tool name
func ToolNotFound(name string) MCPError {
	return New(KindToolNotFound, fmt.Sprintf("tool not found: %s", name)).
		WithData(&NotFoundData{Type: "tool", Name: name})
}

// ResourceNotFound reports an unknown resource URI
func ResourceNotFound(uri string) MCPError {
	return New(KindResourceNotFound, fmt.Sprintf("resource not found: %s", uri)).
		WithData(&NotFoundData{Type: "resource", Name: uri})
}

// PromptNotFound reports an unknown prompt name
func PromptNotFound(name string) MCPError {
	return New(KindPromptNotFound, fmt.Sprintf("prompt not found: %s", name)).
		WithData(&NotFoundData{Type: "prompt", Name: name})
}

// Internal wraps an unexpected failure
func Internal(cause error) MCPError {
	message := "internal error"
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return Wrap(cause, KindInternal, message)
}

// InvalidState rejects an operation that is not allowed from the current state
func InvalidState(operation, from string) MCPError {
	return New(KindInvalidState, fmt.Sprintf("cannot %s from state %s", operation, from)).
		WithData(&StateData{Operation: operation, From: from})
}

// AccessDenied rejects a request whose caller is unauthenticated or lacks permission
func AccessDenied(method, reason string) MCPError {
	return New(KindAccessDenied, fmt.Sprintf("access denied for %s: %s", method, reason)).
		WithContext(&Context{Method: method})
}

// RateLimited rejects a request over the caller's rate limit
func RateLimited(method string) MCPError {
	return New(KindRateLimited, fmt.Sprintf("rate limit exceeded for %s", method)).
		WithContext(&Context{Method: method})
}
