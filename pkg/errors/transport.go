package errors

import (
	"fmt"
	"time"
)

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport string        `json:"transport,omitempty"`
	Operation string        `json:"operation,omitempty"`
	Endpoint  string        `json:"endpoint,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Attempts  uint32        `json:"attempts,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// NotConnected is returned when an operation needs a live connection and there is none
func NotConnected() MCPError {
	return New(KindNotConnected, "not connected")
}

// ConnectionClosed reports an operation attempted on, or interrupted by, a closed transport
func ConnectionClosed(transport string) MCPError {
	return New(KindNotConnected, fmt.Sprintf("%s connection closed", transport)).
		WithData(&TransportErrorData{Transport: transport, Reason: "closed"})
}

// ConnectionTimeout reports that an operation did not finish within its deadline
func ConnectionTimeout(operation string, timeout time.Duration) MCPError {
	return New(KindConnectionTimeout, fmt.Sprintf("%s timed out after %v", operation, timeout)).
		WithData(&TransportErrorData{Operation: operation, Timeout: timeout, Reason: "timeout"})
}

// HandshakeFailed wraps a failure of the initialize exchange
func HandshakeFailed(cause error) MCPError {
	message := "initialization handshake failed"
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return Wrap(cause, KindHandshakeFailed, message)
}

// ReconnectExhausted is returned once the configured reconnect ceiling is reached
func ReconnectExhausted(attempts uint32) MCPError {
	return New(KindReconnectExhausted, fmt.Sprintf("reconnect attempts exhausted after %d attempts", attempts)).
		WithData(&TransportErrorData{Attempts: attempts})
}

// ReconnectDisabled is returned when reconnect is requested with auto-reconnect turned off
func ReconnectDisabled() MCPError {
	return New(KindReconnectExhausted, "automatic reconnection is disabled")
}

// TransportIO wraps a read or write failure on the underlying channel
func TransportIO(transport, operation string, cause error) MCPError {
	message := fmt.Sprintf("%s transport error during %s", transport, operation)
	reason := ""
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
		reason = cause.Error()
	}
	return Wrap(cause, KindTransportIO, message).
		WithData(&TransportErrorData{Transport: transport, Operation: operation, Reason: reason})
}

// HTTPStatus reports a non-success status from an HTTP endpoint
func HTTPStatus(endpoint string, status int) MCPError {
	return New(KindTransportIO, fmt.Sprintf("HTTP %d from %s", status, endpoint)).
		WithData(&TransportErrorData{Transport: "http", Endpoint: endpoint, Reason: fmt.Sprintf("status %d", status)})
}

// RequestTimeout is returned when no response arrives for a request within its timeout
func RequestTimeout(method string, timeout time.Duration) MCPError {
	return New(KindRequestTimeout, fmt.Sprintf("request %s timed out after %v", method, timeout)).
		WithData(&TransportErrorData{Operation: method, Timeout: timeout})
}

// Cancelled is returned when the caller's context ended before completion
func Cancelled(operation string, cause error) MCPError {
	return Wrap(cause, KindCancelled, fmt.Sprintf("%s cancelled", operation))
}
