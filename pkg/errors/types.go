// Package errors provides the typed error taxonomy shared by the client
// session runtime, the transports and the server router. Every error carries
// a Kind, which maps deterministically to a JSON-RPC error code.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// Category groups kinds for coarse handling decisions
type Category string

const (
	CategoryConnection Category = "connection"
	CategoryTransport  Category = "transport"
	CategoryProtocol   Category = "protocol"
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryTimeout    Category = "timeout"
	CategoryCancelled  Category = "cancelled"
	CategoryState      Category = "state"
	CategoryAuth       Category = "auth"
	CategoryInternal   Category = "internal"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where an error was produced
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	PeerID    string    `json:"peer_id,omitempty"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MCPError is implemented by every error produced in this module
type MCPError interface {
	error

	// Kind returns the taxonomy entry of the error
	Kind() Kind

	// Code returns the JSON-RPC error code registered for the kind
	Code() int

	// Message returns the human-readable message without details
	Message() string

	Details() string
	Data() interface{}
	Category() Category
	Severity() Severity
	Context() *Context

	WithContext(ctx *Context) MCPError
	WithDetail(detail string) MCPError
	WithData(data interface{}) MCPError

	Unwrap() error
}

type baseError struct {
	kind     Kind
	message  string
	details  string
	data     interface{}
	severity Severity
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

func (e *baseError) Kind() Kind { return e.kind }
func (e *baseError) Code() int { return CodeForKind(e.kind) }
func (e *baseError) Message() string { return e.message }
func (e *baseError) Details() string { return e.details }
func (e *baseError) Data() interface{} { return e.data }
func (e *baseError) Category() Category { return kindRegistry[e.kind].category }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) Context() *Context { return e.context }
func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) WithContext(ctx *Context) MCPError {
	newErr := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		c := *ctx
		c.Timestamp = time.Now()
		ctx = &c
	}
	newErr.context = ctx
	return &newErr
}

func (e *baseError) WithDetail(detail string) MCPError {
	newErr := *e
	if newErr.details != "" {
		newErr.details = fmt.Sprintf("%s; %s", newErr.details, detail)
	} else {
		newErr.details = detail
	}
	return &newErr
}

func (e *baseError) WithData(data interface{}) MCPError {
	newErr := *e
	newErr.data = data
	return &newErr
}

// Is matches another MCPError of the same kind, so errors.Is(err, errors.NotConnected()) works
func (e *baseError) Is(target error) bool {
	t, ok := target.(MCPError)
	return ok && t.Kind() == e.kind
}

func (e *baseError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"kind":     e.kind.String(),
		"code":     e.Code(),
		"message":  e.message,
		"category": string(e.Category()),
		"severity": string(e.severity),
	}
	if e.details != "" {
		out["details"] = e.details
	}
	if e.data != nil {
		out["data"] = e.data
	}
	if e.context != nil {
		out["context"] = e.context
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	return json.Marshal(out)
}

// New creates an error of the given kind
func New(kind Kind, message string) MCPError {
	return &baseError{
		kind:     kind,
		message:  message,
		severity: kindRegistry[kind].severity,
		context:  &Context{Timestamp: time.Now()},
	}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...interface{}) MCPError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps cause as an error of the given kind
func Wrap(cause error, kind Kind, message string) MCPError {
	return &baseError{
		kind:     kind,
		message:  message,
		severity: kindRegistry[kind].severity,
		context:  &Context{Timestamp: time.Now()},
		cause:    cause,
	}
}

// AsMCPError finds the first MCPError in err's chain
func AsMCPError(err error) (MCPError, bool) {
	if err == nil {
		return nil, false
	}
	var mcpErr MCPError
	if stderrors.As(err, &mcpErr) {
		return mcpErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when err is not an MCPError
func KindOf(err error) Kind {
	if mcpErr, ok := AsMCPError(err); ok {
		return mcpErr.Kind()
	}
	return KindInternal
}

// IsKind reports whether any error in err's chain has the given kind
func IsKind(err error, kind Kind) bool {
	mcpErr, ok := AsMCPError(err)
	return ok && mcpErr.Kind() == kind
}

// IsCategory reports whether err belongs to a category
func IsCategory(err error, category Category) bool {
	mcpErr, ok := AsMCPError(err)
	return ok && mcpErr.Category() == category
}

// IsCode reports whether err carries a specific error code
func IsCode(err error, code int) bool {
	mcpErr, ok := AsMCPError(err)
	return ok && mcpErr.Code() == code
}
