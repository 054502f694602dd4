package errors

// JSON-RPC 2.0 standard error codes
const (
	CodeParseError     int = -32700
	CodeInvalidRequest int = -32600
	CodeMethodNotFound int = -32601
	CodeInvalidParams  int = -32602
	CodeInternalError  int = -32603
)

// Catalog lookup errors
const (
	CodeToolNotFound     int = -32000
	CodeResourceNotFound int = -32001
	CodePromptNotFound   int = -32002
	CodeAccessDenied     int = -32003
	CodeRateLimited      int = -32004
)

// Runtime errors. These never leave the process as a response code;
// ToResponse reports them as CodeInternalError.
const (
	CodeCancelled          int = -32300
	CodeRequestTimeout     int = -32301
	CodeTransportError     int = -32500
	CodeNotConnected       int = -32502
	CodeConnectionTimeout  int = -32503
	CodeHandshakeFailed    int = -32504
	CodeReconnectExhausted int = -32505
	CodeInvalidState       int = -32902
)

// Kind is one entry of the error taxonomy
type Kind int

const (
	KindInternal Kind = iota
	KindNotConnected
	KindConnectionTimeout
	KindHandshakeFailed
	KindReconnectExhausted
	KindTransportIO
	KindSerialization
	KindProtocolViolation
	KindMethodNotFound
	KindInvalidParams
	KindToolNotFound
	KindResourceNotFound
	KindPromptNotFound
	KindRequestTimeout
	KindCancelled
	KindInvalidState
	KindAccessDenied
	KindRateLimited
)

type kindInfo struct {
	name     string
	code     int
	category Category
	severity Severity
	// wire kinds keep their code in error responses
	wire bool
}

var kindRegistry = map[Kind]kindInfo{
	KindInternal:           {"Internal", CodeInternalError, CategoryInternal, SeverityError, true},
	KindNotConnected:       {"NotConnected", CodeNotConnected, CategoryConnection, SeverityError, false},
	KindConnectionTimeout:  {"ConnectionTimeout", CodeConnectionTimeout, CategoryTimeout, SeverityError, false},
	KindHandshakeFailed:    {"HandshakeFailed", CodeHandshakeFailed, CategoryConnection, SeverityCritical, false},
	KindReconnectExhausted: {"ReconnectExhausted", CodeReconnectExhausted, CategoryConnection, SeverityCritical, false},
	KindTransportIO:        {"TransportIo", CodeTransportError, CategoryTransport, SeverityError, false},
	KindSerialization:      {"Serialization", CodeParseError, CategoryProtocol, SeverityError, true},
	KindProtocolViolation:  {"ProtocolViolation", CodeInvalidRequest, CategoryProtocol, SeverityError, true},
	KindMethodNotFound:     {"MethodNotFound", CodeMethodNotFound, CategoryProtocol, SeverityWarning, true},
	KindInvalidParams:      {"InvalidParams", CodeInvalidParams, CategoryValidation, SeverityWarning, true},
	KindToolNotFound:       {"ToolNotFound", CodeToolNotFound, CategoryNotFound, SeverityWarning, true},
	KindResourceNotFound:   {"ResourceNotFound", CodeResourceNotFound, CategoryNotFound, SeverityWarning, true},
	KindPromptNotFound:     {"PromptNotFound", CodePromptNotFound, CategoryNotFound, SeverityWarning, true},
	KindRequestTimeout:     {"RequestTimeout", CodeRequestTimeout, CategoryTimeout, SeverityError, false},
	KindCancelled:          {"Cancelled", CodeCancelled, CategoryCancelled, SeverityInfo, false},
	KindInvalidState:       {"InvalidState", CodeInvalidState, CategoryState, SeverityError, false},
	KindAccessDenied:       {"AccessDenied", CodeAccessDenied, CategoryAuth, SeverityWarning, true},
	KindRateLimited:        {"RateLimited", CodeRateLimited, CategoryAuth, SeverityWarning, true},
}

var codeToKind = func() map[int]Kind {
	m := make(map[int]Kind, len(kindRegistry))
	for k, info := range kindRegistry {
		if info.wire {
			m[info.code] = k
		}
	}
	return m
}()

func (k Kind) String() string {
	if info, ok := kindRegistry[k]; ok {
		return info.name
	}
	return "Unknown"
}

// CodeForKind returns the error code registered for a kind
func CodeForKind(k Kind) int {
	if info, ok := kindRegistry[k]; ok {
		return info.code
	}
	return CodeInternalError
}

// ResponseCode returns the code used when an error of kind k is written
// into a JSON-RPC error response.
func ResponseCode(k Kind) int {
	if info, ok := kindRegistry[k]; ok && info.wire {
		return info.code
	}
	return CodeInternalError
}

// KindForCode maps a response code back to a kind. Unknown codes are KindInternal.
func KindForCode(code int) Kind {
	if k, ok := codeToKind[code]; ok {
		return k
	}
	return KindInternal
}

// ParseKind returns the kind with the given name
func ParseKind(name string) (Kind, bool) {
	for k, info := range kindRegistry {
		if info.name == name {
			return k, true
		}
	}
	return KindInternal, false
}
