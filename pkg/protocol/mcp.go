package protocol

const (
	// ProtocolRevision is the protocol version announced during initialize
	ProtocolRevision = "2025-03-26"

	// Lifecycle
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"

	// Tools
	MethodListTools        = "tools/list"
	MethodCallTool         = "tools/call"
	MethodToolsListChanged = "notifications/tools/list_changed"

	// Resources
	MethodListResources         = "resources/list"
	MethodListResourceTemplates = "resources/templates/list"
	MethodReadResource          = "resources/read"
	MethodSubscribeResource     = "resources/subscribe"
	MethodUnsubscribeResource   = "resources/unsubscribe"
	MethodResourceUpdated       = "notifications/resources/updated"
	MethodResourcesListChanged  = "notifications/resources/list_changed"

	// Prompts
	MethodListPrompts        = "prompts/list"
	MethodGetPrompt          = "prompts/get"
	MethodPromptsListChanged = "notifications/prompts/list_changed"

	// Client features
	MethodCreateMessage    = "sampling/createMessage"
	MethodListRoots        = "roots/list"
	MethodRootsListChanged = "notifications/roots/list_changed"

	// Utilities
	MethodComplete    = "completion/complete"
	MethodSetLogLevel = "logging/setLevel"
	MethodLogMessage  = "notifications/message"
	MethodProgress    = "notifications/progress"
	MethodCancelled   = "notifications/cancelled"
)

// IsNotificationMethod reports whether method names a notification
func IsNotificationMethod(method string) bool {
	switch method {
	case MethodInitialized, MethodToolsListChanged, MethodResourceUpdated,
		MethodResourcesListChanged, MethodPromptsListChanged, MethodRootsListChanged,
		MethodLogMessage, MethodProgress, MethodCancelled:
		return true
	}
	return false
}

// LogLevel is a syslog-style severity used by logging/setLevel and notifications/message
type LogLevel string

const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

var logLevelRank = map[LogLevel]int{
	LogLevelDebug:     0,
	LogLevelInfo:      1,
	LogLevelNotice:    2,
	LogLevelWarning:   3,
	LogLevelError:     4,
	LogLevelCritical:  5,
	LogLevelAlert:     6,
	LogLevelEmergency: 7,
}

// Valid reports whether l is a known level
func (l LogLevel) Valid() bool {
	_, ok := logLevelRank[l]
	return ok
}

// AtLeast reports whether l is as severe as min
func (l LogLevel) AtLeast(min LogLevel) bool {
	return logLevelRank[l] >= logLevelRank[min]
}
