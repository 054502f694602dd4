package session

import (
	"context"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// LoggingHandler logs every notification at debug level
func LoggingHandler(logger logging.Logger) Handler {
	return HandlerFunc(func(_ context.Context, n *protocol.Notification) error {
		logger.Debug("notification received",
			logging.String("method", n.Method),
			logging.Int("params_bytes", len(n.Params)),
		)
		return nil
	})
}

// ResourceUpdatedHandler calls fn with the uri of each resources/updated notification
func ResourceUpdatedHandler(fn func(uri string)) Handler {
	return HandlerFunc(func(_ context.Context, n *protocol.Notification) error {
		if n.Method != protocol.MethodResourceUpdated {
			return nil
		}
		var params protocol.ResourceUpdatedParams
		if err := n.DecodeParams(&params); err != nil {
			return err
		}
		fn(params.URI)
		return nil
	})
}

// ToolListChangedHandler calls fn on each tools/list_changed notification
func ToolListChangedHandler(fn func()) Handler {
	return HandlerFunc(func(_ context.Context, n *protocol.Notification) error {
		if n.Method == protocol.MethodToolsListChanged {
			fn()
		}
		return nil
	})
}

// ProgressHandler calls fn for each progress notification. total is nil when
// the server did not announce one.
func ProgressHandler(fn func(token interface{}, progress float64, total *float64)) Handler {
	return HandlerFunc(func(_ context.Context, n *protocol.Notification) error {
		if n.Method != protocol.MethodProgress {
			return nil
		}
		var params protocol.ProgressParams
		if err := n.DecodeParams(&params); err != nil {
			return err
		}
		fn(params.ProgressToken, params.Progress, params.Total)
		return nil
	})
}

// LogMessageHandler calls fn for each notifications/message
func LogMessageHandler(fn func(protocol.LoggingMessageParams)) Handler {
	return HandlerFunc(func(_ context.Context, n *protocol.Notification) error {
		if n.Method != protocol.MethodLogMessage {
			return nil
		}
		var params protocol.LoggingMessageParams
		if err := n.DecodeParams(&params); err != nil {
			return err
		}
		fn(params)
		return nil
	})
}
