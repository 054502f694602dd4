// Package transport moves JSON-RPC 2.0 frames between MCP clients and servers.
//
// Client transports implement Transport and are built with New from a Config:
//
//   - StdioTransport speaks line-delimited JSON over a reader/writer pair or a
//     spawned command's pipes.
//   - WebSocketTransport multiplexes concurrent requests over one socket.
//   - HTTPTransport posts each request to /mcp and reads server notifications
//     from the /mcp/events event stream.
//
// Stdio and websocket responses arrive asynchronously and are matched to their
// callers through a PendingTable. The HTTP transport correlates through the
// call stack and only checks that the returned id matches. Unsolicited
// notifications land in a bounded NotificationQueue that consumers drain with
// ReceiveNotification, optionally waiting on Notifier.Ready.
//
// Server transports implement ServerTransport and are built with NewServer.
// Every inbound request, from any peer, is passed to the single installed
// RequestHandler and its response is written back to the originating peer.
// Socket and event-stream peers live in a Registry; a peer whose send fails
// during a broadcast is closed and removed.
//
// Middleware wraps client transports. ObservabilityMiddleware adds spans,
// metrics and debug logs and is installed by New when WithMetrics or
// WithTracing is given:
//
//	t, err := transport.New(ctx, cfg,
//		transport.WithLogger(logger),
//		transport.WithMetrics(metrics),
//	)
package transport
