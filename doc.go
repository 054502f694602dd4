// Package mcp is a runtime for the Model Context Protocol: JSON-RPC 2.0
// sessions between a client and a server over stdio, websockets or HTTP
// with server-sent events. This package re-exports the entry points of its
// sub-packages.
//
//   - pkg/protocol: JSON-RPC envelopes and MCP message types
//   - pkg/errors: error kinds and their JSON-RPC codes
//   - pkg/transport: client transports, server transports, the correlation
//     table and the notification queue
//   - pkg/session: the client connection state machine and notification dispatch
//   - pkg/client: a typed client over a session
//   - pkg/server: the request router, providers and server lifecycle
//   - pkg/broker: cross-node notification relay over Redis
//   - pkg/auth: API keys, bearer tokens, roles and rate limits
//   - pkg/config, pkg/logging, pkg/observability: ambient plumbing
//
// # Serving
//
//	tools := mcp.NewInMemoryTools()
//	_ = server.AddTool(tools, "hello", "Says hello",
//	    func(ctx context.Context, in struct{ Name string `json:"name"` }) (*protocol.CallToolResult, error) {
//	        return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent("Hello, " + in.Name)}}, nil
//	    })
//
//	t, _ := mcp.NewServerTransport(config.DefaultTransportConfig(config.TransportWebSocket))
//	srv := mcp.NewServer(t, mcp.WithServerName("hello"), mcp.WithTools(tools))
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.StopWithTimeout(0)
//
// # Connecting
//
//	c := mcp.NewClient(config.DefaultSessionConfig(),
//	    mcp.WithTransportFactory(func(ctx context.Context) (transport.Transport, error) {
//	        return mcp.DialWebSocket(ctx, "ws://localhost:8080")
//	    }),
//	)
//	if err := c.Dial(ctx); err != nil {
//	    return err
//	}
//	defer c.Close(ctx)
//	res, err := c.CallTool(ctx, "hello", map[string]string{"name": "gopher"})
//
// # Examples
//
// The examples directory holds runnable programs:
//
//   - simple-server: the demo catalog over any transport
//   - simple-client: a supervised websocket client
//   - stdio-client: drives a server child process over stdio
//   - multi-server: two nodes sharing a notification broker
//   - authentication: HTTP serving behind auth, roles and rate limits
package mcp
