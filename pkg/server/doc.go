// Package server answers MCP requests arriving on a transport.ServerTransport.
//
// A Server combines three parts:
//
//   - Router: decodes each request, calls the matching provider and turns
//     failures into JSON-RPC error responses. It also honours
//     notifications/cancelled and the per-request timeout.
//   - Lifecycle: moves the server through Created, Starting, Running,
//     Stopping and Stopped, or Error when a start or stop fails.
//   - Broadcast: notifications go to every connected peer. Peers that fail
//     a send are dropped by the transport. With WithBroker, notifications
//     are published to a broker.Broker and every server on the topic delivers
//     them to its own peers.
//
// # Creating a Server
//
//	tools := server.NewInMemoryTools()
//	server.AddTool(tools, "echo", "Echo the input", func(ctx context.Context, in struct {
//	    Text string `json:"text" jsonschema:"required"`
//	}) (*protocol.CallToolResult, error) {
//	    return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(in.Text)}}, nil
//	})
//
//	ws := transport.NewWebSocketServer(config.DefaultTransportConfig(config.TransportWebSocket))
//	srv := server.New(ws, server.WithName("echo"), server.WithTools(tools))
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.StopWithTimeout(0)
//
// Registering or removing a tool, resource or prompt on the in-memory
// providers while the server runs broadcasts the matching list_changed
// notification.
package server
