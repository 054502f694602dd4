// Package client provides a typed MCP client on top of session.Session.
//
// The session owns the connection state machine: handshake, heartbeat,
// request correlation and reconnect backoff. Client adds one method per MCP
// request, cursor-following ListAll helpers and progress callbacks.
//
// # Connecting
//
//	t, err := transport.DialWebSocket(ctx, "ws://localhost:8080/mcp")
//	if err != nil {
//	    return err
//	}
//	c := client.New(config.DefaultSessionConfig(),
//	    client.WithClientInfo("example-client", "1.0.0"),
//	)
//	if err := c.Connect(ctx, t); err != nil {
//	    return err
//	}
//	defer c.Close(ctx)
//
//	tools, err := c.ListAllTools(ctx)
//
// # Reconnecting
//
// With a transport factory the client can redial on its own. Supervise
// blocks until ctx ends or the session runs out of reconnect attempts:
//
//	c := client.New(cfg, client.WithTransportFactory(func(ctx context.Context) (transport.Transport, error) {
//	    return transport.DialWebSocket(ctx, url)
//	}))
//	go c.Supervise(ctx)
//
// # Progress
//
// CallToolWithProgress attaches a progress token to tools/call and routes
// every notifications/progress carrying it to the callback:
//
//	res, err := c.CallToolWithProgress(ctx, "index", args, func(p protocol.ProgressParams) {
//	    log.Printf("%.0f%% %s", 100*p.Progress/(*p.Total), p.Message)
//	})
package client
