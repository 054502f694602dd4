package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/client"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/server"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// startServer runs a websocket server with the benchmark catalog on a free port
func startServer(tb testing.TB) string {
	tb.Helper()
	cfg := config.DefaultTransportConfig(config.TransportWebSocket)
	cfg.ListenAddr = "127.0.0.1:0"

	ws := transport.NewWebSocketServer(cfg, transport.WithLogger(logging.Nop()))
	s := server.New(ws, benchmarkProviders(tb)...)
	if err := s.Start(context.Background()); err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { _ = s.StopWithTimeout(2 * time.Second) })
	return "ws://" + ws.Addr()
}

func clientFactory(url string) ClientFactory {
	return func(ctx context.Context, id int) (*client.Client, error) {
		cfg := config.DefaultSessionConfig()
		cfg.HeartbeatInterval = 0
		cfg.AutoReconnect = false
		cfg.NotificationPollInterval = time.Millisecond

		c := client.New(cfg,
			client.WithLogger(logging.Nop()),
			client.WithClientInfo(fmt.Sprintf("load-client-%d", id), "1.0.0"),
		)
		t, err := transport.DialWebSocket(ctx, url, transport.WithLogger(logging.Nop()))
		if err != nil {
			return nil, err
		}
		if err := c.Connect(ctx, t); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func BenchmarkClientOperations(b *testing.B) {
	ctx := context.Background()
	c, err := clientFactory(startServer(b))(ctx, 0)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close(ctx)

	b.Run("Ping", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if err := c.Ping(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("CallTool", func(b *testing.B) {
		args := echoInput{Input: "hello"}
		for i := 0; i < b.N; i++ {
			if _, err := c.CallTool(ctx, "echo", args); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("ReadResource", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := c.ReadResource(ctx, "test://resource/1"); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("ListAllTools", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			tools, err := c.ListAllTools(ctx)
			if err != nil {
				b.Fatal(err)
			}
			if len(tools) != 101 {
				b.Fatalf("got %d tools", len(tools))
			}
		}
	})
	b.Run("ParallelCallTool", func(b *testing.B) {
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, err := c.CallTool(ctx, "echo", echoInput{Input: "x"}); err != nil {
					b.Error(err)
					return
				}
			}
		})
	})
}
