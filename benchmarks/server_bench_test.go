package benchmarks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/server"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

type echoInput struct {
	Input string `json:"input" jsonschema:"required"`
}

func benchmarkProviders(tb testing.TB) []server.Option {
	tb.Helper()
	tools := server.NewInMemoryTools()
	if err := server.AddTool(tools, "echo", "Echo the input",
		func(_ context.Context, in echoInput) (*protocol.CallToolResult, error) {
			return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(in.Input)}}, nil
		}); err != nil {
		tb.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if err := server.AddTool(tools, fmt.Sprintf("tool-%03d", i), "Padding", func(context.Context, struct{}) (*protocol.CallToolResult, error) {
			return &protocol.CallToolResult{}, nil
		}); err != nil {
			tb.Fatal(err)
		}
	}

	resources := server.NewInMemoryResources()
	for i := 0; i < 100; i++ {
		resources.RegisterText(protocol.Resource{
			URI:  fmt.Sprintf("test://resource/%d", i),
			Name: fmt.Sprintf("resource-%d", i),
		}, "content")
	}

	return []server.Option{
		server.WithLogger(logging.Nop()),
		server.WithTools(tools),
		server.WithResources(resources),
		server.WithPageSize(10),
	}
}

func mustRequest(b *testing.B, id interface{}, method string, params interface{}) *protocol.Request {
	b.Helper()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		b.Fatal(err)
	}
	return req
}

func BenchmarkRouter(b *testing.B) {
	r := server.NewRouter(benchmarkProviders(b)...)
	ctx := context.Background()

	cases := []struct {
		name   string
		method string
		params interface{}
	}{
		{"Ping", protocol.MethodPing, nil},
		{"CallTool", protocol.MethodCallTool, map[string]interface{}{"name": "echo", "arguments": map[string]string{"input": "hello"}}},
		{"ListToolsPage", protocol.MethodListTools, nil},
		{"ReadResource", protocol.MethodReadResource, map[string]string{"uri": "test://resource/42"}},
		{"UnknownMethod", "nope/nope", nil},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			req := mustRequest(b, 1, tc.method, tc.params)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if resp := r.HandleRequest(ctx, req); resp == nil {
					b.Fatal("nil response")
				}
			}
		})
	}
}

func BenchmarkRouterParallel(b *testing.B) {
	r := server.NewRouter(benchmarkProviders(b)...)
	ctx := context.Background()
	var next atomic.Int64

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			// in-flight tracking is keyed by id, so every call needs its own
			req := mustRequest(b, next.Add(1), protocol.MethodCallTool,
				map[string]interface{}{"name": "echo", "arguments": map[string]string{"input": "x"}})
			if resp := r.HandleRequest(ctx, req); resp.Error != nil {
				b.Errorf("unexpected error: %+v", resp.Error)
			}
		}
	})
}

func BenchmarkPendingTable(b *testing.B) {
	p := transport.NewPendingTable()
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ch, err := p.Register(i)
		if err != nil {
			b.Fatal(err)
		}
		resp, _ := protocol.NewResponse(i, protocol.PingResult{})
		p.Resolve(resp)
		if _, err := p.Await(ctx, i, ch, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkNotificationQueue(b *testing.B) {
	q := transport.NewNotificationQueue()
	n, _ := protocol.NewNotification(protocol.MethodProgress, protocol.ProgressParams{ProgressToken: "t", Progress: 1})

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		q.Push(n)
		if _, err := q.Pop(); err != nil {
			b.Fatal(err)
		}
	}
}
