// Package benchmarks drives MCP servers with concurrent clients and reports
// latency and error statistics.
package benchmarks

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/client"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
)

// Operations a load test can mix
const (
	OpCallTool      = "CallTool"
	OpReadResource  = "ReadResource"
	OpListTools     = "ListTools"
	OpListResources = "ListResources"
	OpPing          = "Ping"
)

// ClientFactory returns a connected client for worker id
type ClientFactory func(ctx context.Context, id int) (*client.Client, error)

// LoadTestConfig configures load testing parameters
type LoadTestConfig struct {
	// Number of concurrent clients
	Clients int

	// Number of requests per client, 0 runs until Duration or ctx ends
	RequestsPerClient int

	// Requests per second across all clients, 0 is unlimited
	RateLimit float64

	Duration   time.Duration
	RampUpTime time.Duration

	// Relative weight of each operation. Empty selects a default mix.
	OperationMix map[string]float64

	Tool      string
	ToolArgs  interface{}
	Resource  string
	NewClient ClientFactory

	ReportInterval time.Duration
	Logger         logging.Logger
}

// LoadTestResult contains the results of a load test
type LoadTestResult struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	TotalDuration      time.Duration

	MinLatency time.Duration
	MaxLatency time.Duration
	AvgLatency time.Duration
	P50Latency time.Duration
	P90Latency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration

	RequestsPerSecond float64

	// ErrorCounts is keyed by error kind
	ErrorCounts map[string]int64

	OperationMetrics map[string]*OperationMetrics
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count      int64
	Successful int64
	Failed     int64
	TotalTime  time.Duration
	MinTime    time.Duration
	MaxTime    time.Duration

	mu        sync.Mutex
	latencies []time.Duration
}

// LoadTester runs one load test
type LoadTester struct {
	config  LoadTestConfig
	ops     []string
	weights []float64
	limiter *rate.Limiter

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64

	mu               sync.Mutex
	errorCounts      map[string]int64
	operationMetrics map[string]*OperationMetrics
}

func NewLoadTester(config LoadTestConfig) (*LoadTester, error) {
	if config.NewClient == nil {
		return nil, mcperrors.InvalidParams("a client factory is required")
	}
	if config.Clients <= 0 {
		config.Clients = 1
	}
	if config.ReportInterval == 0 {
		config.ReportInterval = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logging.New(io.Discard, nil)
	}
	if len(config.OperationMix) == 0 {
		config.OperationMix = map[string]float64{
			OpCallTool:      40,
			OpReadResource:  30,
			OpListTools:     20,
			OpListResources: 10,
		}
	}
	if config.RequestsPerClient == 0 && config.Duration == 0 {
		return nil, mcperrors.InvalidParams("either requests per client or a duration is required")
	}

	lt := &LoadTester{
		config:           config,
		errorCounts:      make(map[string]int64),
		operationMetrics: make(map[string]*OperationMetrics),
	}

	var total float64
	for op, w := range config.OperationMix {
		switch op {
		case OpCallTool, OpReadResource, OpListTools, OpListResources, OpPing:
		default:
			return nil, mcperrors.InvalidParams("unknown operation %q", op)
		}
		if w > 0 {
			lt.ops = append(lt.ops, op)
			total += w
		}
	}
	if total == 0 {
		return nil, mcperrors.InvalidParams("operation mix has no positive weight")
	}
	sort.Strings(lt.ops)
	for _, op := range lt.ops {
		lt.weights = append(lt.weights, config.OperationMix[op]/total)
	}

	if config.RateLimit > 0 {
		lt.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return lt, nil
}

// Run connects every client, drives the workload and closes the clients
func (lt *LoadTester) Run(ctx context.Context) (*LoadTestResult, error) {
	if lt.config.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lt.config.Duration)
		defer cancel()
	}

	clients := make([]*client.Client, lt.config.Clients)
	defer func() {
		for _, c := range clients {
			if c != nil {
				_ = c.Close(context.Background())
			}
		}
	}()
	for i := range clients {
		c, err := lt.config.NewClient(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("failed to create client %d: %w", i, err)
		}
		clients[i] = c
	}

	start := time.Now()
	stopReport := lt.reportProgress()
	defer stopReport()

	var g errgroup.Group
	for i, c := range clients {
		i, c := i, c
		g.Go(func() error {
			if lt.config.RampUpTime > 0 && len(clients) > 1 {
				delay := lt.config.RampUpTime * time.Duration(i) / time.Duration(len(clients)-1)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil
				}
			}
			lt.runClient(ctx, i, c)
			return nil
		})
	}
	_ = g.Wait()

	return lt.calculateResults(time.Since(start)), nil
}

func (lt *LoadTester) runClient(ctx context.Context, id int, c *client.Client) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	for n := 0; lt.config.RequestsPerClient == 0 || n < lt.config.RequestsPerClient; n++ {
		if lt.limiter != nil {
			if err := lt.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		lt.executeOperation(ctx, c, lt.selectOperation(rng.Float64()))
	}
}

// selectOperation maps r in [0, 1) onto the weighted operation mix
func (lt *LoadTester) selectOperation(r float64) string {
	var acc float64
	for i, w := range lt.weights {
		acc += w
		if r < acc {
			return lt.ops[i]
		}
	}
	return lt.ops[len(lt.ops)-1]
}

func (lt *LoadTester) executeOperation(ctx context.Context, c *client.Client, op string) {
	start := time.Now()
	var err error

	switch op {
	case OpCallTool:
		_, err = c.CallTool(ctx, lt.config.Tool, lt.config.ToolArgs)
	case OpReadResource:
		_, err = c.ReadResource(ctx, lt.config.Resource)
	case OpListTools:
		_, err = c.ListTools(ctx, "")
	case OpListResources:
		_, err = c.ListResources(ctx, "")
	case OpPing:
		err = c.Ping(ctx)
	}
	duration := time.Since(start)

	// the deadline ending the run is not a failure of the server
	if err != nil && ctx.Err() != nil {
		return
	}

	lt.totalRequests.Add(1)
	lt.metricsFor(op).recordOperation(duration, err)
	if err != nil {
		lt.failedRequests.Add(1)
		lt.mu.Lock()
		lt.errorCounts[mcperrors.KindOf(err).String()]++
		lt.mu.Unlock()
	} else {
		lt.successfulRequests.Add(1)
	}
}

func (lt *LoadTester) metricsFor(op string) *OperationMetrics {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	m, ok := lt.operationMetrics[op]
	if !ok {
		m = &OperationMetrics{}
		lt.operationMetrics[op] = m
	}
	return m
}

func (m *OperationMetrics) recordOperation(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Count++
	m.TotalTime += duration
	if err != nil {
		m.Failed++
	} else {
		m.Successful++
	}
	if m.MinTime == 0 || duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
	m.latencies = append(m.latencies, duration)
}

// reportProgress logs throughput every ReportInterval until the returned func is called
func (lt *LoadTester) reportProgress() func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(lt.config.ReportInterval)
		defer ticker.Stop()

		last, lastTime := int64(0), time.Now()
		for {
			select {
			case now := <-ticker.C:
				current := lt.totalRequests.Load()
				lt.config.Logger.Info("load test progress",
					logging.Any("requests", current),
					logging.Any("rps", float64(current-last)/now.Sub(lastTime).Seconds()),
					logging.Any("failed", lt.failedRequests.Load()),
				)
				last, lastTime = current, now
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (lt *LoadTester) calculateResults(duration time.Duration) *LoadTestResult {
	result := &LoadTestResult{
		TotalRequests:      lt.totalRequests.Load(),
		SuccessfulRequests: lt.successfulRequests.Load(),
		FailedRequests:     lt.failedRequests.Load(),
		TotalDuration:      duration,
		ErrorCounts:        make(map[string]int64),
		OperationMetrics:   make(map[string]*OperationMetrics),
	}
	if duration > 0 {
		result.RequestsPerSecond = float64(result.TotalRequests) / duration.Seconds()
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	for k, v := range lt.errorCounts {
		result.ErrorCounts[k] = v
	}

	var all []time.Duration
	for op, m := range lt.operationMetrics {
		result.OperationMetrics[op] = m
		m.mu.Lock()
		all = append(all, m.latencies...)
		m.mu.Unlock()
	}
	if len(all) == 0 {
		return result
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	var sum time.Duration
	for _, d := range all {
		sum += d
	}
	result.MinLatency = all[0]
	result.MaxLatency = all[len(all)-1]
	result.AvgLatency = sum / time.Duration(len(all))
	result.P50Latency = percentile(all, 50)
	result.P90Latency = percentile(all, 90)
	result.P95Latency = percentile(all, 95)
	result.P99Latency = percentile(all, 99)
	return result
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	index := int(math.Ceil(float64(len(sorted))*p/100.0)) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// PrintResults writes a readable summary to w
func (r *LoadTestResult) PrintResults(w io.Writer) {
	pct := func(n int64) float64 {
		if r.TotalRequests == 0 {
			return 0
		}
		return float64(n) / float64(r.TotalRequests) * 100
	}

	fmt.Fprintln(w, "=== Load Test Results ===")
	fmt.Fprintf(w, "Total Duration: %s\n", r.TotalDuration)
	fmt.Fprintf(w, "Total Requests: %d\n", r.TotalRequests)
	fmt.Fprintf(w, "Successful: %d (%.1f%%)\n", r.SuccessfulRequests, pct(r.SuccessfulRequests))
	fmt.Fprintf(w, "Failed: %d (%.1f%%)\n", r.FailedRequests, pct(r.FailedRequests))
	fmt.Fprintf(w, "Requests/sec: %.2f\n", r.RequestsPerSecond)

	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min: %s\n  Avg: %s\n  P50: %s\n  P90: %s\n  P95: %s\n  P99: %s\n  Max: %s\n",
		r.MinLatency, r.AvgLatency, r.P50Latency, r.P90Latency, r.P95Latency, r.P99Latency, r.MaxLatency)

	ops := make([]string, 0, len(r.OperationMetrics))
	for op := range r.OperationMetrics {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	if len(ops) > 0 {
		fmt.Fprintln(w, "\nOperations:")
	}
	for _, op := range ops {
		m := r.OperationMetrics[op]
		fmt.Fprintf(w, "  %-14s count=%d failed=%d avg=%s\n", op, m.Count, m.Failed, m.TotalTime/time.Duration(m.Count))
	}

	if len(r.ErrorCounts) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for kind, count := range r.ErrorCounts {
			fmt.Fprintf(w, "  %s: %d\n", kind, count)
		}
	}
}
