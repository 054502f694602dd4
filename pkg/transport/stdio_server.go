package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// StdioServer serves a single peer, the host process, over standard streams
type StdioServer struct {
	reader  io.Reader
	writer  *bufio.Writer
	wmu     sync.Mutex
	maxSize int
	logger  logging.Logger
	metrics observability.MetricsProvider
	handler RequestHandler

	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewStdioServer serves requests read from r and writes replies to w.
// Nil streams select os.Stdin and os.Stdout.
func NewStdioServer(r io.Reader, w io.Writer, opts ...Option) *StdioServer {
	o := buildOptions(append(opts, WithStdio(r, w)))
	return newStdioServer(DefaultConfig(), o)
}

func newStdioServer(cfg Config, o *options) *StdioServer {
	r, w := o.reader, o.writer
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &StdioServer{
		reader:  r,
		writer:  bufio.NewWriter(w),
		maxSize: int(cfg.MaxMessageSize),
		logger:  o.logger.WithFields(logging.String("component", "stdio_server")),
		metrics: o.metrics,
	}
}

func (s *StdioServer) SetRequestHandler(h RequestHandler) {
	s.handler = h
}

func (s *StdioServer) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return mcperrors.InvalidState("start", "running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, ctx = errgroup.WithContext(ctx)
	s.metrics.RecordActivePeers(ctx, 1)

	s.group.Go(func() error {
		defer s.metrics.RecordActivePeers(context.Background(), -1)
		return s.readLoop(ctx)
	})
	return nil
}

func (s *StdioServer) readLoop(ctx context.Context) error {
	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 64*1024), s.maxSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)

		// requests are served concurrently so a slow call does not block cancellation
		s.group.Go(func() error {
			if reply := serveFrame(ctx, s.handler, s.logger, data); reply != nil {
				if err := s.write(reply); err != nil {
					s.logger.Warn("failed to write reply", logging.Err(err))
				}
			}
			return nil
		})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
		return mcperrors.TransportIO("stdio", "read", err)
	}
	s.running.Store(false)
	return nil
}

func (s *StdioServer) write(data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.writer.Write(data); err != nil {
		return mcperrors.TransportIO("stdio", "write", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return mcperrors.TransportIO("stdio", "write", err)
	}
	if err := s.writer.Flush(); err != nil {
		return mcperrors.TransportIO("stdio", "flush", err)
	}
	return nil
}

// SendNotification writes n to the single peer
func (s *StdioServer) SendNotification(ctx context.Context, n *protocol.Notification) error {
	if !s.running.Load() {
		return mcperrors.NotConnected()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return mcperrors.Serialization(err)
	}
	if err := s.write(data); err != nil {
		return err
	}
	s.metrics.RecordNotification(ctx, n.Method, observability.DirectionOutbound)
	return nil
}

// Stop cancels in-flight requests. The reader is closed when possible so the
// read loop can be awaited.
func (s *StdioServer) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.running.Store(false)
	s.cancel()

	rc, ok := s.reader.(io.Closer)
	if !ok {
		return nil
	}
	_ = rc.Close()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		return mcperrors.FromContext(ctx.Err(), "stop stdio server", 0)
	}
}

func (s *StdioServer) IsRunning() bool {
	return s.running.Load()
}

func (s *StdioServer) PeerCount() int {
	if s.running.Load() {
		return 1
	}
	return 0
}

func (s *StdioServer) Info() string {
	return "stdio"
}
