package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// StdioTransport speaks newline-delimited JSON over a reader/writer pair,
// typically the pipes of a spawned server process.
type StdioTransport struct {
	*clientConn

	reader   io.Reader
	writer   *bufio.Writer
	wmu      sync.Mutex
	maxSize  int
	cmd      *exec.Cmd
	stdin    io.Closer
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// NewStdioTransport starts reading r immediately. Requests are written to w.
func NewStdioTransport(r io.Reader, w io.Writer, opts ...Option) *StdioTransport {
	o := buildOptions(append(opts, WithStdio(r, w)))
	return newStdioTransport(DefaultConfig(), o)
}

// StartCommand spawns cmd and connects to it over its standard streams.
// The process is waited for on Close.
func StartCommand(cmd *exec.Cmd, opts ...Option) (*StdioTransport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, mcperrors.TransportIO("stdio", "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, mcperrors.TransportIO("stdio", "stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, mcperrors.TransportIO("stdio", "start "+cmd.Path, err)
	}

	o := buildOptions(append(opts, WithStdio(stdout, stdin)))
	t := newStdioTransport(DefaultConfig(), o)
	t.cmd = cmd
	t.stdin = stdin
	return t, nil
}

// DefaultConfig returns the transport defaults for a stdio transport
func DefaultConfig() Config {
	return config.DefaultTransportConfig(config.TransportStdio)
}

func newStdioTransport(cfg Config, o *options) *StdioTransport {
	r, w := o.reader, o.writer
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}

	t := &StdioTransport{
		reader:  r,
		writer:  bufio.NewWriter(w),
		maxSize: int(cfg.MaxMessageSize),
	}
	t.clientConn = newClientConn("stdio", cfg, o, t.writeLine)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.group, ctx = errgroup.WithContext(ctx)
	t.group.Go(func() error {
		return t.readLoop(ctx)
	})
	return t
}

func (t *StdioTransport) readLoop(ctx context.Context) error {
	defer t.shutdown()

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64*1024), t.maxSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)
		t.handleFrame(ctx, data)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
		t.logger.Warn("stdio read failed", logging.Err(err))
		return mcperrors.TransportIO("stdio", "read", err)
	}
	t.logger.Debug("stdio input closed")
	return nil
}

func (t *StdioTransport) writeLine(_ context.Context, data []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if !t.connected.Load() {
		return mcperrors.NotConnected()
	}
	if _, err := t.writer.Write(data); err != nil {
		return mcperrors.TransportIO("stdio", "write", err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return mcperrors.TransportIO("stdio", "write", err)
	}
	if err := t.writer.Flush(); err != nil {
		return mcperrors.TransportIO("stdio", "flush", err)
	}
	return nil
}

func (t *StdioTransport) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return t.roundTrip(ctx, req)
}

func (t *StdioTransport) SendNotification(ctx context.Context, n *protocol.Notification) error {
	return t.notify(ctx, n)
}

func (t *StdioTransport) ReceiveNotification() (*protocol.Notification, error) {
	return t.receive()
}

// Ready implements Notifier
func (t *StdioTransport) Ready() <-chan struct{} {
	return t.queue.Ready()
}

func (t *StdioTransport) IsConnected() bool {
	return t.connected.Load()
}

func (t *StdioTransport) Info() string {
	if t.cmd != nil {
		return fmt.Sprintf("stdio(%s)", t.cmd.Path)
	}
	return "stdio"
}

// Close stops the reader, fails pending requests and, for spawned servers,
// closes stdin and waits for the process to exit. The reader goroutine is
// awaited only when the input can be closed to unblock it.
func (t *StdioTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		t.wmu.Lock()
		t.shutdown()
		t.wmu.Unlock()
		t.cancel()

		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if rc, ok := t.reader.(io.Closer); ok {
			_ = rc.Close()
			_ = t.group.Wait()
		}
		if t.cmd != nil {
			if werr := t.cmd.Wait(); werr != nil {
				var exitErr *exec.ExitError
				if !errors.As(werr, &exitErr) {
					err = mcperrors.TransportIO("stdio", "wait", werr)
				}
			}
		}
	})
	return err
}
