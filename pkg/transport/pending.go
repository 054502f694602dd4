package transport

import (
	"context"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// Result completes a pending request with either a response or a failure
type Result struct {
	Response *protocol.Response
	Err      error
}

// PendingTable correlates outstanding requests with their responses.
// Each id has at most one entry and every entry is completed at most once.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]chan Result
	failure error
}

func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]chan Result)}
}

// Register creates the completion for id. Registering an id that is still
// pending is a protocol violation. After FailAll, Register returns the
// failure until Reset is called.
func (p *PendingTable) Register(id interface{}) (<-chan Result, error) {
	key := protocol.IDKey(id)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failure != nil {
		return nil, p.failure
	}
	if _, exists := p.entries[key]; exists {
		return nil, mcperrors.ProtocolViolation("request id %s is already pending", key)
	}
	ch := make(chan Result, 1)
	p.entries[key] = ch
	return ch, nil
}

// Resolve completes the entry matching resp.ID. It returns false for an
// unknown id; such responses are orphans and should be dropped.
func (p *PendingTable) Resolve(resp *protocol.Response) bool {
	key := protocol.IDKey(resp.ID)

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.entries[key]
	if !ok {
		return false
	}
	delete(p.entries, key)
	// buffered, never blocks
	ch <- Result{Response: resp}
	return true
}

// Await waits for the completion of id. On timeout or cancellation the entry
// is removed, so a late response becomes an orphan.
func (p *PendingTable) Await(ctx context.Context, id interface{}, ch <-chan Result, timeout time.Duration) (*protocol.Response, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case r := <-ch:
		return r.Response, r.Err
	case <-ctx.Done():
		if r, ok := p.abandon(id, ch); ok {
			return r.Response, r.Err
		}
		return nil, mcperrors.FromContext(ctx.Err(), "await response "+protocol.IDKey(id), timeout)
	case <-timer:
		if r, ok := p.abandon(id, ch); ok {
			return r.Response, r.Err
		}
		return nil, mcperrors.RequestTimeout(protocol.IDKey(id), timeout)
	}
}

// abandon removes id. If the entry was already completed the result is
// returned instead, since completion and removal happen under the same lock.
func (p *PendingTable) abandon(id interface{}, ch <-chan Result) (Result, bool) {
	if p.Remove(id) {
		return Result{}, false
	}
	select {
	case r := <-ch:
		return r, true
	default:
		return Result{}, false
	}
}

// Remove drops the entry for id without completing it
func (p *PendingTable) Remove(id interface{}) bool {
	key := protocol.IDKey(id)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[key]; !ok {
		return false
	}
	delete(p.entries, key)
	return true
}

// Len returns the number of outstanding requests
func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// FailAll completes every outstanding entry with err and rejects new
// registrations until Reset.
func (p *PendingTable) FailAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, ch := range p.entries {
		ch <- Result{Err: err}
		delete(p.entries, key)
	}
	p.failure = err
}

// Reset accepts registrations again after FailAll
func (p *PendingTable) Reset() {
	p.mu.Lock()
	p.failure = nil
	p.mu.Unlock()
}
