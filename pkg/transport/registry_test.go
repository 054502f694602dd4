package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
)

type fakePeer struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closes atomic.Int32
}

func (p *fakePeer) Send(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broken pipe")
	}
	p.frames = append(p.frames, data)
	return nil
}

func (p *fakePeer) Close() error {
	p.closes.Add(1)
	return nil
}

func (p *fakePeer) received() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func TestRegistryBroadcastRemovesFailedPeer(t *testing.T) {
	r := NewRegistry(logging.Nop(), observability.NoopMetrics())

	healthy := []*fakePeer{{}, {}, {}}
	for _, p := range healthy {
		r.Add(p)
	}
	dead := &fakePeer{fail: true}
	deadID := r.Add(dead)
	require.Equal(t, 4, r.Len())

	report := r.Broadcast(context.Background(), []byte(`{"jsonrpc":"2.0","method":"x"}`))

	assert.Equal(t, 3, report.Delivered)
	assert.Equal(t, []string{deadID}, report.Removed)
	assert.Equal(t, 3, r.Len())
	_, ok := r.Get(deadID)
	assert.False(t, ok)
	assert.Equal(t, int32(1), dead.closes.Load())
	for _, p := range healthy {
		assert.Equal(t, 1, p.received())
		assert.Equal(t, int32(0), p.closes.Load())
	}
}

func TestRegistryRemoveIsExactlyOnce(t *testing.T) {
	r := NewRegistry(nil, nil)
	p := &fakePeer{}
	id := r.Add(p)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Remove(id) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), p.closes.Load())
	assert.Equal(t, 0, r.Len())
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry(nil, nil)
	peers := []*fakePeer{{}, {}}
	for _, p := range peers {
		r.Add(p)
	}
	assert.Len(t, r.IDs(), 2)

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
	for _, p := range peers {
		assert.Equal(t, int32(1), p.closes.Load())
	}
}
