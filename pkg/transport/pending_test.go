package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

func response(t *testing.T, id interface{}, result interface{}) *protocol.Response {
	t.Helper()
	resp, err := protocol.NewResponse(id, result)
	require.NoError(t, err)
	return resp
}

func TestPendingTableRejectsDuplicateID(t *testing.T) {
	p := NewPendingTable()

	_, err := p.Register(1)
	require.NoError(t, err)

	_, err = p.Register(1)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindProtocolViolation))

	// a string id with the same digits is a different key
	_, err = p.Register("1")
	assert.NoError(t, err)
	assert.Equal(t, 2, p.Len())
}

func TestPendingTableResolve(t *testing.T) {
	p := NewPendingTable()
	ch, err := p.Register("abc")
	require.NoError(t, err)

	assert.True(t, p.Resolve(response(t, "abc", map[string]int{"n": 1})))
	assert.False(t, p.Resolve(response(t, "abc", nil)), "second resolve must be an orphan")
	assert.Equal(t, 0, p.Len())

	resp, err := p.Await(context.Background(), "abc", ch, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.ID)

	// the id may be reused after completion
	_, err = p.Register("abc")
	assert.NoError(t, err)
}

func TestPendingTableTimeoutRemovesEntry(t *testing.T) {
	p := NewPendingTable()
	ch, err := p.Register(7)
	require.NoError(t, err)

	_, err = p.Await(context.Background(), 7, ch, 20*time.Millisecond)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindRequestTimeout))
	assert.Equal(t, 0, p.Len())

	assert.False(t, p.Resolve(response(t, 7, nil)), "late response is an orphan")
}

func TestPendingTableCancelRemovesEntry(t *testing.T) {
	p := NewPendingTable()
	ch, err := p.Register(8)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Await(ctx, 8, ch, time.Second)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindCancelled))
	assert.Equal(t, 0, p.Len())
}

func TestPendingTableFailAll(t *testing.T) {
	p := NewPendingTable()
	closed := mcperrors.ConnectionClosed("test")

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		ch, err := p.Register(i)
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, ch <-chan Result) {
			defer wg.Done()
			_, errs[i] = p.Await(context.Background(), i, ch, time.Second)
		}(i, ch)
	}

	p.FailAll(closed)
	wg.Wait()
	for _, err := range errs {
		assert.True(t, mcperrors.IsKind(err, mcperrors.KindNotConnected), "got %v", err)
	}
	assert.Equal(t, 0, p.Len())

	_, err := p.Register(99)
	assert.Error(t, err, "registrations are refused after FailAll")

	p.Reset()
	_, err = p.Register(99)
	assert.NoError(t, err)
}

func TestPendingTableOutOfOrderResolution(t *testing.T) {
	p := NewPendingTable()
	ch1, err := p.Register(1)
	require.NoError(t, err)
	ch2, err := p.Register(2)
	require.NoError(t, err)

	p.Resolve(response(t, 2, "two"))
	p.Resolve(response(t, 1, "one"))

	r1, err := p.Await(context.Background(), 1, ch1, time.Second)
	require.NoError(t, err)
	r2, err := p.Await(context.Background(), 2, ch2, time.Second)
	require.NoError(t, err)

	assert.JSONEq(t, `"one"`, string(r1.Result))
	assert.JSONEq(t, `"two"`, string(r2.Result))
}
