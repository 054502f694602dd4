package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
)

func TestSubscriptionManager(t *testing.T) {
	m := NewSubscriptionManager(logging.Nop())

	assert.True(t, m.Subscribe("mem://a"))
	assert.False(t, m.Subscribe("mem://a"), "second subscribe is not new")
	assert.True(t, m.Subscribe("mem://b"))
	assert.Equal(t, 2, m.Len())

	subs := m.List()
	require.Len(t, subs, 2)
	assert.Equal(t, "mem://a", subs[0].URI)
	assert.Equal(t, 2, subs[0].Count)

	// one unsubscribe per subscribe
	assert.True(t, m.Unsubscribe("mem://a"))
	assert.True(t, m.IsSubscribed("mem://a"))
	assert.True(t, m.Unsubscribe("mem://a"))
	assert.False(t, m.IsSubscribed("mem://a"))
	assert.False(t, m.Unsubscribe("mem://a"))

	assert.False(t, m.IsSubscribed("mem://b/child"), "matching is exact")

	m.Clear()
	assert.Zero(t, m.Len())
}

func TestSubscriptionManagerTouch(t *testing.T) {
	m := NewSubscriptionManager(nil)
	m.Subscribe("mem://a")
	before := m.List()[0].LastUpdate

	m.Touch("mem://a")
	m.Touch("mem://unknown")
	assert.False(t, m.List()[0].LastUpdate.Before(before))
	assert.Equal(t, 1, m.Len())
}

func TestSubscriptionManagerConcurrent(t *testing.T) {
	m := NewSubscriptionManager(logging.Nop())

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				uri := fmt.Sprintf("mem://%d", i%10)
				m.Subscribe(uri)
				m.IsSubscribed(uri)
				m.List()
				m.Unsubscribe(uri)
			}
		}(w)
	}
	wg.Wait()
	assert.Zero(t, m.Len())
}
