package server

import (
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
)

// Subscription is an active resources/subscribe registration
type Subscription struct {
	URI        string
	CreatedAt  time.Time
	LastUpdate time.Time
	// Count is the number of subscribe calls not yet matched by an unsubscribe
	Count int
}

// SubscriptionManager tracks which resource uris have subscribers. Updates
// are broadcast to every peer, so subscriptions are kept per server rather
// than per peer.
type SubscriptionManager struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	logger        logging.Logger
}

func NewSubscriptionManager(logger logging.Logger) *SubscriptionManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SubscriptionManager{
		subscriptions: make(map[string]*Subscription),
		logger:        logger,
	}
}

// Subscribe registers interest in uri and reports whether it is new
func (m *SubscriptionManager) Subscribe(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, exists := m.subscriptions[uri]; exists {
		sub.Count++
		return false
	}
	now := time.Now()
	m.subscriptions[uri] = &Subscription{URI: uri, CreatedAt: now, LastUpdate: now, Count: 1}
	m.logger.Debug("resource subscribed", logging.String("uri", uri))
	return true
}

// Unsubscribe drops one registration for uri. It reports false when uri had none.
func (m *SubscriptionManager) Unsubscribe(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, exists := m.subscriptions[uri]
	if !exists {
		return false
	}
	sub.Count--
	if sub.Count <= 0 {
		delete(m.subscriptions, uri)
		m.logger.Debug("resource unsubscribed", logging.String("uri", uri))
	}
	return true
}

func (m *SubscriptionManager) IsSubscribed(uri string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.subscriptions[uri]
	return exists
}

// Touch records that an update for uri was sent
func (m *SubscriptionManager) Touch(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, exists := m.subscriptions[uri]; exists {
		sub.LastUpdate = time.Now()
	}
}

// List returns copies of every subscription ordered by uri
func (m *SubscriptionManager) List() []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func (m *SubscriptionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Clear drops every subscription
func (m *SubscriptionManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*Subscription)
}
