package transport

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
)

// Peer is the outbound side of one accepted connection
type Peer interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// BroadcastReport describes the outcome of Registry.Broadcast
type BroadcastReport struct {
	Delivered int
	Removed   []string
}

// Registry tracks the peers connected to a server transport. A peer whose
// send fails is removed, so the registry never keeps a peer known to be dead.
type Registry struct {
	mu      sync.RWMutex
	peers   map[string]Peer
	logger  logging.Logger
	metrics observability.MetricsProvider
}

func NewRegistry(logger logging.Logger, metrics observability.MetricsProvider) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics()
	}
	return &Registry{
		peers:   make(map[string]Peer),
		logger:  logger,
		metrics: metrics,
	}
}

// Add registers p under a fresh uuid and returns it
func (r *Registry) Add(p Peer) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.peers[id] = p
	r.mu.Unlock()

	r.metrics.RecordActivePeers(context.Background(), 1)
	r.logger.Debug("peer connected", logging.String("peer_id", id))
	return id
}

// Remove unregisters and closes the peer. Exactly one of several concurrent
// callers observes true.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	p, ok := r.peers[id]
	delete(r.peers, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := p.Close(); err != nil {
		r.logger.Debug("peer close failed", logging.String("peer_id", id), logging.Err(err))
	}
	r.metrics.RecordActivePeers(context.Background(), -1)
	r.logger.Debug("peer removed", logging.String("peer_id", id))
	return true
}

func (r *Registry) Get(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// IDs returns the registered peer ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Broadcast sends data to every peer registered at the time of the call.
// Sends happen outside the lock; a failing peer is removed and does not
// prevent delivery to the others.
func (r *Registry) Broadcast(ctx context.Context, data []byte) BroadcastReport {
	r.mu.RLock()
	snapshot := make(map[string]Peer, len(r.peers))
	for id, p := range r.peers {
		snapshot[id] = p
	}
	r.mu.RUnlock()

	var report BroadcastReport
	for id, p := range snapshot {
		if err := p.Send(ctx, data); err != nil {
			r.logger.Warn("broadcast send failed, removing peer", logging.String("peer_id", id), logging.Err(err))
			if r.Remove(id) {
				report.Removed = append(report.Removed, id)
			}
			continue
		}
		report.Delivered++
	}
	sort.Strings(report.Removed)
	r.metrics.RecordBroadcast(ctx, report.Delivered, len(report.Removed))
	return report
}

// CloseAll removes and closes every peer
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}
