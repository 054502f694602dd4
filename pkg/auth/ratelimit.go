package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// RateLimitConfig bounds how fast a single caller may send requests
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int

	// IdleTTL drops the limiter of a caller idle this long (default 10 minutes)
	IdleTTL time.Duration
}

// RateLimiter keeps one token bucket per caller key
type RateLimiter struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastPrune time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond) + 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > l.cfg.IdleTTL {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > l.cfg.IdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastPrune = now
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len is the number of callers currently tracked
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// callerKey prefers the authenticated user, then the peer
func callerKey(ctx context.Context) string {
	if u, ok := UserFromContext(ctx); ok {
		return "user:" + u.ID
	}
	if id := logging.PeerIDFromContext(ctx); id != "" {
		return "peer:" + id
	}
	return "global"
}

// RateLimit rejects requests over the caller's budget with RateLimited
func RateLimit(l *RateLimiter) transport.HandlerMiddleware {
	return func(next transport.RequestHandler) transport.RequestHandler {
		return &handler{
			next: next,
			handle: func(ctx context.Context, req *protocol.Request) *protocol.Response {
				if !l.Allow(callerKey(ctx)) {
					return mcperrors.ToResponse(mcperrors.RateLimited(req.Method), req.ID)
				}
				return next.HandleRequest(ctx, req)
			},
		}
	}
}
