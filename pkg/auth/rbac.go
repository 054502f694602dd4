package auth

import (
	"context"
	"path"
	"sort"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// Policy maps roles to the MCP methods they may call. Method patterns use
// path.Match syntax, so "tools/*" covers tools/list and tools/call; "*"
// alone matches every method.
type Policy struct {
	mu     sync.RWMutex
	roles  map[string][]string
	public []string
}

// NewPolicy returns a policy where initialize and ping need no user
func NewPolicy() *Policy {
	return &Policy{
		roles:  make(map[string][]string),
		public: []string{protocol.MethodInitialize, protocol.MethodPing},
	}
}

// Allow grants role the methods matching patterns
func (p *Policy) Allow(role string, patterns ...string) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles[role] = append(p.roles[role], patterns...)
	return p
}

// Public makes the methods matching patterns callable without a user
func (p *Policy) Public(patterns ...string) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.public = append(p.public, patterns...)
	return p
}

// Roles lists the roles with at least one grant
func (p *Policy) Roles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.roles))
	for r := range p.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Permits reports whether user may call method. A nil user only reaches
// public methods.
func (p *Policy) Permits(user *UserInfo, method string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if matchAny(p.public, method) {
		return true
	}
	if user == nil {
		return false
	}
	for _, role := range user.Roles {
		if matchAny(p.roles[role], method) {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, method string) bool {
	for _, pattern := range patterns {
		if pattern == "*" || pattern == method {
			return true
		}
		if ok, err := path.Match(pattern, method); err == nil && ok {
			return true
		}
	}
	return false
}

// Authorize rejects requests the caller's roles do not permit with AccessDenied
func Authorize(p *Policy) transport.HandlerMiddleware {
	return func(next transport.RequestHandler) transport.RequestHandler {
		return &handler{
			next: next,
			handle: func(ctx context.Context, req *protocol.Request) *protocol.Response {
				user, ok := UserFromContext(ctx)
				if !p.Permits(user, req.Method) {
					reason := "not permitted"
					if !ok {
						reason = "authentication required"
					}
					return mcperrors.ToResponse(mcperrors.AccessDenied(req.Method, reason), req.ID)
				}
				return next.HandleRequest(ctx, req)
			},
		}
	}
}
