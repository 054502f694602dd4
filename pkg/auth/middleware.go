package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// HeaderAPIKey carries API keys
const HeaderAPIKey = "X-API-Key"

// MiddlewareConfig configures HTTP authentication
type MiddlewareConfig struct {
	Providers []Provider

	// AllowAnonymous lets requests without credentials through without a
	// user. Invalid credentials are rejected either way.
	AllowAnonymous bool

	Logger logging.Logger
}

// Middleware authenticates every HTTP request, websocket upgrades included.
// Use it with transport.WithHTTPMiddleware.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithFields(logging.String("component", "auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			kind, token := extractCredentials(r)
			if token == "" {
				if cfg.AllowAnonymous {
					next.ServeHTTP(w, r)
					return
				}
				reject(w, ErrAuthRequired, "authentication required")
				return
			}

			user, err := authenticate(r.Context(), cfg.Providers, kind, token)
			if err != nil {
				code := ErrInvalidCredentials
				var authErr *AuthError
				if errors.As(err, &authErr) {
					code = authErr.Code
				}
				logger.Debug("authentication failed",
					logging.String("type", kind),
					logging.String("remote_addr", r.RemoteAddr),
					logging.Err(err),
				)
				reject(w, code, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// extractCredentials reads a bearer token from Authorization or the
// access_token query parameter, which browsers need for websockets, and an
// API key from X-API-Key.
func extractCredentials(r *http.Request) (string, string) {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return "apikey", key
	}
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok {
			switch strings.ToLower(scheme) {
			case "bearer":
				return "bearer", strings.TrimSpace(value)
			case "apikey":
				return "apikey", strings.TrimSpace(value)
			}
		}
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return "bearer", token
	}
	return "", ""
}

func authenticate(ctx context.Context, providers []Provider, kind, token string) (*UserInfo, error) {
	var lastErr error
	for _, p := range providers {
		if p.Type() != kind {
			continue
		}
		user, err := p.Validate(ctx, token)
		if err == nil {
			return user, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = NewAuthError(ErrInvalidCredentials, "unsupported credential type "+kind)
	}
	return nil, lastErr
}

// reject answers with 401 and a JSON-RPC error body
func reject(w http.ResponseWriter, code, message string) {
	resp := mcperrors.ToResponse(mcperrors.AccessDenied("http", message).WithData(map[string]string{"reason": code}), nil)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(resp)
}

// handler wraps a request handler and passes notifications through to it
type handler struct {
	next   transport.RequestHandler
	handle func(ctx context.Context, req *protocol.Request) *protocol.Response
}

func (h *handler) HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	return h.handle(ctx, req)
}

func (h *handler) HandleNotification(ctx context.Context, n *protocol.Notification) error {
	if nh, ok := h.next.(transport.NotificationHandler); ok {
		return nh.HandleNotification(ctx, n)
	}
	return nil
}
