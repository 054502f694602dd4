// Package auth authenticates callers of the server transports and authorizes
// the MCP methods they call.
//
// Authentication happens at the HTTP layer. Middleware validates the bearer
// token or API key of every request, websocket upgrades included, and stores
// the caller in the request context; PeerContext carries it over into the
// context a websocket peer is served with. Authorization and rate limiting
// wrap the router as transport.HandlerMiddleware.
package auth

import (
	"context"
	"net/http"
	"time"
)

// Provider validates one kind of credential
type Provider interface {
	// Validate returns the caller identified by token
	Validate(ctx context.Context, token string) (*UserInfo, error)

	// Type is "bearer" or "apikey" and selects the header the token is read from
	Type() string
}

// UserInfo identifies an authenticated caller
type UserInfo struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Roles     []string   `json:"roles,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (u *UserInfo) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthError is returned by providers for rejected credentials
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Authentication error codes
const (
	ErrInvalidCredentials = "invalid_credentials"
	ErrTokenExpired       = "token_expired"
	ErrTokenInvalid       = "token_invalid"
	ErrAuthRequired       = "authentication_required"
)

func NewAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

type userKey struct{}

// ContextWithUser returns a copy of ctx carrying u
func ContextWithUser(ctx context.Context, u *UserInfo) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the caller stored by Middleware
func UserFromContext(ctx context.Context) (*UserInfo, bool) {
	u, ok := ctx.Value(userKey{}).(*UserInfo)
	return u, ok && u != nil
}

// PeerContext is a transport.PeerContextFunc that copies the caller of the
// websocket upgrade request into the peer's context
func PeerContext(parent context.Context, r *http.Request) context.Context {
	if u, ok := UserFromContext(r.Context()); ok {
		return ContextWithUser(parent, u)
	}
	return parent
}
