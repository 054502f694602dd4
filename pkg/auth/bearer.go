package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// TokenValidationCallback validates tokens issued outside the provider, such as JWTs
type TokenValidationCallback func(ctx context.Context, token string) (*UserInfo, error)

// BearerTokenConfig configures the bearer token provider
type BearerTokenConfig struct {
	// TokenExpiry is the lifetime of issued tokens (default 1 hour)
	TokenExpiry time.Duration

	// TokenLength in random bytes (default 32)
	TokenLength int

	// ValidationCallback replaces the provider's own token store
	ValidationCallback TokenValidationCallback
}

// BearerTokenProvider issues and validates short-lived bearer tokens
type BearerTokenProvider struct {
	mu       sync.RWMutex
	tokens   map[string]*tokenInfo
	expiry   time.Duration
	length   int
	callback TokenValidationCallback
	now      func() time.Time
}

type tokenInfo struct {
	user      UserInfo
	issuedAt  time.Time
	expiresAt time.Time
}

func NewBearerTokenProvider(cfg BearerTokenConfig) *BearerTokenProvider {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = time.Hour
	}
	if cfg.TokenLength == 0 {
		cfg.TokenLength = 32
	}
	return &BearerTokenProvider{
		tokens:   make(map[string]*tokenInfo),
		expiry:   cfg.TokenExpiry,
		length:   cfg.TokenLength,
		callback: cfg.ValidationCallback,
		now:      time.Now,
	}
}

func (p *BearerTokenProvider) Type() string {
	return "bearer"
}

// Issue creates a token for user valid for the configured expiry
func (p *BearerTokenProvider) Issue(user UserInfo) (string, time.Time, error) {
	buf := make([]byte, p.length)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	now := p.now()
	exp := now.Add(p.expiry)
	user.ExpiresAt = &exp

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = &tokenInfo{user: user, issuedAt: now, expiresAt: exp}
	return token, exp, nil
}

func (p *BearerTokenProvider) Validate(ctx context.Context, token string) (*UserInfo, error) {
	if token == "" {
		return nil, NewAuthError(ErrAuthRequired, "bearer token required")
	}
	if p.callback != nil {
		return p.callback(ctx, token)
	}

	p.mu.RLock()
	info, ok := p.tokens[token]
	p.mu.RUnlock()
	if !ok {
		return nil, NewAuthError(ErrTokenInvalid, "invalid token")
	}
	if p.now().After(info.expiresAt) {
		p.Revoke(token)
		return nil, NewAuthError(ErrTokenExpired, "token expired")
	}

	user := info.user
	return &user, nil
}

// Revoke invalidates token and reports whether it was known
func (p *BearerTokenProvider) Revoke(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tokens[token]; !ok {
		return false
	}
	delete(p.tokens, token)
	return true
}

// Purge drops expired tokens and returns how many were removed
func (p *BearerTokenProvider) Purge() int {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for token, info := range p.tokens {
		if now.After(info.expiresAt) {
			delete(p.tokens, token)
			n++
		}
	}
	return n
}
