package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// APIKeyConfig configures the API key provider
type APIKeyConfig struct {
	// KeyPrefix is prepended to generated keys and required on validation (default "mcp_")
	KeyPrefix string

	// KeyLength in random bytes (default 32)
	KeyLength int
}

// APIKeyProvider validates long-lived keys, typically held by services.
// Only a hash of each key is kept.
type APIKeyProvider struct {
	mu     sync.RWMutex
	keys   map[string]*apiKeyInfo
	prefix string
	length int
	now    func() time.Time
}

type apiKeyInfo struct {
	user       UserInfo
	createdAt  time.Time
	lastUsedAt time.Time
	expiresAt  *time.Time
}

func NewAPIKeyProvider(cfg APIKeyConfig) *APIKeyProvider {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mcp_"
	}
	if cfg.KeyLength == 0 {
		cfg.KeyLength = 32
	}
	return &APIKeyProvider{
		keys:   make(map[string]*apiKeyInfo),
		prefix: cfg.KeyPrefix,
		length: cfg.KeyLength,
		now:    time.Now,
	}
}

func (p *APIKeyProvider) Type() string {
	return "apikey"
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey creates a key for user. A zero ttl never expires.
func (p *APIKeyProvider) GenerateKey(user UserInfo, ttl time.Duration) (string, error) {
	buf := make([]byte, p.length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	key := p.prefix + hex.EncodeToString(buf)
	p.add(key, user, ttl)
	return key, nil
}

// AddKey registers a key issued elsewhere, for example read from configuration
func (p *APIKeyProvider) AddKey(key string, user UserInfo) {
	p.add(strings.TrimSpace(key), user, 0)
}

func (p *APIKeyProvider) add(key string, user UserInfo, ttl time.Duration) {
	now := p.now()
	info := &apiKeyInfo{user: user, createdAt: now}
	if ttl > 0 {
		exp := now.Add(ttl)
		info.expiresAt = &exp
		info.user.ExpiresAt = &exp
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[hashKey(key)] = info
}

// Revoke removes key and reports whether it was known
func (p *APIKeyProvider) Revoke(key string) bool {
	h := hashKey(strings.TrimSpace(key))
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.keys[h]; !ok {
		return false
	}
	delete(p.keys, h)
	return true
}

func (p *APIKeyProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

func (p *APIKeyProvider) Validate(_ context.Context, key string) (*UserInfo, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, NewAuthError(ErrAuthRequired, "API key required")
	}
	if !strings.HasPrefix(key, p.prefix) {
		return nil, NewAuthError(ErrInvalidCredentials, "invalid API key format")
	}

	h := hashKey(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.keys[h]
	if !ok {
		return nil, NewAuthError(ErrInvalidCredentials, "invalid API key")
	}
	now := p.now()
	if info.expiresAt != nil && now.After(*info.expiresAt) {
		delete(p.keys, h)
		return nil, NewAuthError(ErrTokenExpired, "API key expired")
	}
	info.lastUsedAt = now

	user := info.user
	return &user, nil
}
