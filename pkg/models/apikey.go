package models

import "time"

// Scope is a capability tag attached to an API key. Required scopes are
// route-specific; ScopeAdmin and ScopeAll imply every other scope.
type Scope string

const (
	ScopeChat         Scope = "chat"
	ScopeChatStream   Scope = "chat:stream"
	ScopeSessions     Scope = "sessions"
	ScopeMemory       Scope = "memory"
	ScopeMarathon     Scope = "marathon"
	ScopeMarathonRead Scope = "marathon:read"
	ScopeSkills       Scope = "skills"
	ScopeGenerate     Scope = "generate"
	ScopeTools        Scope = "tools"
	ScopeAdmin        Scope = "admin"
	ScopeAll          Scope = "*"
)

// APIKeyUsage tracks lifetime usage counters for a key.
type APIKeyUsage struct {
	TotalRequests int64 `json:"total_requests"`
	TotalTokens   int64 `json:"total_tokens"`
}

// APIKey is the stored form of a control-plane credential. The secret is
// never stored; validation compares a SHA-256 hash.
type APIKey struct {
	ID         string      `json:"id"` // public prefix
	Hash       string      `json:"hash"`
	Name       string      `json:"name"`
	CreatedAt  time.Time   `json:"created_at"`
	LastUsedAt *time.Time  `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	Scopes     []Scope     `json:"scopes"`
	RateLimit  int         `json:"rate_limit"` // requests per minute
	Usage      APIKeyUsage `json:"usage"`
	Active     bool        `json:"active"`
}

// HasScope reports whether the key grants the required scope.
func (k *APIKey) HasScope(required Scope) bool {
	for _, s := range k.Scopes {
		if s == required || s == ScopeAdmin || s == ScopeAll {
			return true
		}
	}
	return false
}

// Expired reports whether the key is past its expiry at the given time.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
