// Package auth manages control-plane API keys: generation, hashed storage,
// validation, and scope checks.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrKeyExpired = errors.New("api key expired")
	ErrKeyRevoked = errors.New("api key revoked")
	ErrNotFound   = errors.New("api key not found")
)

// KeyPrefix starts every issued secret; the segment after it up to the
// second dot is the public key ID.
const KeyPrefix = "lh"

const secretBytes = 24

// KeyStore persists API keys at {path} (api/keys.json) with atomic writes.
// Secrets are shown once at creation; only SHA-256 hashes are stored.
type KeyStore struct {
	mu     sync.RWMutex
	path   string
	keys   map[string]*models.APIKey // by ID
	logger *slog.Logger
	now    func() time.Time
}

// NewKeyStore loads existing keys from disk, creating the file's directory
// if needed.
func NewKeyStore(path string, logger *slog.Logger) (*KeyStore, error) {
	s := &KeyStore{
		path:   path,
		keys:   map[string]*models.APIKey{},
		logger: logger,
		now:    time.Now,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KeyStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read key store: %w", err)
	}
	var list []*models.APIKey
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse key store: %w", err)
	}
	for _, k := range list {
		s.keys[k.ID] = k
	}
	return nil
}

func (s *KeyStore) saveLocked() error {
	list := make([]*models.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		list = append(list, k)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key store: %w", err)
	}
	return writeAtomic(s.path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-keys-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(name, 0o600); err != nil {
		os.Remove(name)
		return fmt.Errorf("chmod key store: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Create mints a new key and returns the record plus the plaintext secret.
// The secret has the form lh.{id}.{random}; it is never stored or logged.
func (s *KeyStore) Create(name string, scopes []models.Scope, rateLimit int, expiresAt *time.Time) (*models.APIKey, string, error) {
	idRaw := make([]byte, 6)
	if _, err := rand.Read(idRaw); err != nil {
		return nil, "", fmt.Errorf("generate key id: %w", err)
	}
	secretRaw := make([]byte, secretBytes)
	if _, err := rand.Read(secretRaw); err != nil {
		return nil, "", fmt.Errorf("generate key secret: %w", err)
	}
	id := hex.EncodeToString(idRaw)
	secret := KeyPrefix + "." + id + "." + hex.EncodeToString(secretRaw)

	key := &models.APIKey{
		ID:        id,
		Hash:      hashSecret(secret),
		Name:      name,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
		Scopes:    scopes,
		RateLimit: rateLimit,
		Active:    true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = key
	if err := s.saveLocked(); err != nil {
		delete(s.keys, id)
		return nil, "", err
	}
	if s.logger != nil {
		s.logger.Info("api key created", "id", id, "name", name, "scopes", scopes)
	}
	return cloneKey(key), secret, nil
}

// Validate checks a presented secret and returns the matching key record.
// The hash comparison is constant-time.
func (s *KeyStore) Validate(secret string) (*models.APIKey, error) {
	secret = strings.TrimSpace(secret)
	parts := strings.SplitN(secret, ".", 3)
	if len(parts) != 3 || parts[0] != KeyPrefix {
		return nil, ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[parts[1]]
	if !ok {
		return nil, ErrInvalidKey
	}
	presented := hashSecret(secret)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(key.Hash)) != 1 {
		return nil, ErrInvalidKey
	}
	if !key.Active {
		return nil, ErrKeyRevoked
	}
	if key.Expired(s.now()) {
		return nil, ErrKeyExpired
	}

	now := s.now().UTC()
	key.LastUsedAt = &now
	key.Usage.TotalRequests++
	// Usage stamps are flushed on the next mutating save; losing a few
	// counters in a crash is acceptable.
	return cloneKey(key), nil
}

// RecordTokens adds token spend to a key's lifetime counters.
func (s *KeyStore) RecordTokens(id string, tokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.keys[id]; ok {
		key.Usage.TotalTokens += tokens
	}
}

// Get returns a key record by ID.
func (s *KeyStore) Get(id string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneKey(key), nil
}

// List returns all key records, oldest first.
func (s *KeyStore) List() []*models.APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*models.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		list = append(list, cloneKey(k))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

// Revoke deactivates a key. Revocation is permanent.
func (s *KeyStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.Active = false
	if err := s.saveLocked(); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("api key revoked", "id", id, "name", key.Name)
	}
	return nil
}

// Flush persists in-memory usage counters.
func (s *KeyStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func cloneKey(k *models.APIKey) *models.APIKey {
	clone := *k
	clone.Scopes = append([]models.Scope(nil), k.Scopes...)
	return &clone
}
