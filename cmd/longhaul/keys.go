package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/longhaul-ai/longhaul/internal/auth"
	"github.com/longhaul-ai/longhaul/internal/observability"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// openKeyStore opens the key store under the configured storage directory.
// Key management is local file administration, not a control-plane call.
func openKeyStore(configPath string) (*auth.KeyStore, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(io.Discard, "error")
	return auth.NewKeyStore(filepath.Join(cfg.Storage.BaseDir, "api", "keys.json"), logger)
}

func runKeysCreate(configPath, name string, scopes []string, rateLimit int, expiresIn string) error {
	store, err := openKeyStore(configPath)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if expiresIn != "" {
		d, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in: %w", err)
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}
	typed := make([]models.Scope, len(scopes))
	for i, s := range scopes {
		typed[i] = models.Scope(s)
	}
	key, secret, err := store.Create(name, typed, rateLimit, expiresAt)
	if err != nil {
		return err
	}
	fmt.Printf("Created key %s (%s)\n", key.ID, key.Name)
	fmt.Printf("Scopes:     %v\n", key.Scopes)
	fmt.Printf("Rate limit: %d req/min\n", key.RateLimit)
	if key.ExpiresAt != nil {
		fmt.Printf("Expires:    %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("Secret (shown once, store it now):")
	fmt.Println(" ", secret)
	return nil
}

func runKeysList(configPath string) error {
	store, err := openKeyStore(configPath)
	if err != nil {
		return err
	}
	keys := store.List()
	if len(keys) == 0 {
		fmt.Println("No API keys.")
		return nil
	}
	fmt.Printf("%-14s %-16s %-8s %-10s %s\n", "ID", "NAME", "ACTIVE", "REQUESTS", "SCOPES")
	for _, k := range keys {
		fmt.Printf("%-14s %-16s %-8t %-10d %v\n",
			k.ID, k.Name, k.Active, k.Usage.TotalRequests, k.Scopes)
	}
	return nil
}

func runKeysRevoke(configPath, id string) error {
	store, err := openKeyStore(configPath)
	if err != nil {
		return err
	}
	if err := store.Revoke(id); err != nil {
		return err
	}
	fmt.Printf("Revoked key %s\n", id)
	return nil
}
