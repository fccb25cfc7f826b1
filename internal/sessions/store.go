// Package sessions persists conversation transcripts and session metadata.
package sessions

import (
	"context"
	"errors"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	// GetOrCreate returns the session for (peerID, channel, typ) under an
	// agent, creating it when absent.
	GetOrCreate(ctx context.Context, agentID, peerID, channel string, typ models.SessionType) (*models.Session, error)

	// Get returns a session by its key.
	Get(ctx context.Context, agentID, key string) (*models.Session, error)

	// List returns all sessions for an agent, most recently active first.
	List(ctx context.Context, agentID string) ([]*models.Session, error)

	// Delete removes a session and its transcript.
	Delete(ctx context.Context, agentID, key string) error

	// Clear truncates a session transcript while preserving the session
	// record and its metadata.
	Clear(ctx context.Context, agentID, key string) error

	// Append adds one message to a session transcript and bumps activity.
	Append(ctx context.Context, agentID, key string, msg *models.Message) error

	// History returns the transcript, oldest first. limit <= 0 returns all.
	History(ctx context.Context, agentID, key string, limit int) ([]models.Message, error)

	// ReplaceHistory atomically rewrites a transcript. Compaction is the
	// only caller.
	ReplaceHistory(ctx context.Context, agentID, key string, msgs []models.Message) error
}
