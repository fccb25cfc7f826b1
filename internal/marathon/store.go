// Package marathon runs long-horizon goals as ordered milestone plans with
// durable state, approval gating, and crash recovery.
package marathon

import (
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

// ErrNotFound is returned when a marathon does not exist.
var ErrNotFound = errors.New("marathon not found")

// Store persists marathon state as one JSON file per run. Every write goes
// through a temp file and rename so readers never observe a torn state.
type Store struct {
	baseDir string
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the store, ensuring the base directory exists.
func NewStore(baseDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create marathon dir: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, sanitizeID(id)+".json")
}

func sanitizeID(id string) string {
	r := strings.NewReplacer("/", "_", "..", "_", string(filepath.Separator), "_")
	return r.Replace(id)
}

// Save writes the full state atomically.
func (s *Store) Save(state *models.MarathonState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("marathon state requires an id")
	}
	l := s.lock(state.ID)
	l.Lock()
	defer l.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal marathon %s: %w", state.ID, err)
	}
	return writeAtomic(s.path(state.ID), data)
}

// Load reads one marathon state.
func (s *Store) Load(id string) (*models.MarathonState, error) {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read marathon %s: %w", id, err)
	}
	var state models.MarathonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode marathon %s: %w", id, err)
	}
	return &state, nil
}

// Delete removes a marathon state file.
func (s *Store) Delete(id string) error {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete marathon %s: %w", id, err)
	}
	return nil
}

// List loads every valid marathon state, newest start first. Files that fail
// to decode or violate basic invariants are quarantined rather than
// crashing the caller.
func (s *Store) List() ([]*models.MarathonState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read marathon dir: %w", err)
	}
	var states []*models.MarathonState
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		state, err := s.loadFile(path)
		if err != nil {
			s.quarantine(path, err)
			continue
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].StartedAt.After(states[j].StartedAt)
	})
	return states, nil
}

func (s *Store) loadFile(path string) (*models.MarathonState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state models.MarathonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := validateState(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

// validateState checks the invariants a recovered state must satisfy before
// the watchdog is allowed to relaunch it.
func validateState(state *models.MarathonState) error {
	if state.ID == "" {
		return errors.New("missing id")
	}
	switch state.Status {
	case models.MarathonPlanning, models.MarathonExecuting, models.MarathonPaused,
		models.MarathonAwaitingApproval, models.MarathonCompleted,
		models.MarathonFailed, models.MarathonAborted:
	default:
		return fmt.Errorf("unknown status %q", state.Status)
	}
	inProgress := 0
	for i := range state.Plan.Milestones {
		if state.Plan.Milestones[i].Status == models.MilestoneInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return fmt.Errorf("%d milestones in-progress", inProgress)
	}
	return nil
}

// quarantine moves a corrupt state file aside so startup can proceed.
func (s *Store) quarantine(path string, cause error) {
	dir := filepath.Join(s.baseDir, "quarantine")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if s.logger != nil {
			s.logger.Error("quarantine dir", "error", err)
		}
		return
	}
	dest := filepath.Join(dir, fmt.Sprintf("%s.%d", filepath.Base(path), time.Now().UnixNano()))
	if err := os.Rename(path, dest); err != nil {
		if s.logger != nil {
			s.logger.Error("quarantine move failed", "path", path, "error", err)
		}
		return
	}
	if s.logger != nil {
		s.logger.Warn("corrupt marathon state quarantined",
			"path", path, "quarantined_to", dest, "cause", cause)
	}
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
