package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

// FileStore persists sessions on disk:
//
//	{baseDir}/{agentID}/index.json        session metadata
//	{baseDir}/{agentID}/{sessionKey}.jsonl  transcript, one message per line
//
// Index writes go through write-temp-and-rename so a crash never leaves a
// torn index. Transcript appends are O(1); only ReplaceHistory rewrites.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
	logger  *slog.Logger
	now     func() time.Time
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string, logger *slog.Logger, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{baseDir: baseDir, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return s, nil
}

func (s *FileStore) agentDir(agentID string) string {
	return filepath.Join(s.baseDir, sanitize(agentID))
}

func (s *FileStore) indexPath(agentID string) string {
	return filepath.Join(s.agentDir(agentID), "index.json")
}

func (s *FileStore) transcriptPath(agentID, key string) string {
	return filepath.Join(s.agentDir(agentID), sanitize(key)+".jsonl")
}

// sanitize keeps keys filesystem-safe. Session keys contain ':' separators
// which are legal on this platform but hostile to tooling.
func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "..", "_")
	return r.Replace(name)
}

func (s *FileStore) loadIndex(agentID string) (map[string]*models.Session, error) {
	data, err := os.ReadFile(s.indexPath(agentID))
	if os.IsNotExist(err) {
		return map[string]*models.Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session index: %w", err)
	}
	var list []*models.Session
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse session index: %w", err)
	}
	idx := make(map[string]*models.Session, len(list))
	for _, sess := range list {
		idx[sess.Key] = sess
	}
	return idx, nil
}

func (s *FileStore) saveIndex(agentID string, idx map[string]*models.Session) error {
	list := make([]*models.Session, 0, len(idx))
	for _, sess := range idx {
		list = append(list, sess)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastActiveAt.After(list[j].LastActiveAt)
	})
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	return writeAtomic(s.indexPath(agentID), data)
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (s *FileStore) GetOrCreate(ctx context.Context, agentID, peerID, channel string, typ models.SessionType) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex(agentID)
	if err != nil {
		return nil, err
	}
	key := models.SessionKey(peerID, channel, typ)
	if sess, ok := idx[key]; ok {
		return cloneSession(sess), nil
	}

	now := s.now().UTC()
	sess := &models.Session{
		AgentID:      agentID,
		Key:          key,
		Type:         typ,
		Channel:      channel,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	idx[key] = sess
	if err := s.saveIndex(agentID, idx); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("session created", "agent", agentID, "key", key, "type", typ)
	}
	return cloneSession(sess), nil
}

func (s *FileStore) Get(ctx context.Context, agentID, key string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex(agentID)
	if err != nil {
		return nil, err
	}
	sess, ok := idx[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *FileStore) List(ctx context.Context, agentID string) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex(agentID)
	if err != nil {
		return nil, err
	}
	list := make([]*models.Session, 0, len(idx))
	for _, sess := range idx {
		list = append(list, cloneSession(sess))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastActiveAt.After(list[j].LastActiveAt)
	})
	return list, nil
}

func (s *FileStore) Delete(ctx context.Context, agentID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex(agentID)
	if err != nil {
		return err
	}
	if _, ok := idx[key]; !ok {
		return ErrNotFound
	}
	delete(idx, key)
	if err := s.saveIndex(agentID, idx); err != nil {
		return err
	}
	if err := os.Remove(s.transcriptPath(agentID, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transcript: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context, agentID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex(agentID)
	if err != nil {
		return err
	}
	sess, ok := idx[key]
	if !ok {
		return ErrNotFound
	}
	if err := writeAtomic(s.transcriptPath(agentID, key), nil); err != nil {
		return err
	}
	sess.MessageCount = 0
	sess.LastActiveAt = s.now().UTC()
	return s.saveIndex(agentID, idx)
}

func (s *FileStore) Append(ctx context.Context, agentID, key string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex(agentID)
	if err != nil {
		return err
	}
	sess, ok := idx[key]
	if !ok {
		return ErrNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	f, err := os.OpenFile(s.transcriptPath(agentID, key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	sess.MessageCount++
	sess.LastActiveAt = s.now().UTC()
	return s.saveIndex(agentID, idx)
}

func (s *FileStore) History(ctx context.Context, agentID, key string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.transcriptPath(agentID, key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var msgs []models.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg models.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			// A torn trailing line from a crash mid-append is expected;
			// skip it rather than failing the whole read.
			if s.logger != nil {
				s.logger.Warn("skipping malformed transcript line", "agent", agentID, "key", key)
			}
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *FileStore) ReplaceHistory(ctx context.Context, agentID, key string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex(agentID)
	if err != nil {
		return err
	}
	sess, ok := idx[key]
	if !ok {
		return ErrNotFound
	}

	var buf strings.Builder
	for i := range msgs {
		line, err := json.Marshal(&msgs[i])
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := writeAtomic(s.transcriptPath(agentID, key), []byte(buf.String())); err != nil {
		return err
	}

	sess.MessageCount = len(msgs)
	sess.LastActiveAt = s.now().UTC()
	return s.saveIndex(agentID, idx)
}

func cloneSession(sess *models.Session) *models.Session {
	clone := *sess
	return &clone
}
