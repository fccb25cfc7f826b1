package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*models.Session // agentID -> key -> session
	messages map[string]map[string][]models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]map[string]*models.Session{},
		messages: map[string]map[string][]models.Message{},
	}
}

func (m *MemoryStore) agentSessions(agentID string) map[string]*models.Session {
	s, ok := m.sessions[agentID]
	if !ok {
		s = map[string]*models.Session{}
		m.sessions[agentID] = s
	}
	return s
}

func (m *MemoryStore) agentMessages(agentID string) map[string][]models.Message {
	s, ok := m.messages[agentID]
	if !ok {
		s = map[string][]models.Message{}
		m.messages[agentID] = s
	}
	return s
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, agentID, peerID, channel string, typ models.SessionType) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := m.agentSessions(agentID)
	key := models.SessionKey(peerID, channel, typ)
	if sess, ok := sessions[key]; ok {
		return cloneSession(sess), nil
	}
	now := time.Now().UTC()
	sess := &models.Session{
		AgentID:      agentID,
		Key:          key,
		Type:         typ,
		Channel:      channel,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	sessions[key] = sess
	return cloneSession(sess), nil
}

func (m *MemoryStore) Get(ctx context.Context, agentID, key string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[agentID][key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (m *MemoryStore) List(ctx context.Context, agentID string) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*models.Session, 0, len(m.sessions[agentID]))
	for _, sess := range m.sessions[agentID] {
		list = append(list, cloneSession(sess))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastActiveAt.After(list[j].LastActiveAt)
	})
	return list, nil
}

func (m *MemoryStore) Delete(ctx context.Context, agentID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[agentID][key]; !ok {
		return ErrNotFound
	}
	delete(m.sessions[agentID], key)
	delete(m.messages[agentID], key)
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, agentID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[agentID][key]
	if !ok {
		return ErrNotFound
	}
	delete(m.messages[agentID], key)
	sess.MessageCount = 0
	sess.LastActiveAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Append(ctx context.Context, agentID, key string, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[agentID][key]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msgs := m.agentMessages(agentID)
	msgs[key] = append(msgs[key], *msg)
	sess.MessageCount++
	sess.LastActiveAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) History(ctx context.Context, agentID, key string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[agentID][key]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) ReplaceHistory(ctx context.Context, agentID, key string, msgs []models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[agentID][key]
	if !ok {
		return ErrNotFound
	}
	copied := make([]models.Message, len(msgs))
	copy(copied, msgs)
	m.agentMessages(agentID)[key] = copied
	sess.MessageCount = len(copied)
	sess.LastActiveAt = time.Now().UTC()
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*FileStore)(nil)
