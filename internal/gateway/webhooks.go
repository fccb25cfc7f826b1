package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/longhaul-ai/longhaul/internal/backoff"
	"github.com/longhaul-ai/longhaul/internal/marathon"
)

// ErrWebhookNotFound is returned for operations on an unknown subscriber.
var ErrWebhookNotFound = errors.New("webhook not found")

// webhookDeliveryTimeout bounds one delivery attempt.
const webhookDeliveryTimeout = 10 * time.Second

// webhookMaxAttempts bounds delivery retries per event.
const webhookMaxAttempts = 3

// Webhook is one registered event subscriber. Events is a list of
// dot-prefixed patterns; "*" matches everything.
type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the subscriber wants the named event.
func (w *Webhook) Matches(event string) bool {
	for _, pattern := range w.Events {
		if pattern == "*" || strings.HasPrefix(event, pattern) {
			return true
		}
	}
	return false
}

type webhookFile struct {
	Webhooks []*Webhook `json:"webhooks"`
}

// WebhookStore persists subscribers to api/webhooks.json and delivers
// events to them. It implements marathon.EventSink; delivery is
// asynchronous with a per-call timeout and a small bounded retry.
type WebhookStore struct {
	path   string
	client *http.Client
	logger *slog.Logger

	mu       sync.RWMutex
	webhooks []*Webhook
}

// NewWebhookStore loads existing subscribers from path, creating the file's
// directory when absent.
func NewWebhookStore(path string, logger *slog.Logger) (*WebhookStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create webhook dir: %w", err)
	}
	s := &WebhookStore{
		path:   path,
		client: &http.Client{Timeout: webhookDeliveryTimeout},
		logger: logger,
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read webhooks: %w", err)
	}
	var file webhookFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode webhooks: %w", err)
	}
	s.webhooks = file.Webhooks
	return s, nil
}

// Register adds a subscriber.
func (s *WebhookStore) Register(rawURL string, events []string) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", rawURL)
	}
	if len(events) == 0 {
		events = []string{"*"}
	}
	hook := &Webhook{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Events:    events,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks = append(s.webhooks, hook)
	return hook, s.flushLocked()
}

// List returns all subscribers.
func (s *WebhookStore) List() []*Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Webhook(nil), s.webhooks...)
}

// Remove deletes a subscriber by id.
func (s *WebhookStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, hook := range s.webhooks {
		if hook.ID == id {
			s.webhooks = append(s.webhooks[:i], s.webhooks[i+1:]...)
			return s.flushLocked()
		}
	}
	return ErrWebhookNotFound
}

func (s *WebhookStore) flushLocked() error {
	data, err := json.MarshalIndent(webhookFile{Webhooks: s.webhooks}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal webhooks: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*")
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
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Emit delivers the event to every matching subscriber. Fire-and-forget:
// the caller never blocks on delivery and failures only log.
func (s *WebhookStore) Emit(_ context.Context, ev marathon.Event) {
	s.mu.RLock()
	var targets []*Webhook
	for _, hook := range s.webhooks {
		if hook.Matches(ev.Name) {
			targets = append(targets, hook)
		}
	}
	s.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, hook := range targets {
		go s.deliver(hook, ev.Name, body)
	}
}

// deliver posts the event with a small bounded retry on failure.
func (s *WebhookStore) deliver(hook *Webhook, event string, body []byte) {
	policy := backoff.WebhookPolicy()
	var lastErr error
	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), webhookDeliveryTimeout)
		lastErr = s.post(ctx, hook.URL, event, body)
		cancel()
		if lastErr == nil {
			return
		}
		if attempt < webhookMaxAttempts {
			_ = backoff.Sleep(context.Background(), policy, attempt)
		}
	}
	if s.logger != nil {
		s.logger.Warn("webhook delivery failed",
			"webhook_id", hook.ID, "event", event, "attempts", webhookMaxAttempts, "error", lastErr)
	}
}

func (s *WebhookStore) post(ctx context.Context, url, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Longhaul-Event", event)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

var _ marathon.EventSink = (*WebhookStore)(nil)
