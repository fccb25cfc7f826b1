package sessions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return store, dir
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	a, err := store.GetOrCreate(ctx, "agent1", "peer1", "http", models.SessionMain)
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.GetOrCreate(ctx, "agent1", "peer1", "http", models.SessionMain)
	if err != nil {
		t.Fatal(err)
	}
	if a.Key != b.Key || a.CreatedAt != b.CreatedAt {
		t.Errorf("second GetOrCreate returned a different session: %+v vs %+v", a, b)
	}
	if a.Key != "peer1:http:main" {
		t.Errorf("key = %q, want peer1:http:main", a.Key)
	}
}

func TestAppendAndHistory(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "agent1", "peer1", "http", models.SessionMain)
	if err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"one", "two", "three"} {
		msg := &models.Message{Role: models.RoleUser, Content: content}
		if err := store.Append(ctx, "agent1", sess.Key, msg); err != nil {
			t.Fatal(err)
		}
		if msg.ID == "" || msg.Timestamp.IsZero() {
			t.Error("Append did not assign ID/timestamp")
		}
	}

	msgs, err := store.History(ctx, "agent1", sess.Key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "one" || msgs[2].Content != "three" {
		t.Error("history order wrong")
	}

	limited, err := store.History(ctx, "agent1", sess.Key, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].Content != "two" {
		t.Errorf("limited history = %+v, want last 2", limited)
	}

	got, err := store.Get(ctx, "agent1", sess.Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", got.MessageCount)
	}
}

func TestHistorySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	store1, err := NewFileStore(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	sess, _ := store1.GetOrCreate(ctx, "agent1", "peer1", "http", models.SessionMain)
	if err := store1.Append(ctx, "agent1", sess.Key, &models.Message{Role: models.RoleUser, Content: "persisted"}); err != nil {
		t.Fatal(err)
	}

	store2, err := NewFileStore(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := store2.History(ctx, "agent1", sess.Key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "persisted" {
		t.Errorf("history after restart = %+v", msgs)
	}
	sessions, err := store2.List(ctx, "agent1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Errorf("len(sessions) = %d, want 1", len(sessions))
	}
}

func TestHistorySkipsTornLine(t *testing.T) {
	store, dir := newTestFileStore(t)
	ctx := context.Background()

	sess, _ := store.GetOrCreate(ctx, "agent1", "peer1", "http", models.SessionMain)
	if err := store.Append(ctx, "agent1", sess.Key, &models.Message{Role: models.RoleUser, Content: "good"}); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-append.
	path := filepath.Join(dir, "agent1", "peer1_http_main.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"role":"user","content":"torn`)
	f.Close()

	msgs, err := store.History(ctx, "agent1", sess.Key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "good" {
		t.Errorf("history = %+v, want only the intact message", msgs)
	}
}

func TestReplaceHistory(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	sess, _ := store.GetOrCreate(ctx, "agent1", "peer1", "http", models.SessionMain)
	for i := 0; i < 5; i++ {
		store.Append(ctx, "agent1", sess.Key, &models.Message{Role: models.RoleUser, Content: "old"})
	}
	replacement := []models.Message{
		{ID: "sum", Role: models.RoleSystem, Content: "[Context Summary] earlier talk"},
		{ID: "m5", Role: models.RoleUser, Content: "recent"},
	}
	if err := store.ReplaceHistory(ctx, "agent1", sess.Key, replacement); err != nil {
		t.Fatal(err)
	}
	msgs, err := store.History(ctx, "agent1", sess.Key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "sum" {
		t.Errorf("history after replace = %+v", msgs)
	}
	got, _ := store.Get(ctx, "agent1", sess.Key)
	if got.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", got.MessageCount)
	}
}

func TestDelete(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	sess, _ := store.GetOrCreate(ctx, "agent1", "peer1", "http", models.SessionMain)
	store.Append(ctx, "agent1", sess.Key, &models.Message{Role: models.RoleUser, Content: "x"})
	if err := store.Delete(ctx, "agent1", sess.Key); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "agent1", sess.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	msgs, err := store.History(ctx, "agent1", sess.Key, 0)
	if err != nil || len(msgs) != 0 {
		t.Errorf("history after delete = %v, %v", msgs, err)
	}
	if err := store.Delete(ctx, "agent1", sess.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestAppendUnknownSession(t *testing.T) {
	store, _ := newTestFileStore(t)
	err := store.Append(context.Background(), "agent1", "nope", &models.Message{Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestClearPreservesSessionRecord(t *testing.T) {
	store, _ := newTestFileStore(t)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "agent1", "peer1", "http", models.SessionMain)
	if err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"one", "two", "three"} {
		if err := store.Append(ctx, "agent1", sess.Key, &models.Message{Role: models.RoleUser, Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Clear(ctx, "agent1", sess.Key); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	msgs, err := store.History(ctx, "agent1", sess.Key, 0)
	if err != nil || len(msgs) != 0 {
		t.Errorf("history after clear = %v, %v", msgs, err)
	}
	got, err := store.Get(ctx, "agent1", sess.Key)
	if err != nil {
		t.Fatalf("Get after clear: %v", err)
	}
	if got.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0", got.MessageCount)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Errorf("CreatedAt changed: %v vs %v", got.CreatedAt, sess.CreatedAt)
	}

	// The cleared session accepts new messages.
	if err := store.Append(ctx, "agent1", sess.Key, &models.Message{Role: models.RoleUser, Content: "fresh"}); err != nil {
		t.Fatal(err)
	}
	msgs, _ = store.History(ctx, "agent1", sess.Key, 0)
	if len(msgs) != 1 || msgs[0].Content != "fresh" {
		t.Errorf("history after re-append = %v", msgs)
	}

	if err := store.Clear(ctx, "agent1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("clear unknown session = %v, want ErrNotFound", err)
	}
}
