package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/longhaul-ai/longhaul/internal/budget"
	"github.com/longhaul-ai/longhaul/internal/config"
	"github.com/longhaul-ai/longhaul/internal/sessions"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// scriptedProvider returns canned completions in order, then repeats the
// last one.
type scriptedProvider struct {
	completions []*Completion
	errs        []error
	calls       int
	lastReq     *CompletionRequest
}

func (p *scriptedProvider) Complete(_ context.Context, req *CompletionRequest) (*Completion, error) {
	p.lastReq = req
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.completions) {
		i = len(p.completions) - 1
	}
	return p.completions[i], nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func newTestAgent(t *testing.T, provider LLMProvider, b models.Budget) (*Agent, sessions.Store) {
	t.Helper()
	ledger, err := budget.NewLedger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	accountant := budget.NewAccountant(b, ledger, map[string]config.ModelPricing{}, nil, nil)

	registry := NewRegistry()
	err = registry.Register(&Tool{
		Name:        "lookup",
		Description: "look a thing up",
		SideEffect:  SideEffectReadOnly,
		Run: func(_ context.Context, _ json.RawMessage, _ *ChatContext) (string, error) {
			return "42", nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := sessions.NewMemoryStore()
	executor := NewExecutor(registry, 0, nil, nil, nil)
	a := New(Config{
		AgentID:      "agent-a",
		Model:        "test-model",
		SystemPrompt: "You are a helpful assistant.",
	}, provider, registry, executor, store, accountant, nil, nil, nil)
	return a, store
}

func TestChatSimpleTurn(t *testing.T) {
	provider := &scriptedProvider{completions: []*Completion{
		{Text: "hello there", InputTokens: 10, OutputTokens: 5},
	}}
	a, store := newTestAgent(t, provider, models.Budget{})

	resp, err := a.Chat(context.Background(), ChatRequest{
		Message: "hello", PeerID: "peer1", Channel: "http", SessionType: models.SessionMain,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "hello there" {
		t.Errorf("Text = %q, want %q", resp.Text, "hello there")
	}
	if resp.SessionKey != "peer1:http:main" {
		t.Errorf("SessionKey = %q", resp.SessionKey)
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}

	history, err := store.History(context.Background(), "agent-a", resp.SessionKey, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleModel {
		t.Errorf("history roles = %s, %s", history[0].Role, history[1].Role)
	}
}

func TestChatToolLoop(t *testing.T) {
	provider := &scriptedProvider{completions: []*Completion{
		{ToolCalls: []models.ToolCall{{Name: "lookup", Args: []byte(`{}`)}}},
		{Text: "done"},
	}}
	a, store := newTestAgent(t, provider, models.Budget{})

	resp, err := a.Chat(context.Background(), ChatRequest{
		Message: "go", PeerID: "p", Channel: "http", SessionType: models.SessionMain,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "done" {
		t.Errorf("Text = %q, want %q", resp.Text, "done")
	}
	if len(resp.ToolResults) != 1 || !resp.ToolResults[0].Success || resp.ToolResults[0].Output != "42" {
		t.Errorf("ToolResults = %+v", resp.ToolResults)
	}

	// Transcript shape: user, model(partial), user(tool results), model(final).
	history, err := store.History(context.Background(), "agent-a", resp.SessionKey, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	wantRoles := []models.Role{models.RoleUser, models.RoleModel, models.RoleUser, models.RoleModel}
	for i, want := range wantRoles {
		if history[i].Role != want {
			t.Errorf("history[%d].Role = %s, want %s", i, history[i].Role, want)
		}
	}
	if !strings.HasPrefix(history[2].Content, "[TOOL EXECUTION COMPLETE]") {
		t.Errorf("tool feedback = %q", history[2].Content)
	}
	if !strings.Contains(history[2].Content, "42") {
		t.Errorf("tool feedback missing output: %q", history[2].Content)
	}
	if history[3].Content != "done" {
		t.Errorf("final message = %q", history[3].Content)
	}
}

func TestChatCancellationPhrase(t *testing.T) {
	provider := &scriptedProvider{completions: []*Completion{{Text: "should not run"}}}
	a, _ := newTestAgent(t, provider, models.Budget{})

	resp, err := a.Chat(context.Background(), ChatRequest{
		Message: "  STOP ", PeerID: "p", Channel: "http", SessionType: models.SessionMain,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times for a cancellation phrase", provider.calls)
	}
	if resp.Text == "" {
		t.Error("expected an acknowledgement")
	}
}

func TestChatToolLoopBound(t *testing.T) {
	provider := &scriptedProvider{completions: []*Completion{
		{ToolCalls: []models.ToolCall{{Name: "lookup", Args: []byte(`{}`)}}},
	}}
	a, _ := newTestAgent(t, provider, models.Budget{})
	a.cfg.MaxToolLoops = 3

	resp, err := a.Chat(context.Background(), ChatRequest{
		Message: "loop forever", PeerID: "p", Channel: "http", SessionType: models.SessionMain,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls)
	}
	if !strings.Contains(resp.Text, "Reached maximum tool execution steps") {
		t.Errorf("Text = %q, want loop bound notice", resp.Text)
	}
}

func TestChatBudgetExceeded(t *testing.T) {
	provider := &scriptedProvider{completions: []*Completion{{Text: "unreachable"}}}
	a, _ := newTestAgent(t, provider, models.Budget{
		MaxTokensPerRequest: 1,
		EnforceHardLimits:   true,
	})

	_, err := a.Chat(context.Background(), ChatRequest{
		Message: "this message is comfortably over one token", PeerID: "p", Channel: "http", SessionType: models.SessionMain,
	})
	if !errors.Is(err, budget.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called despite budget denial")
	}
}

func TestChatRetriesTransientLLMFailure(t *testing.T) {
	provider := &scriptedProvider{
		errs:        []error{errors.New("503 unavailable"), nil},
		completions: []*Completion{{Text: "ok"}, {Text: "recovered"}},
	}
	a, _ := newTestAgent(t, provider, models.Budget{})

	resp, err := a.Chat(context.Background(), ChatRequest{
		Message: "hello", PeerID: "p", Channel: "http", SessionType: models.SessionMain,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
	if resp.Text != "recovered" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestChatStreamEvents(t *testing.T) {
	provider := &scriptedProvider{completions: []*Completion{
		{ToolCalls: []models.ToolCall{{Name: "lookup", Args: []byte(`{}`)}}},
		{Text: "done", Thinking: "considered it"},
	}}
	a, _ := newTestAgent(t, provider, models.Budget{})

	var types []models.StreamEventType
	for ev := range a.ChatStream(context.Background(), ChatRequest{
		Message: "go", PeerID: "p", Channel: "http", SessionType: models.SessionMain,
	}) {
		types = append(types, ev.Type)
	}
	want := []models.StreamEventType{
		models.EventToolCall,
		models.EventToolResult,
		models.EventThinking,
		models.EventText,
		models.EventDone,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

// blockingProvider fills the stream buffer with one tool-heavy completion,
// then parks until the context is cancelled.
type blockingProvider struct {
	first   *Completion
	entered chan struct{}
	calls   int
}

func (p *blockingProvider) Complete(ctx context.Context, _ *CompletionRequest) (*Completion, error) {
	p.calls++
	if p.calls == 1 {
		return p.first, nil
	}
	if p.calls == 2 {
		close(p.entered)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) Name() string { return "blocking" }

func TestChatStreamClosesAfterClientCancel(t *testing.T) {
	// Eight tool calls produce sixteen events, filling the channel buffer
	// while nobody reads.
	calls := make([]models.ToolCall, 8)
	for i := range calls {
		calls[i] = models.ToolCall{Name: "lookup", Args: []byte(`{}`)}
	}
	provider := &blockingProvider{
		first:   &Completion{ToolCalls: calls},
		entered: make(chan struct{}),
	}
	a, _ := newTestAgent(t, provider, models.Budget{})

	ctx, cancel := context.WithCancel(context.Background())
	events := a.ChatStream(ctx, ChatRequest{
		Message: "go", PeerID: "p", Channel: "http", SessionType: models.SessionMain,
	})

	select {
	case <-provider.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("second completion never started")
	}
	cancel()

	// The producer must finish and close the channel even though the
	// buffer was full at cancellation time.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream never closed after cancellation")
		}
	}
}

func TestPlanModeHidesMutatingTools(t *testing.T) {
	provider := &scriptedProvider{completions: []*Completion{{Text: "plan ready"}}}
	a, _ := newTestAgent(t, provider, models.Budget{})
	err := a.Registry().Register(&Tool{
		Name:        "delete_everything",
		Description: "dangerous",
		SideEffect:  SideEffectDestructive,
		Run: func(_ context.Context, _ json.RawMessage, _ *ChatContext) (string, error) {
			return "", nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	a.SetMode(ModePlan)
	if _, err := a.Chat(context.Background(), ChatRequest{
		Message: "plan a migration", PeerID: "p", Channel: "http", SessionType: models.SessionMain,
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	for _, tool := range provider.lastReq.Tools {
		if tool.SideEffect != SideEffectReadOnly {
			t.Errorf("plan mode exposed tool %q with side effect %s", tool.Name, tool.SideEffect)
		}
	}
	if len(provider.lastReq.Tools) != 1 {
		t.Errorf("plan mode tool count = %d, want 1", len(provider.lastReq.Tools))
	}
}
