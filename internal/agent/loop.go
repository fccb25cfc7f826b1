package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/longhaul-ai/longhaul/internal/backoff"
	"github.com/longhaul-ai/longhaul/internal/budget"
	ctxmgr "github.com/longhaul-ai/longhaul/internal/context"
	"github.com/longhaul-ai/longhaul/internal/observability"
	"github.com/longhaul-ai/longhaul/internal/sessions"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// Mode selects which tools the model can see.
type Mode string

const (
	// ModeExecute exposes the full tool set.
	ModeExecute Mode = "execute"
	// ModePlan restricts the model to read-only tools.
	ModePlan Mode = "plan"
)

// llmMaxAttempts bounds retries of one LLM call on transient failures.
const llmMaxAttempts = 3

// maxToolLoopsNotice is appended when the loop bound is hit.
const maxToolLoopsNotice = "Reached maximum tool execution steps."

// cancelAck is returned for cancellation phrases without an LLM call.
const cancelAck = "Okay, stopping here. Let me know when you want to continue."

var cancelPhrases = map[string]bool{
	"cancel":     true,
	"stop":       true,
	"abort":      true,
	"never mind": true,
	"nevermind":  true,
}

// Config tunes one Agent.
type Config struct {
	AgentID      string
	Model        string
	SystemPrompt string
	// MaxToolLoops bounds generate/execute iterations per turn.
	MaxToolLoops int
	// HistoryLimit bounds how much history one turn loads.
	HistoryLimit int
	// MaxOutputTokens caps each completion.
	MaxOutputTokens int
	// MaxContextTokens bounds the window handed to the model.
	MaxContextTokens int
	// ReservedOutputTokens is headroom held back from the window.
	ReservedOutputTokens int
	// LLMTimeout bounds one provider call.
	LLMTimeout time.Duration
	// ThinkingOverride, when set, replaces the per-message heuristic.
	ThinkingOverride ThinkingLevel
}

// ChatRequest is one inbound user message.
type ChatRequest struct {
	Message     string
	PeerID      string
	Channel     string
	SessionType models.SessionType
	// ThinkingLevel overrides the inferred level for this turn only.
	ThinkingLevel ThinkingLevel
	// RequireApproval gates destructive/external tools through the
	// approval hook.
	RequireApproval bool
}

// ChatResponse is the completed turn.
type ChatResponse struct {
	Text        string
	Thinking    string
	ToolResults []models.ToolResult
	SessionKey  string
	Compacted   bool
}

// Agent drives the turn loop. One Agent serves many sessions concurrently;
// per-session write ordering is the store's concern.
type Agent struct {
	cfg        Config
	provider   LLMProvider
	registry   *Registry
	executor   *Executor
	store      sessions.Store
	accountant *budget.Accountant
	compactor  *ctxmgr.Compactor
	metrics    *observability.Metrics
	logger     *slog.Logger

	modeMu sync.RWMutex
	mode   Mode
}

// New assembles an agent. metrics may be nil.
func New(cfg Config, provider LLMProvider, registry *Registry, executor *Executor, store sessions.Store, accountant *budget.Accountant, compactor *ctxmgr.Compactor, metrics *observability.Metrics, logger *slog.Logger) *Agent {
	if cfg.MaxToolLoops <= 0 {
		cfg.MaxToolLoops = 200
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 40
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = time.Minute
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 200_000
	}
	if cfg.ReservedOutputTokens <= 0 {
		cfg.ReservedOutputTokens = 2000
	}
	return &Agent{
		cfg:        cfg,
		provider:   provider,
		registry:   registry,
		executor:   executor,
		store:      store,
		accountant: accountant,
		compactor:  compactor,
		metrics:    metrics,
		logger:     logger,
		mode:       ModeExecute,
	}
}

// Mode returns the current tool-visibility mode.
func (a *Agent) Mode() Mode {
	a.modeMu.RLock()
	defer a.modeMu.RUnlock()
	return a.mode
}

// SetMode switches between execute and plan. The switch is atomic between
// turns; a running loop keeps the tool set it started with.
func (a *Agent) SetMode(mode Mode) {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	a.mode = mode
}

// Registry exposes the tool registry for inventory endpoints.
func (a *Agent) Registry() *Registry { return a.registry }

// Chat runs one synchronous turn.
func (a *Agent) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp := &ChatResponse{}
	err := a.run(ctx, req, func(ev models.StreamEvent) {
		switch ev.Type {
		case models.EventText:
			resp.Text += ev.Text
		case models.EventThinking:
			resp.Thinking += ev.Thinking
		case models.EventToolResult:
			if ev.ToolResult != nil {
				resp.ToolResults = append(resp.ToolResults, *ev.ToolResult)
			}
		case models.EventContextCompacted:
			resp.Compacted = true
		}
	}, &resp.SessionKey)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ChatStream runs one turn, emitting events as they occur. The channel is
// closed after a terminal done or error event.
func (a *Agent) ChatStream(ctx context.Context, req ChatRequest) <-chan models.StreamEvent {
	events := make(chan models.StreamEvent, 16)
	go func() {
		defer close(events)
		var key string
		err := a.run(ctx, req, func(ev models.StreamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}, &key)
		final := models.StreamEvent{Type: models.EventDone}
		if err != nil {
			final = models.StreamEvent{Type: models.EventError, Err: err.Error()}
		}
		// A gone client may never drain the buffer; do not block on it.
		select {
		case events <- final:
		case <-ctx.Done():
		}
	}()
	return events
}

// run is the shared turn algorithm.
func (a *Agent) run(ctx context.Context, req ChatRequest, emit func(models.StreamEvent), sessionKey *string) error {
	start := time.Now()
	status := "success"
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordTurn(string(req.SessionType), status, time.Since(start).Seconds())
		}
	}()

	sess, err := a.store.GetOrCreate(ctx, a.cfg.AgentID, req.PeerID, req.Channel, req.SessionType)
	if err != nil {
		status = "error"
		return fmt.Errorf("open session: %w", err)
	}
	*sessionKey = sess.Key

	userMsg := &models.Message{
		Role:    models.RoleUser,
		Content: req.Message,
		PeerID:  req.PeerID,
		Channel: req.Channel,
	}
	if err := a.store.Append(ctx, a.cfg.AgentID, sess.Key, userMsg); err != nil {
		status = "error"
		return fmt.Errorf("append user message: %w", err)
	}

	if cancelPhrases[strings.ToLower(strings.TrimSpace(req.Message))] {
		ack := &models.Message{Role: models.RoleModel, Content: cancelAck}
		if err := a.store.Append(ctx, a.cfg.AgentID, sess.Key, ack); err != nil {
			status = "error"
			return fmt.Errorf("append ack: %w", err)
		}
		emit(models.StreamEvent{Type: models.EventText, Text: cancelAck})
		return nil
	}

	history, err := a.store.History(ctx, a.cfg.AgentID, sess.Key, a.cfg.HistoryLimit)
	if err != nil {
		status = "error"
		return fmt.Errorf("load history: %w", err)
	}

	tools := a.registry.List(a.Mode() == ModePlan)
	system := a.systemPrompt(tools, req.SessionType)
	systemTokens := budget.EstimateText(system)

	if a.compactor != nil && a.compactor.ShouldCompact(history, systemTokens) {
		compacted, ok := a.compactor.Compact(ctx, history)
		if ok {
			if err := a.store.ReplaceHistory(ctx, a.cfg.AgentID, sess.Key, compacted); err != nil {
				status = "error"
				return fmt.Errorf("persist compacted history: %w", err)
			}
			history = compacted
			emit(models.StreamEvent{Type: models.EventContextCompacted})
		}
	}

	window := ctxmgr.BuildWindow(history, a.cfg.MaxContextTokens, a.cfg.ReservedOutputTokens, systemTokens)

	if _, err := a.accountant.Check(sess.Key, a.cfg.Model, system, window.Messages, SchemasJSON(tools)); err != nil {
		status = "error"
		return err
	}

	thinking := req.ThinkingLevel
	if thinking == "" {
		thinking = a.cfg.ThinkingOverride
	}
	if thinking == "" {
		thinking = InferThinkingLevel(req.Message)
	}

	chat := &ChatContext{
		AgentID:         a.cfg.AgentID,
		SessionKey:      sess.Key,
		PeerID:          req.PeerID,
		Channel:         req.Channel,
		RequireApproval: req.RequireApproval,
	}

	convo := append([]models.Message(nil), window.Messages...)
	var finalText, finalThinking string
	loopBoundHit := true

	for loop := 0; loop < a.cfg.MaxToolLoops; loop++ {
		if err := ctx.Err(); err != nil {
			status = "error"
			return err
		}

		completion, err := a.complete(ctx, &CompletionRequest{
			Model:         a.cfg.Model,
			System:        system,
			Messages:      convo,
			Tools:         tools,
			MaxTokens:     a.cfg.MaxOutputTokens,
			ThinkingLevel: thinking,
		}, sess.Key)
		if err != nil {
			status = "error"
			return fmt.Errorf("llm call failed: %w", err)
		}

		if completion.Thinking != "" {
			emit(models.StreamEvent{Type: models.EventThinking, Thinking: completion.Thinking})
		}

		if len(completion.ToolCalls) == 0 {
			finalText = completion.Text
			finalThinking = completion.Thinking
			loopBoundHit = false
			break
		}

		// The model asked for tools: persist its partial text, run every
		// call in order, and feed the results back as a synthesized user
		// message.
		partial := &models.Message{Role: models.RoleModel, Content: SanitizeOutput(completion.Text)}
		if err := a.store.Append(ctx, a.cfg.AgentID, sess.Key, partial); err != nil {
			status = "error"
			return fmt.Errorf("append model message: %w", err)
		}
		convo = append(convo, *partial)

		var results strings.Builder
		results.WriteString("[TOOL EXECUTION COMPLETE]\n")
		for _, call := range completion.ToolCalls {
			call := call
			emit(models.StreamEvent{Type: models.EventToolCall, ToolCall: &call})
			result := a.executor.Execute(ctx, call, chat)
			emit(models.StreamEvent{Type: models.EventToolResult, ToolResult: &result})
			if result.Success {
				fmt.Fprintf(&results, "Tool %s succeeded:\n%s\n", call.Name, result.Output)
			} else {
				fmt.Fprintf(&results, "Tool %s failed: %s\n", call.Name, result.Error)
			}
		}
		results.WriteString("Call another tool if needed, or provide the final answer.")

		feedback := &models.Message{Role: models.RoleUser, Content: results.String()}
		if err := a.store.Append(ctx, a.cfg.AgentID, sess.Key, feedback); err != nil {
			status = "error"
			return fmt.Errorf("append tool results: %w", err)
		}
		convo = append(convo, *feedback)
	}

	if loopBoundHit {
		if finalText != "" {
			finalText += "\n\n"
		}
		finalText += maxToolLoopsNotice
		if a.logger != nil {
			a.logger.Warn("tool loop bound reached", "session", sess.Key, "max_loops", a.cfg.MaxToolLoops)
		}
	}

	finalText = SanitizeOutput(finalText)
	finalMsg := &models.Message{Role: models.RoleModel, Content: finalText, Thinking: finalThinking}
	if err := a.store.Append(ctx, a.cfg.AgentID, sess.Key, finalMsg); err != nil {
		status = "error"
		return fmt.Errorf("append final message: %w", err)
	}
	emit(models.StreamEvent{Type: models.EventText, Text: finalText})
	return nil
}

// complete calls the provider with a per-call timeout and bounded retries
// on transient failures, recording actual usage on success.
func (a *Agent) complete(ctx context.Context, req *CompletionRequest, sessionKey string) (*Completion, error) {
	start := time.Now()
	completion, err := backoff.Retry(ctx, backoff.LLMPolicy(), llmMaxAttempts, func(ctx context.Context) (*Completion, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
		defer cancel()
		return a.provider.Complete(callCtx, req)
	})
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordLLMRequest(req.Model, "error", time.Since(start).Seconds(), 0, 0)
		}
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.RecordLLMRequest(req.Model, "success", time.Since(start).Seconds(), completion.InputTokens, completion.OutputTokens)
	}
	if err := a.accountant.Record(sessionKey, req.Model, completion.InputTokens, completion.OutputTokens); err != nil && a.logger != nil {
		a.logger.Warn("usage record failed", "session", sessionKey, "error", err)
	}
	return completion, nil
}

func (a *Agent) systemPrompt(tools []*Tool, typ models.SessionType) string {
	var sb strings.Builder
	sb.WriteString(a.cfg.SystemPrompt)
	if len(tools) > 0 {
		sb.WriteString("\n\nAvailable tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		}
	}
	if typ == models.SessionSub || typ == models.SessionEphemeral {
		sb.WriteString("\nThis is an isolated working session. Stay on the assigned task; do not reference other conversations.")
	}
	return sb.String()
}
