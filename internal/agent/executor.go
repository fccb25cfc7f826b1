package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/longhaul-ai/longhaul/internal/observability"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// ErrToolTimeout marks a tool execution that exceeded its deadline.
var ErrToolTimeout = errors.New("tool timeout")

// DefaultToolTimeout bounds a tool execution when the tool declares none.
const DefaultToolTimeout = 2 * time.Minute

// maxToolArgsSize rejects oversized argument payloads before validation.
const maxToolArgsSize = 10 << 20

// ApprovalFunc gates destructive/external tools. It blocks until the action
// is approved (nil error) or rejected/expired (error with the reason). Nil
// means no gating.
type ApprovalFunc func(ctx context.Context, tool *Tool, args json.RawMessage) error

// Executor validates and runs tool calls, converting every failure mode
// into a structured ToolResult. It never returns a Go error to the loop;
// the model observes failures and reacts.
type Executor struct {
	registry       *Registry
	defaultTimeout time.Duration
	approve        ApprovalFunc
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// NewExecutor builds an executor over the registry. approve and metrics may
// be nil.
func NewExecutor(registry *Registry, defaultTimeout time.Duration, approve ApprovalFunc, metrics *observability.Metrics, logger *slog.Logger) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultToolTimeout
	}
	return &Executor{
		registry:       registry,
		defaultTimeout: defaultTimeout,
		approve:        approve,
		metrics:        metrics,
		logger:         logger,
	}
}

func failure(format string, args ...any) models.ToolResult {
	return models.ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Execute runs one tool call end to end: lookup, argument validation,
// approval gate, timed invocation, panic capture.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, chat *ChatContext) models.ToolResult {
	start := time.Now()
	result := e.execute(ctx, call, chat)

	status := "success"
	switch {
	case result.Success:
	case result.Error == ErrToolTimeout.Error():
		status = "timeout"
	default:
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	}
	if e.logger != nil {
		e.logger.Debug("tool executed",
			"tool", call.Name, "success", result.Success, "duration", time.Since(start))
	}
	return result
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall, chat *ChatContext) models.ToolResult {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return failure("tool not found: %s", call.Name)
	}
	if len(call.Args) > maxToolArgsSize {
		return failure("invalid arguments")
	}
	if tool.compiled != nil {
		var decoded any
		if err := json.Unmarshal(normalizeArgs(call.Args), &decoded); err != nil {
			return failure("invalid arguments")
		}
		if err := tool.compiled.Validate(decoded); err != nil {
			return failure("invalid arguments")
		}
	}

	gated := tool.SideEffect == SideEffectDestructive || tool.SideEffect == SideEffectExternal
	if gated && chat != nil && chat.RequireApproval && e.approve != nil {
		if err := e.approve(ctx, tool, call.Args); err != nil {
			return failure("approval denied: %s", err)
		}
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := tool.Run(runCtx, call.Args, chat)
		done <- outcome{output: out, err: err}
	}()

	select {
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return models.ToolResult{Success: false, Error: ErrToolTimeout.Error()}
		}
		return failure("canceled: %s", runCtx.Err())
	case res := <-done:
		if res.err != nil {
			return failure("%s", res.err)
		}
		return models.ToolResult{Success: true, Output: res.output}
	}
}

// normalizeArgs treats an absent body as an empty object so zero-argument
// tools validate cleanly.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	return args
}
