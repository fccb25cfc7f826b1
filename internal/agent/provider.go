package agent

import (
	"context"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

// ThinkingLevel selects how much reasoning budget a completion gets.
type ThinkingLevel string

const (
	ThinkingNone    ThinkingLevel = "none"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingUltra   ThinkingLevel = "ultra"
)

// CompletionRequest carries one LLM call.
type CompletionRequest struct {
	Model    string
	System   string
	Messages []models.Message
	// Tools lists capabilities visible to the model for this call.
	Tools         []*Tool
	MaxTokens     int
	ThinkingLevel ThinkingLevel
}

// Completion is the provider's response. InputTokens/OutputTokens carry the
// provider-reported usage, which supersedes pre-flight estimates.
type Completion struct {
	Text         string
	Thinking     string
	ToolCalls    []models.ToolCall
	InputTokens  int64
	OutputTokens int64
}

// LLMProvider is the contract to a model backend. Implementations must be
// safe for concurrent use.
type LLMProvider interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
	Name() string
}
