package agent

import (
	"context"
	"errors"
	"strings"

	ctxmgr "github.com/longhaul-ai/longhaul/internal/context"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

const summaryPrompt = `Summarize the conversation below for future reference.
Preserve concrete facts, decisions made, user preferences, and any unfinished
work. Write plain prose, no headings.`

// ProviderSummarizer adapts an LLMProvider to the compactor's Summarizer
// contract. Summaries run with minimal thinking and no tools.
type ProviderSummarizer struct {
	provider  LLMProvider
	model     string
	maxTokens int
}

// NewProviderSummarizer builds a summarizer over the provider.
func NewProviderSummarizer(provider LLMProvider, model string, maxTokens int) *ProviderSummarizer {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &ProviderSummarizer{provider: provider, model: model, maxTokens: maxTokens}
}

// Summarize renders msgs as prose and asks the model for a summary.
func (s *ProviderSummarizer) Summarize(ctx context.Context, msgs []models.Message) (string, error) {
	req := &CompletionRequest{
		Model:  s.model,
		System: summaryPrompt,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: ctxmgr.FormatForSummary(msgs)},
		},
		MaxTokens:     s.maxTokens,
		ThinkingLevel: ThinkingMinimal,
	}
	completion, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(completion.Text)
	if summary == "" {
		return "", errors.New("empty summary")
	}
	return summary, nil
}

var _ ctxmgr.Summarizer = (*ProviderSummarizer)(nil)
