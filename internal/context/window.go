// Package context packs conversation history into the model window and
// compacts it when it grows past the configured threshold.
package context

import (
	"github.com/longhaul-ai/longhaul/internal/budget"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// WindowResult is the outcome of packing history for one LLM call.
type WindowResult struct {
	// Messages is the selected suffix of history, oldest first.
	Messages []models.Message
	// EstimatedTokens is the estimate for the selected messages.
	EstimatedTokens int64
	// Dropped is how many older messages did not fit.
	Dropped int
}

// BuildWindow selects the newest suffix of history that fits within
// maxContextTokens minus reservedOutput and the system prompt's estimated
// size. The newest message is always included even when it alone exceeds
// the budget; sending an oversized request and surfacing the provider
// error beats silently dropping the user's input.
func BuildWindow(history []models.Message, maxContextTokens, reservedOutput int, systemTokens int64) WindowResult {
	if len(history) == 0 {
		return WindowResult{}
	}

	inputBudget := int64(maxContextTokens-reservedOutput) - systemTokens

	start := len(history) - 1
	total := budget.EstimateMessage(history[start])
	for start > 0 {
		next := budget.EstimateMessage(history[start-1])
		if total+next > inputBudget {
			break
		}
		total += next
		start--
	}

	return WindowResult{
		Messages:        history[start:],
		EstimatedTokens: total,
		Dropped:         start,
	}
}
