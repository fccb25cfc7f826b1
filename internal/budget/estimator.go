// Package budget estimates token usage, enforces spend limits, and keeps a
// durable per-day usage ledger.
package budget

import (
	"github.com/longhaul-ai/longhaul/pkg/models"
)

const (
	// charsPerToken is the character-count heuristic used before a real
	// provider count is available.
	charsPerToken = 4

	// messageOverheadTokens covers per-message role and framing markers.
	messageOverheadTokens = 4

	// maxEstimatedOutputTokens caps the predicted completion size.
	maxEstimatedOutputTokens = 8192
)

// EstimateText returns the estimated token count for a string,
// ceil(len/4). Empty text is zero tokens.
func EstimateText(text string) int64 {
	if text == "" {
		return 0
	}
	return int64((len(text) + charsPerToken - 1) / charsPerToken)
}

// EstimateMessage returns the estimated token count for one message,
// including framing overhead.
func EstimateMessage(msg models.Message) int64 {
	return EstimateText(msg.Content) + messageOverheadTokens
}

// EstimateMessages sums estimates over a conversation slice.
func EstimateMessages(msgs []models.Message) int64 {
	var total int64
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}

// EstimateOutput predicts completion size from input size:
// min(ceil(input/4), 8192).
func EstimateOutput(inputTokens int64) int64 {
	est := (inputTokens + 3) / 4 // ceil(input * 0.25)
	if est > maxEstimatedOutputTokens {
		return maxEstimatedOutputTokens
	}
	return est
}
