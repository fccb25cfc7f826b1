package agent

import "strings"

// thinkingTriggers maps content keywords to reasoning budgets. Checked in
// order; first hit wins.
var thinkingTriggers = []struct {
	level    ThinkingLevel
	keywords []string
}{
	{ThinkingUltra, []string{"think very hard", "ultrathink", "extremely carefully"}},
	{ThinkingHigh, []string{"think hard", "think carefully", "step by step", "prove", "debug this"}},
	{ThinkingMedium, []string{"analyze", "compare", "design", "plan out", "trade-off", "tradeoff"}},
	{ThinkingLow, []string{"explain", "why", "how does", "summarize"}},
	{ThinkingNone, []string{"hi", "hello", "thanks", "thank you", "ok", "okay"}},
}

// InferThinkingLevel maps a user message to a thinking level. Unmatched
// messages get the minimal budget.
func InferThinkingLevel(message string) ThinkingLevel {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, trigger := range thinkingTriggers {
		for _, kw := range trigger.keywords {
			if trigger.level == ThinkingNone {
				// Greeting keywords must match the whole message, not a
				// substring of a longer request.
				if lower == kw {
					return ThinkingNone
				}
				continue
			}
			if strings.Contains(lower, kw) {
				return trigger.level
			}
		}
	}
	return ThinkingMinimal
}
