package agent

import "regexp"

// secretPatterns match credential shapes that must never reach a channel.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`),                    // OpenAI-style keys
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),                // Anthropic keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                         // AWS access key IDs
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),               // GitHub tokens
	regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`),             // Slack tokens
	regexp.MustCompile(`lh\.[0-9a-f]{12}\.[0-9a-f]{40,}`),          // our own api keys
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.=]{20,}`),       // bearer tokens
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
}

// SanitizeOutput redacts credential-shaped substrings from model output
// before it is persisted or delivered.
func SanitizeOutput(text string) string {
	for _, pattern := range secretPatterns {
		text = pattern.ReplaceAllString(text, "[REDACTED]")
	}
	return text
}
