package context

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/longhaul-ai/longhaul/internal/budget"
	"github.com/longhaul-ai/longhaul/internal/observability"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// SummaryPrefix marks a compaction summary message in history.
const SummaryPrefix = "[Context Summary]"

// minKeepRecent is the floor on verbatim messages kept after compaction.
const minKeepRecent = 4

// Summarizer produces a prose summary of a message slice. The agent's LLM
// provider satisfies this.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []models.Message) (string, error)
}

// CompactorConfig tunes when and how compaction runs.
type CompactorConfig struct {
	MaxContextTokens   int
	CompactionRatio    float64
	MinMessages        int
	KeepRecentFraction float64
}

// Compactor rewrites long histories as a summary message plus a verbatim
// recent tail.
type Compactor struct {
	cfg        CompactorConfig
	summarizer Summarizer
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewCompactor builds a compactor. metrics may be nil in tests.
func NewCompactor(cfg CompactorConfig, summarizer Summarizer, metrics *observability.Metrics, logger *slog.Logger) *Compactor {
	return &Compactor{cfg: cfg, summarizer: summarizer, metrics: metrics, logger: logger}
}

// ShouldCompact reports whether history has crossed the compaction
// threshold: estimated usage, system prompt included, at or above the
// ratio of the window, with at least the minimum message count.
func (c *Compactor) ShouldCompact(history []models.Message, systemTokens int64) bool {
	if len(history) < c.cfg.MinMessages {
		return false
	}
	est := systemTokens + budget.EstimateMessages(history)
	return float64(est) >= float64(c.cfg.MaxContextTokens)*c.cfg.CompactionRatio
}

// keepCount returns how many newest messages survive verbatim:
// max(minKeepRecent, ceil(fraction*n)), never more than n.
func (c *Compactor) keepCount(n int) int {
	keep := int(math.Ceil(c.cfg.KeepRecentFraction * float64(n)))
	if keep < minKeepRecent {
		keep = minKeepRecent
	}
	if keep > n {
		keep = n
	}
	return keep
}

// Compact summarizes the older portion of history and returns the new
// history: one summary message followed by the kept tail, plus whether
// compaction happened. If summarization fails the history is returned
// untouched; the caller proceeds with the full log.
func (c *Compactor) Compact(ctx context.Context, history []models.Message) ([]models.Message, bool) {
	keep := c.keepCount(len(history))
	if keep >= len(history) {
		return history, false
	}
	older := history[:len(history)-keep]
	tail := history[len(history)-keep:]

	summary, err := c.summarizer.Summarize(ctx, older)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("compaction summarization failed, keeping full history",
				"messages", len(history), "error", err)
		}
		c.count("failed")
		return history, false
	}

	summaryMsg := models.Message{
		Role:    models.RoleModel,
		Content: SummaryPrefix + " " + strings.TrimSpace(summary),
	}
	c.count("summarized")
	if c.logger != nil {
		c.logger.Info("context compacted",
			"summarized_messages", len(older), "kept_messages", keep)
	}

	result := make([]models.Message, 0, keep+1)
	result = append(result, summaryMsg)
	result = append(result, tail...)
	return result, true
}

func (c *Compactor) count(outcome string) {
	if c.metrics != nil {
		c.metrics.CompactionCounter.WithLabelValues(outcome).Inc()
	}
}

// FormatForSummary renders messages as role-tagged prose for the
// summarization prompt.
func FormatForSummary(msgs []models.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s]: %s\n\n", m.Role, m.Content)
	}
	return sb.String()
}
