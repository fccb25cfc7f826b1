package marathon

import (
	"context"
	"fmt"
	"strings"

	"github.com/longhaul-ai/longhaul/internal/agent"
	"github.com/longhaul-ai/longhaul/internal/backoff"
	"github.com/longhaul-ai/longhaul/internal/budget"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

type ctxKey int

// marathonIDKey carries the running marathon's id through tool executions
// so the shared approval hook can route requests to the right run.
const marathonIDKey ctxKey = iota

// WithMarathonID tags ctx with the marathon that owns the current work.
func WithMarathonID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, marathonIDKey, id)
}

// MarathonIDFrom extracts the owning marathon id, if any.
func MarathonIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(marathonIDKey).(string)
	return id, ok
}

// MilestoneResult is the outcome of one milestone attempt.
type MilestoneResult struct {
	Output     string
	TokensUsed int64
	CostUsd    float64
}

// Runner executes one milestone prompt to completion. The manager retries
// around it; a Runner performs exactly one attempt.
type Runner interface {
	RunMilestone(ctx context.Context, state *models.MarathonState, milestone *models.Milestone, prompt string) (*MilestoneResult, error)
}

// AgentRunner executes milestones through the turn loop in a dedicated
// ephemeral sub-session per marathon, isolating marathon context from user
// chat.
type AgentRunner struct {
	agent      *agent.Agent
	accountant *budget.Accountant
}

// NewAgentRunner wraps the agent as a milestone runner.
func NewAgentRunner(a *agent.Agent, accountant *budget.Accountant) *AgentRunner {
	return &AgentRunner{agent: a, accountant: accountant}
}

// RunMilestone runs the milestone prompt as one approval-gated turn and
// attributes the session's token/cost delta to the milestone.
func (r *AgentRunner) RunMilestone(ctx context.Context, state *models.MarathonState, milestone *models.Milestone, prompt string) (*MilestoneResult, error) {
	peer := "marathon-" + state.ID
	key := models.SessionKey(peer, "marathon", models.SessionEphemeral)
	before := r.accountant.UsageFor(key)

	resp, err := r.agent.Chat(WithMarathonID(ctx, state.ID), agent.ChatRequest{
		Message:         prompt,
		PeerID:          peer,
		Channel:         "marathon",
		SessionType:     models.SessionEphemeral,
		RequireApproval: true,
	})
	if err != nil {
		return nil, err
	}

	// Rejected or expired approvals fail the milestone outright; retrying
	// would re-ask the same question.
	for _, result := range resp.ToolResults {
		if !result.Success && strings.Contains(result.Error, "approval denied") {
			return nil, backoff.Permanent(fmt.Errorf("gated action rejected: %s", result.Error))
		}
	}

	after := r.accountant.UsageFor(key)
	return &MilestoneResult{
		Output:     resp.Text,
		TokensUsed: after.SessionTokens - before.SessionTokens,
		CostUsd:    after.SessionCostUsd - before.SessionCostUsd,
	}, nil
}
