package marathon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/longhaul-ai/longhaul/internal/agent"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// ErrPlanInvalid is returned when the model cannot produce a valid plan
// after one re-request.
var ErrPlanInvalid = errors.New("plan invalid")

const plannerPrompt = `You are a project planner. Break the goal into an
ordered list of milestones. Respond with JSON only, no prose, in this shape:

{"milestones":[{"id":"m1","title":"...","description":"...","depends_on":[]}]}

Rules:
- At least one milestone.
- Ids are unique and stable.
- depends_on may reference only milestones that appear EARLIER in the list.`

// Planner asks the model for a milestone plan and enforces the DAG property.
type Planner struct {
	provider agent.LLMProvider
	model    string
	logger   *slog.Logger
}

// NewPlanner builds a planner over the provider.
func NewPlanner(provider agent.LLMProvider, model string, logger *slog.Logger) *Planner {
	return &Planner{provider: provider, model: model, logger: logger}
}

// Plan produces a validated milestone plan for the goal. An invalid plan is
// re-requested once with the violation spelled out; a second invalid plan
// fails with ErrPlanInvalid.
func (p *Planner) Plan(ctx context.Context, goal string, constraints []string) (*models.MarathonPlan, error) {
	prompt := goal
	if len(constraints) > 0 {
		prompt += "\n\nConstraints:\n- " + strings.Join(constraints, "\n- ")
	}

	var lastViolation error
	for attempt := 1; attempt <= 2; attempt++ {
		user := prompt
		if lastViolation != nil {
			user = fmt.Sprintf("%s\n\nYour previous plan was rejected: %s\nProduce a corrected plan.", prompt, lastViolation)
		}
		completion, err := p.provider.Complete(ctx, &agent.CompletionRequest{
			Model:  p.model,
			System: plannerPrompt,
			Messages: []models.Message{
				{Role: models.RoleUser, Content: user},
			},
			MaxTokens:     4096,
			ThinkingLevel: agent.ThinkingMedium,
		})
		if err != nil {
			return nil, fmt.Errorf("planner llm call: %w", err)
		}

		plan, err := parsePlan(goal, completion.Text)
		if err == nil {
			if p.logger != nil {
				p.logger.Info("plan accepted", "goal", goal, "milestones", len(plan.Milestones), "attempt", attempt)
			}
			return plan, nil
		}
		lastViolation = err
		if p.logger != nil {
			p.logger.Warn("plan rejected", "goal", goal, "attempt", attempt, "error", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPlanInvalid, lastViolation)
}

// parsePlan decodes and validates a model-produced plan.
func parsePlan(goal, text string) (*models.MarathonPlan, error) {
	var decoded struct {
		Milestones []struct {
			ID          string   `json:"id"`
			Title       string   `json:"title"`
			Description string   `json:"description"`
			DependsOn   []string `json:"depends_on"`
		} `json:"milestones"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &decoded); err != nil {
		return nil, fmt.Errorf("not valid JSON: %v", err)
	}
	if len(decoded.Milestones) == 0 {
		return nil, errors.New("no milestones")
	}

	seen := make(map[string]bool, len(decoded.Milestones))
	plan := &models.MarathonPlan{Goal: goal}
	for i, m := range decoded.Milestones {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("milestone %d has no id", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("duplicate milestone id %q", m.ID)
		}
		for _, dep := range m.DependsOn {
			if dep == m.ID {
				return nil, fmt.Errorf("milestone %q depends on itself", m.ID)
			}
			if !seen[dep] {
				return nil, fmt.Errorf("milestone %q depends on %q which is not an earlier milestone", m.ID, dep)
			}
		}
		seen[m.ID] = true
		plan.Milestones = append(plan.Milestones, models.Milestone{
			ID:          m.ID,
			Title:       m.Title,
			Description: m.Description,
			Status:      models.MilestonePending,
			DependsOn:   m.DependsOn,
		})
	}
	return plan, nil
}

// stripFences removes a markdown code fence wrapper if the model added one.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
