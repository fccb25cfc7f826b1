package marathon

import (
	"context"
	"errors"
	"testing"

	"github.com/longhaul-ai/longhaul/internal/agent"
)

// sequenceProvider returns canned plan texts in order.
type sequenceProvider struct {
	texts []string
	calls int
}

func (p *sequenceProvider) Complete(_ context.Context, _ *agent.CompletionRequest) (*agent.Completion, error) {
	i := p.calls
	p.calls++
	if i >= len(p.texts) {
		i = len(p.texts) - 1
	}
	return &agent.Completion{Text: p.texts[i]}, nil
}

func (p *sequenceProvider) Name() string { return "sequence" }

func TestPlannerValidPlan(t *testing.T) {
	p := NewPlanner(&sequenceProvider{texts: []string{threeMilestonePlan}}, "test-model", nil)
	plan, err := p.Plan(context.Background(), "Build X", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Milestones) != 3 {
		t.Fatalf("milestones = %d, want 3", len(plan.Milestones))
	}
	if plan.Goal != "Build X" {
		t.Errorf("Goal = %q", plan.Goal)
	}
	for _, ms := range plan.Milestones {
		if ms.Status != "pending" {
			t.Errorf("milestone %s status = %s", ms.ID, ms.Status)
		}
	}
}

func TestPlannerFencedJSON(t *testing.T) {
	fenced := "```json\n" + threeMilestonePlan + "\n```"
	p := NewPlanner(&sequenceProvider{texts: []string{fenced}}, "test-model", nil)
	if _, err := p.Plan(context.Background(), "Build X", nil); err != nil {
		t.Fatalf("Plan with fenced JSON: %v", err)
	}
}

func TestPlannerReRequestsOnce(t *testing.T) {
	forward := `{"milestones":[
		{"id":"m1","title":"a","description":"a","depends_on":["m2"]},
		{"id":"m2","title":"b","description":"b","depends_on":[]}]}`
	provider := &sequenceProvider{texts: []string{forward, threeMilestonePlan}}
	p := NewPlanner(provider, "test-model", nil)

	plan, err := p.Plan(context.Background(), "Build X", nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
	if len(plan.Milestones) != 3 {
		t.Errorf("milestones = %d", len(plan.Milestones))
	}
}

func TestPlannerFailsAfterTwoInvalid(t *testing.T) {
	tests := []struct {
		name string
		plan string
	}{
		{"self dependency", `{"milestones":[{"id":"m1","title":"a","description":"a","depends_on":["m1"]}]}`},
		{"duplicate ids", `{"milestones":[{"id":"m1","title":"a","description":"a"},{"id":"m1","title":"b","description":"b"}]}`},
		{"empty plan", `{"milestones":[]}`},
		{"not json", `I think we should start by building X.`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &sequenceProvider{texts: []string{tt.plan, tt.plan}}
			p := NewPlanner(provider, "test-model", nil)
			_, err := p.Plan(context.Background(), "Build X", nil)
			if !errors.Is(err, ErrPlanInvalid) {
				t.Fatalf("err = %v, want ErrPlanInvalid", err)
			}
			if provider.calls != 2 {
				t.Errorf("provider calls = %d, want 2", provider.calls)
			}
		})
	}
}
