package marathon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/longhaul-ai/longhaul/internal/agent"
	"github.com/longhaul-ai/longhaul/internal/backoff"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

const threeMilestonePlan = `{"milestones":[
	{"id":"m1","title":"first","description":"do first","depends_on":[]},
	{"id":"m2","title":"second","description":"do second","depends_on":[]},
	{"id":"m3","title":"third","description":"do third","depends_on":[]}]}`

// planProvider returns a fixed plan for every completion.
type planProvider struct {
	plan string
}

func (p *planProvider) Complete(_ context.Context, _ *agent.CompletionRequest) (*agent.Completion, error) {
	return &agent.Completion{Text: p.plan}, nil
}

func (p *planProvider) Name() string { return "plan-stub" }

// stubRunner records milestone runs and delegates outcomes to fn, or to
// fnCtx when the outcome depends on the run context.
type stubRunner struct {
	mu    sync.Mutex
	runs  []string
	fn    func(ms *models.Milestone) (*MilestoneResult, error)
	fnCtx func(ctx context.Context, state *models.MarathonState, ms *models.Milestone) (*MilestoneResult, error)
}

func (r *stubRunner) RunMilestone(ctx context.Context, state *models.MarathonState, ms *models.Milestone, _ string) (*MilestoneResult, error) {
	r.mu.Lock()
	r.runs = append(r.runs, ms.ID)
	r.mu.Unlock()
	if r.fnCtx != nil {
		return r.fnCtx(ctx, state, ms)
	}
	if r.fn != nil {
		return r.fn(ms)
	}
	return &MilestoneResult{Output: "ok", TokensUsed: 100, CostUsd: 0.01}, nil
}

// recordingSink collects emitted event names.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev.Name)
}

func (s *recordingSink) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == name {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, runner Runner, sink EventSink) (*Manager, *Store) {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	planner := NewPlanner(&planProvider{plan: threeMilestonePlan}, "test-model", nil)
	cfg := ManagerConfig{
		Heartbeat:            20 * time.Millisecond,
		MaxMilestoneAttempts: 3,
		ApprovalTimeout:      time.Second,
		RetryPolicy:          backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	}
	return NewManager(cfg, store, planner, runner, sink, nil, nil), store
}

func waitForStatus(t *testing.T, m *Manager, id string, want models.MarathonStatus) *models.MarathonState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, err := m.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if state.Status == want {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, _ := m.Status(id)
	t.Fatalf("marathon never reached %s, stuck at %s", want, state.Status)
	return nil
}

func TestMarathonPlanExecuteComplete(t *testing.T) {
	runner := &stubRunner{}
	sink := &recordingSink{}
	m, _ := newTestManager(t, runner, sink)

	state, err := m.Start("Build X", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state.Status != models.MarathonPlanning {
		t.Errorf("initial status = %s", state.Status)
	}

	final := waitForStatus(t, m, state.ID, models.MarathonCompleted)
	if final.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	for _, ms := range final.Plan.Milestones {
		if ms.Status != models.MilestoneCompleted {
			t.Errorf("milestone %s = %s, want completed", ms.ID, ms.Status)
		}
		if ms.CompletedAt == nil {
			t.Errorf("milestone %s has no CompletedAt", ms.ID)
		}
	}
	if final.TotalTokensUsed != 300 {
		t.Errorf("TotalTokensUsed = %d, want 300", final.TotalTokensUsed)
	}
	if !sink.has(EventCompleted) {
		t.Errorf("missing %s event, got %v", EventCompleted, sink.events)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.runs) != 3 || runner.runs[0] != "m1" || runner.runs[2] != "m3" {
		t.Errorf("milestone order = %v", runner.runs)
	}
}

func TestMilestoneFailureSkipsDependents(t *testing.T) {
	plan := `{"milestones":[
		{"id":"m1","title":"a","description":"a","depends_on":[]},
		{"id":"m2","title":"b","description":"b","depends_on":["m1"]},
		{"id":"m3","title":"c","description":"c","depends_on":[]}]}`
	runner := &stubRunner{fn: func(ms *models.Milestone) (*MilestoneResult, error) {
		if ms.ID == "m1" {
			return nil, backoff.Permanent(errors.New("tool exploded"))
		}
		return &MilestoneResult{Output: "ok"}, nil
	}}
	sink := &recordingSink{}
	m, store := newTestManager(t, runner, sink)
	m.planner = NewPlanner(&planProvider{plan: plan}, "test-model", nil)

	state, err := m.Start("Build Y", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitForStatus(t, m, state.ID, models.MarathonFailed)

	byID := map[string]models.MilestoneStatus{}
	for _, ms := range final.Plan.Milestones {
		byID[ms.ID] = ms.Status
	}
	if byID["m1"] != models.MilestoneFailed {
		t.Errorf("m1 = %s, want failed", byID["m1"])
	}
	if byID["m2"] != models.MilestoneSkipped {
		t.Errorf("m2 = %s, want skipped", byID["m2"])
	}
	if byID["m3"] != models.MilestoneCompleted {
		t.Errorf("m3 = %s, want completed", byID["m3"])
	}

	// The persisted copy matches the final in-memory state.
	persisted, err := store.Load(state.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if persisted.Status != models.MarathonFailed {
		t.Errorf("persisted status = %s", persisted.Status)
	}
}

func TestMilestoneRetriesTransientFailure(t *testing.T) {
	attempts := 0
	runner := &stubRunner{fn: func(ms *models.Milestone) (*MilestoneResult, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("flaky")
		}
		return &MilestoneResult{Output: "ok"}, nil
	}}
	plan := `{"milestones":[{"id":"m1","title":"a","description":"a","depends_on":[]}]}`
	m, _ := newTestManager(t, runner, &recordingSink{})
	m.planner = NewPlanner(&planProvider{plan: plan}, "test-model", nil)

	state, err := m.Start("Build Z", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitForStatus(t, m, state.ID, models.MarathonCompleted)
	if final.Plan.Milestones[0].Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", final.Plan.Milestones[0].Attempt)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{fn: func(ms *models.Milestone) (*MilestoneResult, error) {
		<-release
		return &MilestoneResult{Output: "ok"}, nil
	}}
	m, _ := newTestManager(t, runner, &recordingSink{})

	state, err := m.Start("Build W", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, m, state.ID, models.MarathonExecuting)

	first, err := m.Abort(state.ID)
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if first.Status != models.MarathonAborted {
		t.Errorf("status = %s, want aborted", first.Status)
	}
	second, err := m.Abort(state.ID)
	if err != nil {
		t.Fatalf("second Abort: %v", err)
	}
	if second.Status != models.MarathonAborted {
		t.Errorf("second abort status = %s", second.Status)
	}
	close(release)
}

func TestCrashRecovery(t *testing.T) {
	runner := &stubRunner{}
	sink := &recordingSink{}
	m, store := newTestManager(t, runner, sink)

	// A previous process completed milestone 1 and died mid-run.
	originalDone := time.Now().UTC().Add(-15 * time.Minute)
	state := &models.MarathonState{
		ID:     "crashed-1",
		Status: models.MarathonExecuting,
		Plan: models.MarathonPlan{
			Goal: "Build X",
			Milestones: []models.Milestone{
				{ID: "m1", Title: "first", Status: models.MilestoneCompleted, CompletedAt: &originalDone},
				{ID: "m2", Title: "second", Status: models.MilestonePending},
			},
		},
		StartedAt:   time.Now().UTC().Add(-20 * time.Minute),
		HeartbeatAt: time.Now().UTC().Add(-10 * time.Minute),
	}
	if err := store.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	w := NewWatchdog(WatchdogConfig{StaleThreshold: 5 * time.Minute, MaxRestartAttempts: 5}, store, m, sink, nil, nil)
	w.Scan()

	final := waitForStatus(t, m, "crashed-1", models.MarathonCompleted)
	if !sink.has(EventCrashDetected) {
		t.Errorf("missing %s event", EventCrashDetected)
	}
	if final.RestartCount < 1 {
		t.Errorf("RestartCount = %d, want >= 1", final.RestartCount)
	}
	m1 := final.Milestone("m1")
	if m1.Status != models.MilestoneCompleted || !m1.CompletedAt.Equal(originalDone) {
		t.Errorf("m1 changed: status=%s completedAt=%v", m1.Status, m1.CompletedAt)
	}
	m2 := final.Milestone("m2")
	if m2.Status != models.MilestoneCompleted || m2.CompletedAt == nil || !m2.CompletedAt.After(originalDone) {
		t.Errorf("m2 not freshly completed: %+v", m2)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, id := range runner.runs {
		if id == "m1" {
			t.Error("completed milestone m1 was re-run")
		}
	}
}

func TestWatchdogMaxRestartsExceeded(t *testing.T) {
	runner := &stubRunner{}
	m, store := newTestManager(t, runner, &recordingSink{})

	state := &models.MarathonState{
		ID:     "doomed-1",
		Status: models.MarathonExecuting,
		Plan: models.MarathonPlan{
			Goal:       "Build X",
			Milestones: []models.Milestone{{ID: "m1", Status: models.MilestonePending}},
		},
		StartedAt:    time.Now().UTC().Add(-time.Hour),
		HeartbeatAt:  time.Now().UTC().Add(-time.Hour),
		RestartCount: 5,
	}
	if err := store.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	w := NewWatchdog(WatchdogConfig{StaleThreshold: 5 * time.Minute, MaxRestartAttempts: 5}, store, m, nil, nil, nil)
	w.Scan()

	final, err := m.Status("doomed-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if final.Status != models.MarathonFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.FailureReason != maxRestartsReason {
		t.Errorf("FailureReason = %q, want %q", final.FailureReason, maxRestartsReason)
	}
}

func TestPauseResume(t *testing.T) {
	step := make(chan struct{}, 3)
	runner := &stubRunner{fn: func(ms *models.Milestone) (*MilestoneResult, error) {
		step <- struct{}{}
		return &MilestoneResult{Output: "ok"}, nil
	}}
	m, _ := newTestManager(t, runner, &recordingSink{})

	state, err := m.Start("Build X", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Let the first milestone start, then pause.
	select {
	case <-step:
	case <-time.After(5 * time.Second):
		t.Fatal("first milestone never ran")
	}
	if _, err := m.Pause(state.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	paused := waitForStatus(t, m, state.ID, models.MarathonPaused)
	if paused.Status != models.MarathonPaused {
		t.Fatalf("status = %s", paused.Status)
	}

	// Pause from paused is rejected.
	if _, err := m.Pause(state.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second pause err = %v, want ErrInvalidTransition", err)
	}

	if _, err := m.Resume(state.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	final := waitForStatus(t, m, state.ID, models.MarathonCompleted)
	for _, ms := range final.Plan.Milestones {
		if ms.Status != models.MilestoneCompleted {
			t.Errorf("milestone %s = %s after resume", ms.ID, ms.Status)
		}
	}
}

// newGatedManager builds a manager whose single milestone routes a
// destructive tool through the approval hook, the way the turn loop does
// for gated executions.
func newGatedManager(t *testing.T, sink EventSink) *Manager {
	t.Helper()
	runner := &stubRunner{}
	m, _ := newTestManager(t, runner, sink)
	plan := `{"milestones":[{"id":"m1","title":"deploy","description":"push it","depends_on":[]}]}`
	m.planner = NewPlanner(&planProvider{plan: plan}, "test-model", nil)
	hook := m.ApprovalHook()
	tool := &agent.Tool{Name: "deploy", Description: "push to production", SideEffect: agent.SideEffectDestructive}
	runner.fnCtx = func(ctx context.Context, state *models.MarathonState, ms *models.Milestone) (*MilestoneResult, error) {
		if err := hook(WithMarathonID(ctx, state.ID), tool, json.RawMessage(`{"target":"prod"}`)); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("gated action rejected: %w", err))
		}
		return &MilestoneResult{Output: "deployed", TokensUsed: 50}, nil
	}
	return m
}

// waitForPendingApproval polls until the marathon has an undecided
// approval request.
func waitForPendingApproval(t *testing.T, m *Manager, id string) *models.ApprovalRequest {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if req := m.Gate().Pending(id); req != nil {
			return req
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no approval request appeared")
	return nil
}

func TestApprovalApproveContinuesRun(t *testing.T) {
	sink := &recordingSink{}
	m := newGatedManager(t, sink)
	m.cfg.ApprovalTimeout = time.Minute

	state, err := m.Start("Ship the release", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, m, state.ID, models.MarathonAwaitingApproval)
	req := waitForPendingApproval(t, m, state.ID)
	if req.Action != "deploy" || req.Risk != models.RiskHigh {
		t.Errorf("request = action %q risk %s", req.Action, req.Risk)
	}
	if !sink.has(EventApprovalRequested) {
		t.Errorf("missing %s event", EventApprovalRequested)
	}

	if err := m.Approve(state.ID, req.ID, "operator"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	final := waitForStatus(t, m, state.ID, models.MarathonCompleted)
	if ms := final.Milestone("m1"); ms.Status != models.MilestoneCompleted || ms.Result != "deployed" {
		t.Errorf("milestone = %s %q", ms.Status, ms.Result)
	}
	if len(final.ApprovalRequests) != 1 {
		t.Fatalf("persisted approvals = %d, want 1", len(final.ApprovalRequests))
	}
	decided := final.ApprovalRequests[0]
	if decided.Status != models.ApprovalApproved || decided.DecidedBy != "operator" {
		t.Errorf("decided request = %+v", decided)
	}
	if !sink.has(EventApprovalDecided) {
		t.Errorf("missing %s event", EventApprovalDecided)
	}
}

func TestApprovalTimeoutFailsMilestoneOnly(t *testing.T) {
	runner := &stubRunner{}
	m, _ := newTestManager(t, runner, &recordingSink{})
	m.cfg.ApprovalTimeout = 50 * time.Millisecond
	plan := `{"milestones":[
		{"id":"m1","title":"risky","description":"gated","depends_on":[]},
		{"id":"m2","title":"safe","description":"plain","depends_on":[]}]}`
	m.planner = NewPlanner(&planProvider{plan: plan}, "test-model", nil)
	hook := m.ApprovalHook()
	tool := &agent.Tool{Name: "wipe", Description: "remove everything", SideEffect: agent.SideEffectDestructive}
	runner.fnCtx = func(ctx context.Context, state *models.MarathonState, ms *models.Milestone) (*MilestoneResult, error) {
		if ms.ID == "m1" {
			if err := hook(WithMarathonID(ctx, state.ID), tool, json.RawMessage(`{}`)); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("gated action rejected: %w", err))
			}
		}
		return &MilestoneResult{Output: "ok"}, nil
	}

	state, err := m.Start("Clean up", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitForStatus(t, m, state.ID, models.MarathonFailed)

	m1 := final.Milestone("m1")
	if m1.Status != models.MilestoneFailed || !strings.Contains(m1.Result, "approval_timeout") {
		t.Errorf("m1 = %s %q, want failed with approval_timeout", m1.Status, m1.Result)
	}
	// The undecided request expired rather than staying pending.
	if len(final.ApprovalRequests) != 1 || final.ApprovalRequests[0].Status != models.ApprovalExpired {
		t.Errorf("approvals = %+v, want one expired", final.ApprovalRequests)
	}
	// The failure does not stop independent milestones.
	if m2 := final.Milestone("m2"); m2.Status != models.MilestoneCompleted {
		t.Errorf("m2 = %s, want completed", m2.Status)
	}
	if final.FailureReason != "milestone m1 failed" {
		t.Errorf("FailureReason = %q", final.FailureReason)
	}
}

func TestResumeRejectedWhileApprovalPending(t *testing.T) {
	m := newGatedManager(t, &recordingSink{})
	m.cfg.ApprovalTimeout = time.Minute

	state, err := m.Start("Ship it", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, m, state.ID, models.MarathonAwaitingApproval)
	req := waitForPendingApproval(t, m, state.ID)

	if _, err := m.Pause(state.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// Resume must refuse promptly instead of blocking on the gate wait.
	if _, err := m.Resume(state.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resume with pending approval err = %v, want ErrInvalidTransition", err)
	}

	if err := m.Approve(state.ID, req.ID, "operator"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && m.Gate().Pending(state.ID) != nil {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := m.Resume(state.ID); err != nil {
		t.Fatalf("Resume after decision: %v", err)
	}
	final := waitForStatus(t, m, state.ID, models.MarathonCompleted)
	if ms := final.Milestone("m1"); ms.Status != models.MilestoneCompleted {
		t.Errorf("m1 = %s after resume", ms.Status)
	}
}

func TestStatusNotFound(t *testing.T) {
	m, _ := newTestManager(t, &stubRunner{}, nil)
	if _, err := m.Status("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func fmtMilestones(n int) string {
	out := `{"milestones":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"id":"m%d","title":"t%d","description":"d","depends_on":[]}`, i+1, i+1)
	}
	return out + `]}`
}

func TestCheckpointEveryFive(t *testing.T) {
	runner := &stubRunner{}
	m, _ := newTestManager(t, runner, &recordingSink{})
	m.planner = NewPlanner(&planProvider{plan: fmtMilestones(6)}, "test-model", nil)
	m.cfg.CheckpointEvery = 5

	state, err := m.Start("Build many", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitForStatus(t, m, state.ID, models.MarathonCompleted)
	if !final.LastCheckpointAt.After(final.StartedAt) {
		t.Error("checkpoint never advanced")
	}
	found := false
	for _, line := range final.Logs {
		if line == "checkpoint" {
			found = true
		}
	}
	if !found {
		t.Errorf("no checkpoint log line in %v", final.Logs)
	}
}
