package marathon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/longhaul-ai/longhaul/internal/agent"
	"github.com/longhaul-ai/longhaul/internal/backoff"
	"github.com/longhaul-ai/longhaul/internal/observability"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

var (
	// ErrInvalidTransition is returned for a control action the current
	// status does not admit.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrApprovalNotFound is returned for a decision on an unknown request.
	ErrApprovalNotFound = errors.New("approval request not found")
)

// ManagerConfig tunes marathon execution.
type ManagerConfig struct {
	Heartbeat            time.Duration
	CheckpointEvery      int
	MaxMilestoneAttempts int
	ApprovalTimeout      time.Duration
	RetryPolicy          backoff.Policy
}

func (c *ManagerConfig) applyDefaults() {
	if c.Heartbeat <= 0 {
		c.Heartbeat = 30 * time.Second
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 5
	}
	if c.MaxMilestoneAttempts <= 0 {
		c.MaxMilestoneAttempts = 3
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = DefaultApprovalTimeout
	}
	if c.RetryPolicy.Initial <= 0 {
		c.RetryPolicy = backoff.MilestonePolicy()
	}
}

// StartOptions carries optional parameters for a new marathon.
type StartOptions struct {
	WorkingDirectory string
	Constraints      []string
}

// execution tracks one in-process marathon run.
type execution struct {
	mu     sync.Mutex
	state  *models.MarathonState
	cancel context.CancelFunc
	paused atomic.Bool
	done   chan struct{}
}

// Manager owns marathon lifecycles: planning, sequential milestone
// execution, approvals, pause/resume/abort, durable checkpoints. One
// Manager serves the process; each marathon runs on its own goroutine.
type Manager struct {
	cfg     ManagerConfig
	store   *Store
	planner *Planner
	runner  Runner
	gate    *Gate
	sink    EventSink
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]*execution
}

// NewManager assembles a manager. sink and metrics may be nil.
func NewManager(cfg ManagerConfig, store *Store, planner *Planner, runner Runner, sink EventSink, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if sink == nil {
		sink = NopSink{}
	}
	m := &Manager{
		cfg:     cfg,
		store:   store,
		planner: planner,
		runner:  runner,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		running: make(map[string]*execution),
	}
	m.gate = NewGate(m.persistApproval)
	return m
}

// Gate exposes the approval gate for inspection endpoints.
func (m *Manager) Gate() *Gate { return m.gate }

// Start creates a marathon and launches execution in the background. The
// returned state is in the planning status; callers poll or subscribe for
// progress.
func (m *Manager) Start(goal string, opts StartOptions) (*models.MarathonState, error) {
	if goal == "" {
		return nil, fmt.Errorf("goal is required")
	}
	now := time.Now().UTC()
	state := &models.MarathonState{
		ID:               uuid.NewString(),
		Plan:             models.MarathonPlan{Goal: goal},
		Status:           models.MarathonPlanning,
		StartedAt:        now,
		HeartbeatAt:      now,
		LastCheckpointAt: now,
		WorkingDirectory: opts.WorkingDirectory,
	}
	state.AppendLog(fmt.Sprintf("marathon created: %s", goal))
	if err := m.store.Save(state); err != nil {
		return nil, err
	}
	m.launch(state, opts.Constraints)
	return snapshot(state), nil
}

// Resume reattaches an executor to a paused marathon. A marathon paused
// while awaiting approval keeps its run loop parked inside the gate;
// waiting for that loop to drain would block the caller until the
// decision or the timeout, so the approval must be decided first.
func (m *Manager) Resume(id string) (*models.MarathonState, error) {
	if req := m.gate.Pending(id); req != nil {
		return nil, fmt.Errorf("%w: approval %s must be decided before resume", ErrInvalidTransition, req.ID)
	}
	if exec := m.get(id); exec != nil {
		exec.mu.Lock()
		if exec.state.Status != models.MarathonPaused {
			status := exec.state.Status
			exec.mu.Unlock()
			return nil, fmt.Errorf("%w: resume from %s", ErrInvalidTransition, status)
		}
		exec.mu.Unlock()
		// The paused run loop exits at its next checkpoint; wait for it to
		// drain so two executors never share one state.
		<-exec.done
	}
	state, err := m.loadCurrent(id)
	if err != nil {
		return nil, err
	}
	if state.Status != models.MarathonPaused {
		return nil, fmt.Errorf("%w: resume from %s", ErrInvalidTransition, state.Status)
	}
	state.Status = models.MarathonExecuting
	state.AppendLog("resumed")
	if err := m.store.Save(state); err != nil {
		return nil, err
	}
	m.transition(models.MarathonExecuting)
	m.emit(EventResumed, state.ID, nil)
	m.launch(state, nil)
	return snapshot(state), nil
}

// Pause requests suspension. Only executing and awaiting-approval marathons
// can pause; the run loop observes the flag between milestones and before
// LLM calls, so an in-flight step completes first.
func (m *Manager) Pause(id string) (*models.MarathonState, error) {
	exec := m.get(id)
	if exec == nil {
		state, err := m.store.Load(id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: pause from %s", ErrInvalidTransition, state.Status)
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.state.Status != models.MarathonExecuting && exec.state.Status != models.MarathonAwaitingApproval {
		return nil, fmt.Errorf("%w: pause from %s", ErrInvalidTransition, exec.state.Status)
	}
	exec.paused.Store(true)
	exec.state.Status = models.MarathonPaused
	exec.state.AppendLog("paused")
	if err := m.store.Save(exec.state); err != nil {
		return nil, err
	}
	m.transition(models.MarathonPaused)
	m.emit(EventPaused, id, nil)
	return snapshot(exec.state), nil
}

// Abort terminates a marathon from any non-terminal status. In-flight work
// is cancelled; a second abort is a no-op.
func (m *Manager) Abort(id string) (*models.MarathonState, error) {
	if exec := m.get(id); exec != nil {
		exec.mu.Lock()
		if exec.state.Status.Terminal() {
			st := snapshot(exec.state)
			exec.mu.Unlock()
			return st, nil
		}
		m.finishLocked(exec.state, models.MarathonAborted, "aborted by operator")
		st := snapshot(exec.state)
		exec.mu.Unlock()
		exec.cancel()
		return st, nil
	}

	state, err := m.store.Load(id)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return state, nil
	}
	m.finishLocked(state, models.MarathonAborted, "aborted by operator")
	return state, nil
}

// Approve resolves a pending approval request positively.
func (m *Manager) Approve(marathonID, approvalID, who string) error {
	return m.decide(marathonID, approvalID, models.ApprovalApproved, who, "")
}

// Reject resolves a pending approval request negatively.
func (m *Manager) Reject(marathonID, approvalID, who, reason string) error {
	return m.decide(marathonID, approvalID, models.ApprovalRejected, who, reason)
}

func (m *Manager) decide(marathonID, approvalID string, status models.ApprovalDecision, who, reason string) error {
	req, ok := m.gate.Get(approvalID)
	if !ok || req.MarathonID != marathonID {
		return ErrApprovalNotFound
	}
	if _, applied := m.gate.Decide(approvalID, status, who, reason); applied {
		m.emit(EventApprovalDecided, marathonID, map[string]any{
			"approval_id": approvalID,
			"decision":    string(status),
			"decided_by":  who,
		})
	}
	return nil
}

// Status returns the current state of one marathon.
func (m *Manager) Status(id string) (*models.MarathonState, error) {
	if exec := m.get(id); exec != nil {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return snapshot(exec.state), nil
	}
	return m.store.Load(id)
}

// List returns every known marathon, preferring live state for running ones.
func (m *Manager) List() ([]*models.MarathonState, error) {
	states, err := m.store.List()
	if err != nil {
		return nil, err
	}
	for i, state := range states {
		if exec := m.get(state.ID); exec != nil {
			exec.mu.Lock()
			states[i] = snapshot(exec.state)
			exec.mu.Unlock()
		}
	}
	return states, nil
}

// Running reports whether this process owns a live executor for id.
func (m *Manager) Running(id string) bool { return m.get(id) != nil }

// Relaunch restarts execution from persisted state after a crash. Called by
// the watchdog; the caller has already bumped RestartCount.
func (m *Manager) Relaunch(id string) error {
	if m.Running(id) {
		return nil
	}
	state, err := m.store.Load(id)
	if err != nil {
		return err
	}
	if state.Status.Terminal() || state.Status == models.MarathonPaused {
		return fmt.Errorf("%w: relaunch from %s", ErrInvalidTransition, state.Status)
	}
	// A run interrupted mid-approval restarts the milestone; the pending
	// request cannot be re-attached to a dead waiter.
	if state.Status == models.MarathonAwaitingApproval {
		state.Status = models.MarathonExecuting
	}
	for i := range state.Plan.Milestones {
		if state.Plan.Milestones[i].Status == models.MilestoneInProgress {
			state.Plan.Milestones[i].Status = models.MilestonePending
		}
	}
	state.AppendLog("relaunched from persisted state")
	if err := m.store.Save(state); err != nil {
		return err
	}
	m.launch(state, nil)
	return nil
}

// FailDetached marks a marathon with no live executor as failed. Used by
// the watchdog when restart attempts are exhausted.
func (m *Manager) FailDetached(id, reason string) error {
	if m.Running(id) {
		return fmt.Errorf("marathon %s has a live executor", id)
	}
	state, err := m.store.Load(id)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		return nil
	}
	m.finishLocked(state, models.MarathonFailed, reason)
	return nil
}

// Shutdown cancels every running marathon and waits for the run loops to
// drain, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	execs := make([]*execution, 0, len(m.running))
	for _, exec := range m.running {
		execs = append(execs, exec)
	}
	m.mu.Unlock()

	for _, exec := range execs {
		exec.cancel()
	}
	for _, exec := range execs {
		select {
		case <-exec.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ApprovalHook returns the hook the tool executor consults before gated
// tools run. Outside a marathon the hook approves silently; inside, it
// parks the marathon in awaiting-approval until a decision or timeout.
func (m *Manager) ApprovalHook() agent.ApprovalFunc {
	return func(ctx context.Context, tool *agent.Tool, args json.RawMessage) error {
		id, ok := MarathonIDFrom(ctx)
		if !ok {
			return nil
		}
		exec := m.get(id)
		if exec == nil {
			return nil
		}

		m.setStatus(exec, models.MarathonAwaitingApproval,
			fmt.Sprintf("awaiting approval for tool %s", tool.Name))
		m.emit(EventApprovalRequested, id, map[string]any{
			"action": tool.Name,
			"risk":   string(riskFor(tool)),
		})

		var params map[string]any
		_ = json.Unmarshal(args, &params)
		req, err := m.gate.Request(ctx, id, tool.Name, tool.Description, riskFor(tool), params, m.cfg.ApprovalTimeout)

		if !exec.paused.Load() {
			m.setStatus(exec, models.MarathonExecuting, "")
		}
		if err != nil {
			return err
		}
		switch req.Status {
		case models.ApprovalApproved:
			return nil
		case models.ApprovalRejected:
			return fmt.Errorf("rejected by %s: %s", req.DecidedBy, req.Reason)
		default:
			return errors.New(approvalTimeoutReason)
		}
	}
}

func riskFor(tool *agent.Tool) models.ApprovalRisk {
	if tool.SideEffect == agent.SideEffectDestructive {
		return models.RiskHigh
	}
	return models.RiskMedium
}

func (m *Manager) get(id string) *execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[id]
}

// loadCurrent prefers the live in-memory state over the persisted one.
func (m *Manager) loadCurrent(id string) (*models.MarathonState, error) {
	if exec := m.get(id); exec != nil {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return snapshot(exec.state), nil
	}
	return m.store.Load(id)
}

func (m *Manager) launch(state *models.MarathonState, constraints []string) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &execution{state: state, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.running[state.ID] = exec
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveMarathons.Inc()
	}

	go func() {
		defer func() {
			cancel()
			m.mu.Lock()
			if m.running[state.ID] == exec {
				delete(m.running, state.ID)
			}
			m.mu.Unlock()
			if m.metrics != nil {
				m.metrics.ActiveMarathons.Dec()
			}
			close(exec.done)
		}()
		m.run(ctx, exec, constraints)
	}()
}

// run drives one marathon to a stopping point: terminal status, pause, or
// cancellation.
func (m *Manager) run(ctx context.Context, exec *execution, constraints []string) {
	stopHeartbeat := m.startHeartbeat(ctx, exec)
	defer stopHeartbeat()

	exec.mu.Lock()
	state := exec.state
	needsPlan := state.Status == models.MarathonPlanning
	goal := state.Plan.Goal
	exec.mu.Unlock()

	if needsPlan {
		plan, err := m.planner.Plan(ctx, goal, constraints)
		if err != nil {
			exec.mu.Lock()
			m.finishLocked(state, models.MarathonFailed, fmt.Sprintf("planning failed: %s", err))
			exec.mu.Unlock()
			return
		}
		exec.mu.Lock()
		state.Plan = *plan
		state.Status = models.MarathonExecuting
		state.AppendLog(fmt.Sprintf("plan accepted with %d milestones", len(plan.Milestones)))
		m.save(state)
		exec.mu.Unlock()
		m.transition(models.MarathonExecuting)
		m.emit(EventStarted, state.ID, map[string]any{"milestones": len(plan.Milestones)})
	}

	completedSinceCheckpoint := 0
	for i := 0; i < m.milestoneCount(exec); i++ {
		if ctx.Err() != nil || exec.paused.Load() {
			return
		}

		milestone := m.milestoneAt(exec, i)
		if milestone.Status == models.MilestoneCompleted || milestone.Status == models.MilestoneSkipped {
			continue
		}

		if reason, blocked := m.blockedByDependency(exec, milestone); blocked {
			m.updateMilestone(exec, i, func(ms *models.Milestone) {
				ms.Status = models.MilestoneSkipped
				ms.Result = reason
			})
			m.emit(EventMilestoneFailed, state.ID, map[string]any{
				"milestone": milestone.ID, "status": "skipped", "reason": reason,
			})
			continue
		}

		m.runMilestone(ctx, exec, i)

		if m.milestoneAt(exec, i).Status == models.MilestoneCompleted {
			completedSinceCheckpoint++
			if completedSinceCheckpoint >= m.cfg.CheckpointEvery {
				completedSinceCheckpoint = 0
				exec.mu.Lock()
				state.LastCheckpointAt = time.Now().UTC()
				state.AppendLog("checkpoint")
				m.save(state)
				exec.mu.Unlock()
			}
		}
	}

	if ctx.Err() != nil || exec.paused.Load() {
		return
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if state.Status.Terminal() {
		return
	}
	failed := ""
	for i := range state.Plan.Milestones {
		if state.Plan.Milestones[i].Status == models.MilestoneFailed {
			failed = state.Plan.Milestones[i].ID
			break
		}
	}
	if failed != "" {
		m.finishLocked(state, models.MarathonFailed, fmt.Sprintf("milestone %s failed", failed))
	} else {
		m.finishLocked(state, models.MarathonCompleted, "")
	}
}

// runMilestone executes one milestone with bounded retries.
func (m *Manager) runMilestone(ctx context.Context, exec *execution, idx int) {
	exec.mu.Lock()
	state := exec.state
	now := time.Now().UTC()
	ms := &state.Plan.Milestones[idx]
	ms.Status = models.MilestoneInProgress
	ms.StartedAt = &now
	state.HeartbeatAt = now
	state.AppendLog(fmt.Sprintf("milestone %s started: %s", ms.ID, ms.Title))
	m.save(state)
	prompt := m.milestonePrompt(state, ms)
	milestone := *ms
	exec.mu.Unlock()
	m.emit(EventMilestoneStarted, state.ID, map[string]any{"milestone": milestone.ID})

	var result *MilestoneResult
	var err error
	for attempt := 1; attempt <= m.cfg.MaxMilestoneAttempts; attempt++ {
		if ctx.Err() != nil || exec.paused.Load() {
			return
		}
		m.updateMilestone(exec, idx, func(ms *models.Milestone) { ms.Attempt = attempt })

		result, err = m.runner.RunMilestone(ctx, snapshotFor(exec), &milestone, prompt)
		if err == nil {
			break
		}
		if m.logger != nil {
			m.logger.Warn("milestone attempt failed",
				"marathon_id", state.ID, "milestone", milestone.ID, "attempt", attempt, "error", err)
		}
		if errors.Is(err, backoff.ErrNonRetryable) || attempt == m.cfg.MaxMilestoneAttempts {
			break
		}
		if backoff.Sleep(ctx, m.cfg.RetryPolicy, attempt) != nil {
			return
		}
	}

	// An abort may have landed while the call was in flight; the result is
	// discarded.
	if ctx.Err() != nil {
		return
	}
	exec.mu.Lock()
	if state.Status.Terminal() {
		exec.mu.Unlock()
		return
	}
	exec.mu.Unlock()

	done := time.Now().UTC()
	if err != nil {
		m.updateMilestone(exec, idx, func(ms *models.Milestone) {
			ms.Status = models.MilestoneFailed
			ms.Result = err.Error()
			ms.CompletedAt = &done
		})
		m.emit(EventMilestoneFailed, state.ID, map[string]any{
			"milestone": milestone.ID, "reason": err.Error(),
		})
		return
	}

	exec.mu.Lock()
	ms = &state.Plan.Milestones[idx]
	ms.Status = models.MilestoneCompleted
	ms.Result = result.Output
	ms.TokensUsed = result.TokensUsed
	ms.CompletedAt = &done
	state.TotalTokensUsed += result.TokensUsed
	state.TotalCostUsd += result.CostUsd
	state.Plan.AdvanceIndex()
	state.AppendLog(fmt.Sprintf("milestone %s completed", ms.ID))
	m.save(state)
	exec.mu.Unlock()
	m.emit(EventMilestoneCompleted, state.ID, map[string]any{
		"milestone": milestone.ID, "tokens_used": result.TokensUsed,
	})
}

// milestonePrompt composes the sub-session prompt: goal, completed-milestone
// summaries, then the milestone at hand.
func (m *Manager) milestonePrompt(state *models.MarathonState, ms *models.Milestone) string {
	var sb []byte
	sb = fmt.Appendf(sb, "Overall goal: %s\n", state.Plan.Goal)
	for i := range state.Plan.Milestones {
		prior := &state.Plan.Milestones[i]
		if prior.Status == models.MilestoneCompleted {
			sb = fmt.Appendf(sb, "Done: %s - %s\n", prior.Title, truncate(prior.Result, 400))
		}
	}
	sb = fmt.Appendf(sb, "\nCurrent milestone: %s\n%s", ms.Title, ms.Description)
	return string(sb)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (m *Manager) blockedByDependency(exec *execution, ms models.Milestone) (string, bool) {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	for _, dep := range ms.DependsOn {
		d := exec.state.Milestone(dep)
		if d == nil || d.Status != models.MilestoneCompleted {
			return fmt.Sprintf("skipped: dependency %s did not complete", dep), true
		}
	}
	return "", false
}

func (m *Manager) milestoneCount(exec *execution) int {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return len(exec.state.Plan.Milestones)
}

func (m *Manager) milestoneAt(exec *execution, idx int) models.Milestone {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return exec.state.Plan.Milestones[idx]
}

func (m *Manager) updateMilestone(exec *execution, idx int, fn func(ms *models.Milestone)) {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	fn(&exec.state.Plan.Milestones[idx])
	exec.state.Plan.AdvanceIndex()
	m.save(exec.state)
}

// startHeartbeat bumps HeartbeatAt every tick while the run loop is live.
func (m *Manager) startHeartbeat(ctx context.Context, exec *execution) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(m.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				exec.mu.Lock()
				exec.state.HeartbeatAt = time.Now().UTC()
				m.save(exec.state)
				exec.mu.Unlock()
			}
		}
	}()
	return cancel
}

// setStatus transitions a live execution and persists.
func (m *Manager) setStatus(exec *execution, status models.MarathonStatus, logLine string) {
	exec.mu.Lock()
	if exec.state.Status == status || exec.state.Status.Terminal() {
		exec.mu.Unlock()
		return
	}
	exec.state.Status = status
	if logLine != "" {
		exec.state.AppendLog(logLine)
	}
	m.save(exec.state)
	exec.mu.Unlock()
	m.transition(status)
}

// finishLocked moves state to a terminal status and persists. Caller holds
// the state lock (or exclusively owns the state).
func (m *Manager) finishLocked(state *models.MarathonState, status models.MarathonStatus, reason string) {
	now := time.Now().UTC()
	state.Status = status
	state.CompletedAt = &now
	state.FailureReason = reason
	if reason != "" {
		state.AppendLog(reason)
	}
	m.save(state)
	m.transition(status)
	switch status {
	case models.MarathonCompleted:
		m.emit(EventCompleted, state.ID, map[string]any{"total_tokens": state.TotalTokensUsed})
	case models.MarathonFailed:
		m.emit(EventFailed, state.ID, map[string]any{"reason": reason})
	case models.MarathonAborted:
		m.emit(EventAborted, state.ID, nil)
	}
}

// persistApproval mirrors gate changes into the owning state file.
func (m *Manager) persistApproval(req *models.ApprovalRequest) {
	exec := m.get(req.MarathonID)
	if exec == nil {
		return
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	found := false
	for i, existing := range exec.state.ApprovalRequests {
		if existing.ID == req.ID {
			exec.state.ApprovalRequests[i] = req
			found = true
			break
		}
	}
	if !found {
		exec.state.ApprovalRequests = append(exec.state.ApprovalRequests, req)
	}
	m.save(exec.state)
}

func (m *Manager) save(state *models.MarathonState) {
	if err := m.store.Save(state); err != nil && m.logger != nil {
		m.logger.Error("marathon persist failed", "marathon_id", state.ID, "error", err)
	}
}

func (m *Manager) transition(to models.MarathonStatus) {
	if m.metrics != nil {
		m.metrics.MarathonTransitions.WithLabelValues(string(to)).Inc()
	}
}

func (m *Manager) emit(name, id string, payload map[string]any) {
	m.sink.Emit(context.Background(), Event{
		Name:       name,
		MarathonID: id,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	})
	if m.logger != nil {
		m.logger.Info("marathon event", "event", name, "marathon_id", id)
	}
}

// snapshot deep-copies state for safe hand-off outside the lock.
func snapshot(state *models.MarathonState) *models.MarathonState {
	cp := *state
	cp.Plan.Milestones = append([]models.Milestone(nil), state.Plan.Milestones...)
	cp.Logs = append([]string(nil), state.Logs...)
	cp.ApprovalRequests = append([]*models.ApprovalRequest(nil), state.ApprovalRequests...)
	return &cp
}

func snapshotFor(exec *execution) *models.MarathonState {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return snapshot(exec.state)
}
