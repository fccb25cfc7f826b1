package models

import "time"

// MilestoneStatus is the state of one unit of marathon work.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in-progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneFailed     MilestoneStatus = "failed"
	MilestoneSkipped    MilestoneStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions
// (other than failed -> pending on retry).
func (s MilestoneStatus) Terminal() bool {
	switch s {
	case MilestoneCompleted, MilestoneFailed, MilestoneSkipped:
		return true
	default:
		return false
	}
}

// Milestone is one planner-produced unit of work inside a marathon.
type Milestone struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      MilestoneStatus `json:"status"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Result      string          `json:"result,omitempty"`
	TokensUsed  int64           `json:"tokens_used"`
	Attempt     int             `json:"attempt"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// MarathonPlan is the ordered milestone list for a goal.
type MarathonPlan struct {
	Goal       string      `json:"goal"`
	Milestones []Milestone `json:"milestones"`
	// CurrentMilestoneIndex is the lowest index whose milestone is not
	// completed or skipped, or len(Milestones) when the plan is finished.
	CurrentMilestoneIndex int `json:"current_milestone_index"`
}

// AdvanceIndex recomputes CurrentMilestoneIndex from milestone statuses.
func (p *MarathonPlan) AdvanceIndex() {
	idx := len(p.Milestones)
	for i := range p.Milestones {
		s := p.Milestones[i].Status
		if s != MilestoneCompleted && s != MilestoneSkipped {
			idx = i
			break
		}
	}
	p.CurrentMilestoneIndex = idx
}

// MarathonStatus is the lifecycle state of a marathon run.
type MarathonStatus string

const (
	MarathonPlanning         MarathonStatus = "planning"
	MarathonExecuting        MarathonStatus = "executing"
	MarathonPaused           MarathonStatus = "paused"
	MarathonAwaitingApproval MarathonStatus = "awaiting-approval"
	MarathonCompleted        MarathonStatus = "completed"
	MarathonFailed           MarathonStatus = "failed"
	MarathonAborted          MarathonStatus = "aborted"
)

// Terminal reports whether the marathon can make no further progress.
func (s MarathonStatus) Terminal() bool {
	switch s {
	case MarathonCompleted, MarathonFailed, MarathonAborted:
		return true
	default:
		return false
	}
}

// MaxMarathonLogs bounds the in-state log ring buffer.
const MaxMarathonLogs = 200

// MarathonState is the durable record of a marathon run. It is persisted
// after every state transition; readers must never observe a torn write.
type MarathonState struct {
	ID               string             `json:"id"`
	Plan             MarathonPlan       `json:"plan"`
	Status           MarathonStatus     `json:"status"`
	StartedAt        time.Time          `json:"started_at"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
	LastCheckpointAt time.Time          `json:"last_checkpoint_at"`
	HeartbeatAt      time.Time          `json:"heartbeat_at"`
	Logs             []string           `json:"logs,omitempty"`
	ApprovalRequests []*ApprovalRequest `json:"approval_requests,omitempty"`
	TotalTokensUsed  int64              `json:"total_tokens_used"`
	TotalCostUsd     float64            `json:"total_cost_usd"`
	WorkingDirectory string             `json:"working_directory,omitempty"`
	FailureReason    string             `json:"failure_reason,omitempty"`
	RestartCount     int                `json:"restart_count"`
}

// AppendLog adds a log line, evicting the oldest once the ring is full.
func (m *MarathonState) AppendLog(line string) {
	m.Logs = append(m.Logs, line)
	if len(m.Logs) > MaxMarathonLogs {
		m.Logs = m.Logs[len(m.Logs)-MaxMarathonLogs:]
	}
}

// Milestone returns the milestone with the given id, or nil.
func (m *MarathonState) Milestone(id string) *Milestone {
	for i := range m.Plan.Milestones {
		if m.Plan.Milestones[i].ID == id {
			return &m.Plan.Milestones[i]
		}
	}
	return nil
}

// ApprovalDecision is the outcome of an approval request.
type ApprovalDecision string

const (
	ApprovalPending  ApprovalDecision = "pending"
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalRejected ApprovalDecision = "rejected"
	ApprovalExpired  ApprovalDecision = "expired"
)

// ApprovalRisk classifies how dangerous the gated action is.
type ApprovalRisk string

const (
	RiskLow    ApprovalRisk = "low"
	RiskMedium ApprovalRisk = "medium"
	RiskHigh   ApprovalRisk = "high"
)

// ApprovalRequest is a durable pause awaiting an out-of-band decision.
type ApprovalRequest struct {
	ID          string           `json:"id"`
	MarathonID  string           `json:"marathon_id"`
	Action      string           `json:"action"`
	Description string           `json:"description"`
	Risk        ApprovalRisk     `json:"risk"`
	Params      map[string]any   `json:"params,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Status      ApprovalDecision `json:"status"`
	DecidedBy   string           `json:"decided_by,omitempty"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}
