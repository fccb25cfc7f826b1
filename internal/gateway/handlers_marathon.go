package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/longhaul-ai/longhaul/internal/marathon"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

type marathonStartRequest struct {
	Goal             string   `json:"goal"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
	Constraints      []string `json:"constraints,omitempty"`
	// WebhookURL registers a marathon-event subscriber alongside the run.
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (s *Server) handleMarathonStart(w http.ResponseWriter, r *http.Request) {
	var req marathonStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "goal is required")
		return
	}
	if req.WebhookURL != "" {
		if _, err := s.webhooks.Register(req.WebhookURL, []string{"marathon."}); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
	}
	state, err := s.marathons.Start(req.Goal, marathon.StartOptions{
		WorkingDirectory: req.WorkingDirectory,
		Constraints:      req.Constraints,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "start marathon failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         state.ID,
		"status":     state.Status,
		"goal":       state.Plan.Goal,
		"created_at": state.StartedAt.Format(time.RFC3339),
		"message":    "marathon started; poll status or subscribe to webhooks for progress",
	})
}

func (s *Server) handleMarathonList(w http.ResponseWriter, r *http.Request) {
	states, err := s.marathons.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "list marathons failed")
		return
	}
	summaries := make([]map[string]any, 0, len(states))
	for _, st := range states {
		summaries = append(summaries, marathonSummary(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marathons": summaries,
		"total":     len(summaries),
	})
}

func marathonSummary(st *models.MarathonState) map[string]any {
	completed := 0
	for _, ms := range st.Plan.Milestones {
		if ms.Status == models.MilestoneCompleted {
			completed++
		}
	}
	return map[string]any{
		"id":                   st.ID,
		"status":               st.Status,
		"goal":                 st.Plan.Goal,
		"milestones_total":     len(st.Plan.Milestones),
		"milestones_completed": completed,
		"total_tokens_used":    st.TotalTokensUsed,
		"total_cost_usd":       st.TotalCostUsd,
		"started_at":           st.StartedAt,
		"completed_at":         st.CompletedAt,
	}
}

func (s *Server) handleMarathonGet(w http.ResponseWriter, r *http.Request) {
	state, err := s.marathons.Status(r.PathValue("id"))
	if errors.Is(err, marathon.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "marathon not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "load marathon failed")
		return
	}
	logs := state.Logs
	if len(logs) > 20 {
		logs = logs[len(logs)-20:]
	}
	var pending []*models.ApprovalRequest
	for _, ar := range state.ApprovalRequests {
		if ar.Status == models.ApprovalPending {
			pending = append(pending, ar)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 state.ID,
		"status":             state.Status,
		"plan":               state.Plan,
		"started_at":         state.StartedAt,
		"completed_at":       state.CompletedAt,
		"last_checkpoint_at": state.LastCheckpointAt,
		"heartbeat_at":       state.HeartbeatAt,
		"total_tokens_used":  state.TotalTokensUsed,
		"total_cost_usd":     state.TotalCostUsd,
		"restart_count":      state.RestartCount,
		"failure_reason":     state.FailureReason,
		"pending_approvals":  pending,
		"recent_logs":        logs,
	})
}

// marathonTransition maps a lifecycle call's outcome onto the API.
func (s *Server) marathonTransition(w http.ResponseWriter, id string, fn func(string) (*models.MarathonState, error)) {
	state, err := fn(id)
	switch {
	case errors.Is(err, marathon.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "marathon not found")
	case errors.Is(err, marathon.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, codeInternal, "marathon transition failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"id": state.ID, "status": state.Status})
	}
}

func (s *Server) handleMarathonPause(w http.ResponseWriter, r *http.Request) {
	s.marathonTransition(w, r.PathValue("id"), s.marathons.Pause)
}

func (s *Server) handleMarathonResume(w http.ResponseWriter, r *http.Request) {
	s.marathonTransition(w, r.PathValue("id"), s.marathons.Resume)
}

func (s *Server) handleMarathonAbort(w http.ResponseWriter, r *http.Request) {
	s.marathonTransition(w, r.PathValue("id"), s.marathons.Abort)
}

type approvalDecideRequest struct {
	Decision string `json:"decision"`
	By       string `json:"by,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// handleApprovalDecide resolves a pending approval. Decisions arrive on
// their own endpoint so an approver does not have to hold a connection
// open while the marathon waits.
func (s *Server) handleApprovalDecide(w http.ResponseWriter, r *http.Request) {
	marathonID := r.PathValue("id")
	approvalID := r.PathValue("reqId")

	var req approvalDecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed request body")
		return
	}
	by := req.By
	if by == "" {
		if key := keyFrom(r); key != nil {
			by = key.Name
		}
	}

	var err error
	switch req.Decision {
	case "approve", string(models.ApprovalApproved):
		err = s.marathons.Approve(marathonID, approvalID, by)
	case "reject", string(models.ApprovalRejected):
		err = s.marathons.Reject(marathonID, approvalID, by, req.Reason)
	default:
		writeError(w, http.StatusBadRequest, codeBadRequest, `decision must be "approve" or "reject"`)
		return
	}
	switch {
	case errors.Is(err, marathon.ErrNotFound), errors.Is(err, marathon.ErrApprovalNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "approval not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, codeInternal, "record decision failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"approval_id": approvalID,
			"decision":    req.Decision,
			"decided_by":  by,
		})
	}
}
