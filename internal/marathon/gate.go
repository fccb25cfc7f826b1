package marathon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

// DefaultApprovalTimeout bounds how long a request may stay pending.
const DefaultApprovalTimeout = 24 * time.Hour

// approvalTimeoutReason is recorded when a request expires undecided.
const approvalTimeoutReason = "approval_timeout"

type gateDecision struct {
	status models.ApprovalDecision
	who    string
	reason string
}

// Gate coordinates blocking approval requests with out-of-band decisions.
// The waiter blocks cooperatively; deciders arrive via HTTP long after the
// request was made. One Gate serves every marathon in the process.
type Gate struct {
	mu       sync.Mutex
	waiters  map[string]chan gateDecision
	requests map[string]*models.ApprovalRequest
	// onChange is called after a request is created or decided so the owner
	// can persist it. May be nil.
	onChange func(req *models.ApprovalRequest)
	now      func() time.Time
}

// NewGate creates an approval gate. onChange may be nil.
func NewGate(onChange func(req *models.ApprovalRequest)) *Gate {
	return &Gate{
		waiters:  make(map[string]chan gateDecision),
		requests: make(map[string]*models.ApprovalRequest),
		onChange: onChange,
		now:      time.Now,
	}
}

// Request creates a pending approval and blocks until it is decided, the
// timeout elapses (status expired), or ctx is cancelled. The decided request
// is returned in all non-error cases.
func (g *Gate) Request(ctx context.Context, marathonID, action, description string, risk models.ApprovalRisk, params map[string]any, timeout time.Duration) (*models.ApprovalRequest, error) {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	req := &models.ApprovalRequest{
		ID:          uuid.NewString(),
		MarathonID:  marathonID,
		Action:      action,
		Description: description,
		Risk:        risk,
		Params:      params,
		Timestamp:   g.now(),
		Status:      models.ApprovalPending,
	}
	ch := make(chan gateDecision, 1)

	g.mu.Lock()
	g.requests[req.ID] = req
	g.waiters[req.ID] = ch
	g.mu.Unlock()
	g.notify(req)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		g.mu.Lock()
		req.Status = d.status
		req.DecidedBy = d.who
		req.Reason = d.reason
		now := g.now()
		req.DecidedAt = &now
		delete(g.waiters, req.ID)
		g.mu.Unlock()
		g.notify(req)
		return req, nil
	case <-timer.C:
		g.mu.Lock()
		req.Status = models.ApprovalExpired
		req.Reason = approvalTimeoutReason
		now := g.now()
		req.DecidedAt = &now
		delete(g.waiters, req.ID)
		g.mu.Unlock()
		g.notify(req)
		return req, nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.waiters, req.ID)
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Decide resolves a pending request. A decision on an already-decided or
// unknown request is a no-op; the second return reports whether this call
// took effect.
func (g *Gate) Decide(approvalID string, status models.ApprovalDecision, who, reason string) (*models.ApprovalRequest, bool) {
	if status != models.ApprovalApproved && status != models.ApprovalRejected {
		return nil, false
	}
	g.mu.Lock()
	req, ok := g.requests[approvalID]
	if !ok || req.Status != models.ApprovalPending {
		g.mu.Unlock()
		return req, false
	}
	ch, waiting := g.waiters[approvalID]
	g.mu.Unlock()

	if waiting {
		ch <- gateDecision{status: status, who: who, reason: reason}
	}
	return req, true
}

// Get returns a request by id.
func (g *Gate) Get(approvalID string) (*models.ApprovalRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.requests[approvalID]
	return req, ok
}

// Pending returns the outstanding request for a marathon, if any. The
// executor serializes approvals, so at most one can be pending.
func (g *Gate) Pending(marathonID string) *models.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, req := range g.requests {
		if req.MarathonID == marathonID && req.Status == models.ApprovalPending {
			return req
		}
	}
	return nil
}

func (g *Gate) notify(req *models.ApprovalRequest) {
	if g.onChange != nil {
		g.onChange(req)
	}
}
