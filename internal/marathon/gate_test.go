package marathon

import (
	"context"
	"testing"
	"time"

	"github.com/longhaul-ai/longhaul/pkg/models"
)

func TestGateApprove(t *testing.T) {
	g := NewGate(nil)
	done := make(chan *models.ApprovalRequest, 1)
	go func() {
		req, err := g.Request(context.Background(), "mar-1", "deploy", "deploy the thing", models.RiskHigh, nil, time.Minute)
		if err != nil {
			t.Errorf("Request: %v", err)
		}
		done <- req
	}()

	var pending *models.ApprovalRequest
	deadline := time.Now().Add(time.Second)
	for pending == nil && time.Now().Before(deadline) {
		pending = g.Pending("mar-1")
		time.Sleep(time.Millisecond)
	}
	if pending == nil {
		t.Fatal("request never became pending")
	}

	if _, applied := g.Decide(pending.ID, models.ApprovalApproved, "alice", ""); !applied {
		t.Fatal("Decide did not take effect")
	}
	req := <-done
	if req.Status != models.ApprovalApproved || req.DecidedBy != "alice" {
		t.Errorf("decided request = %+v", req)
	}
	if req.DecidedAt == nil {
		t.Error("DecidedAt not set")
	}
}

func TestGateTimeout(t *testing.T) {
	g := NewGate(nil)
	req, err := g.Request(context.Background(), "mar-1", "rm", "remove files", models.RiskHigh, nil, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.Status != models.ApprovalExpired {
		t.Errorf("Status = %s, want expired", req.Status)
	}
	if req.Reason != approvalTimeoutReason {
		t.Errorf("Reason = %q, want %q", req.Reason, approvalTimeoutReason)
	}
}

func TestGateDecideIdempotent(t *testing.T) {
	g := NewGate(nil)
	done := make(chan *models.ApprovalRequest, 1)
	go func() {
		req, _ := g.Request(context.Background(), "mar-1", "deploy", "", models.RiskMedium, nil, time.Minute)
		done <- req
	}()

	var pending *models.ApprovalRequest
	deadline := time.Now().Add(time.Second)
	for pending == nil && time.Now().Before(deadline) {
		pending = g.Pending("mar-1")
		time.Sleep(time.Millisecond)
	}
	if pending == nil {
		t.Fatal("request never became pending")
	}

	if _, applied := g.Decide(pending.ID, models.ApprovalApproved, "alice", ""); !applied {
		t.Fatal("first decide rejected")
	}
	req := <-done

	// Double-decide, including a contradictory one, is a no-op.
	if _, applied := g.Decide(pending.ID, models.ApprovalRejected, "bob", "changed my mind"); applied {
		t.Error("second decide took effect")
	}
	if req.Status != models.ApprovalApproved || req.DecidedBy != "alice" {
		t.Errorf("request mutated by double decide: %+v", req)
	}
}

func TestGateDecideUnknown(t *testing.T) {
	g := NewGate(nil)
	if _, applied := g.Decide("nope", models.ApprovalApproved, "alice", ""); applied {
		t.Error("decide on unknown request took effect")
	}
}

func TestGateCancelledContext(t *testing.T) {
	g := NewGate(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := g.Request(ctx, "mar-1", "x", "", models.RiskLow, nil, time.Minute); err == nil {
		t.Error("expected context error")
	}
}
