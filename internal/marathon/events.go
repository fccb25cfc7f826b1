package marathon

import (
	"context"
	"time"
)

// Event names follow a dot-prefixed hierarchy so webhook subscribers can
// match on prefixes.
const (
	EventStarted            = "marathon.started"
	EventPaused             = "marathon.paused"
	EventResumed            = "marathon.resumed"
	EventCompleted          = "marathon.completed"
	EventFailed             = "marathon.failed"
	EventAborted            = "marathon.aborted"
	EventMilestoneStarted   = "marathon.milestone_started"
	EventMilestoneCompleted = "marathon.milestone_completed"
	EventMilestoneFailed    = "marathon.milestone_failed"
	EventApprovalRequested  = "marathon.approval_requested"
	EventApprovalDecided    = "marathon.approval_decided"
	EventCrashDetected      = "marathon.crash_detected"
)

// Event is one observable marathon occurrence, delivered to webhooks and
// logs.
type Event struct {
	Name       string         `json:"name"`
	MarathonID string         `json:"marathon_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// EventSink receives marathon events. Delivery must not block marathon
// progress; sinks queue or drop internally.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
