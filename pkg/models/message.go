package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// SessionType classifies how a session is used.
type SessionType string

const (
	// SessionMain is a long-lived user conversation.
	SessionMain SessionType = "main"
	// SessionSub is an isolated child conversation (e.g. one marathon milestone).
	SessionSub SessionType = "sub"
	// SessionEphemeral is a throwaway conversation that callers may discard.
	SessionEphemeral SessionType = "ephemeral"
)

// Message is one entry in a session transcript. Messages are append-only;
// only compaction rewrites the log, and then only by prepending a summary.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Thinking  string    `json:"thinking,omitempty"`
	PeerID    string    `json:"peer_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session identifies one conversation thread owned by an agent.
type Session struct {
	AgentID      string      `json:"agent_id"`
	Key          string      `json:"key"`
	Type         SessionType `json:"type"`
	Channel      string      `json:"channel,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	LastActiveAt time.Time   `json:"last_active_at"`
	MessageCount int         `json:"message_count"`
}

// SessionKey derives the deterministic session key for a peer, channel,
// and session type.
func SessionKey(peerID, channel string, typ SessionType) string {
	return peerID + ":" + channel + ":" + string(typ)
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the uniform outcome of a tool execution. Failures are
// expressed here rather than as Go errors so the model can observe them.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}
