package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/longhaul-ai/longhaul/internal/agent"
	"github.com/longhaul-ai/longhaul/internal/budget"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

type chatRequest struct {
	Message string `json:"message"`
	// Session names the conversation. It doubles as the peer identifier in
	// the derived session key.
	Session         string `json:"session"`
	PeerID          string `json:"peer_id"`
	Channel         string `json:"channel"`
	SessionType     string `json:"session_type"`
	ThinkingLevel   string `json:"thinking_level"`
	RequireApproval bool   `json:"require_approval"`
}

func (c *chatRequest) validate() error {
	if strings.TrimSpace(c.Message) == "" {
		return errors.New("message is required")
	}
	if c.PeerID == "" && c.Session == "" {
		return errors.New("session is required")
	}
	return nil
}

func (c *chatRequest) toAgent() agent.ChatRequest {
	peer := c.PeerID
	if peer == "" {
		peer = c.Session
	}
	channel := c.Channel
	if channel == "" {
		channel = "http"
	}
	typ := models.SessionType(c.SessionType)
	switch typ {
	case models.SessionMain, models.SessionSub, models.SessionEphemeral:
	default:
		typ = models.SessionMain
	}
	return agent.ChatRequest{
		Message:         c.Message,
		PeerID:          peer,
		Channel:         channel,
		SessionType:     typ,
		ThinkingLevel:   agent.ThinkingLevel(c.ThinkingLevel),
		RequireApproval: c.RequireApproval,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletion struct {
	ID          string              `json:"id"`
	Object      string              `json:"object"`
	Created     int64               `json:"created"`
	Message     chatMessage         `json:"message"`
	Thinking    string              `json:"thinking,omitempty"`
	ToolResults []models.ToolResult `json:"tool_calls,omitempty"`
	SessionKey  string              `json:"session_key"`
	Compacted   bool                `json:"compacted,omitempty"`
	Usage       budget.Usage        `json:"usage"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	areq := req.toAgent()
	sessionKey := models.SessionKey(areq.PeerID, areq.Channel, areq.SessionType)
	before := s.accountant.UsageFor(sessionKey)

	resp, err := s.agent.Chat(r.Context(), areq)
	if err != nil {
		s.writeChatError(w, err)
		return
	}

	usage := s.accountant.UsageFor(resp.SessionKey)
	s.recordKeyTokens(r, usage.SessionTokens-before.SessionTokens)

	writeJSON(w, http.StatusOK, chatCompletion{
		ID:          "chat-" + uuid.NewString(),
		Object:      "chat.completion",
		Created:     time.Now().Unix(),
		Message:     chatMessage{Role: string(models.RoleModel), Content: resp.Text},
		Thinking:    resp.Thinking,
		ToolResults: resp.ToolResults,
		SessionKey:  resp.SessionKey,
		Compacted:   resp.Compacted,
		Usage:       usage,
	})
}

// chatChunk is the wire shape of one SSE event. Internal stream events
// are mapped into it at this edge; clients never see models.StreamEvent.
type chatChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Type    string `json:"type"`
	Content any    `json:"content,omitempty"`
}

func chunkFor(streamID string, ev models.StreamEvent) chatChunk {
	chunk := chatChunk{ID: streamID, Object: "chat.chunk", Type: string(ev.Type)}
	switch ev.Type {
	case models.EventText:
		chunk.Content = ev.Text
	case models.EventThinking:
		chunk.Content = ev.Thinking
	case models.EventToolCall:
		chunk.Content = ev.ToolCall
	case models.EventToolResult:
		chunk.Content = ev.ToolResult
	case models.EventError:
		chunk.Content = ev.Err
	}
	return chunk
}

// handleChatStream emits the turn as Server-Sent Events, one data line per
// chat.chunk, terminated by a [DONE] sentinel.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	areq := req.toAgent()
	sessionKey := models.SessionKey(areq.PeerID, areq.Channel, areq.SessionType)
	before := s.accountant.UsageFor(sessionKey)
	streamID := "chat-" + uuid.NewString()

	for ev := range s.agent.ChatStream(r.Context(), areq) {
		payload, err := json.Marshal(chunkFor(streamID, ev))
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client went away; the loop drains on context cancellation.
			return
		}
		flusher.Flush()
		if r.Context().Err() != nil {
			return
		}
	}

	after := s.accountant.UsageFor(sessionKey)
	s.recordKeyTokens(r, after.SessionTokens-before.SessionTokens)

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, budget.ErrBudgetExceeded):
		writeError(w, http.StatusBadRequest, codeBudgetExceeded, err.Error())
	default:
		if s.logger != nil {
			s.logger.Error("chat turn failed", "error", err)
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "chat turn failed")
	}
}

func (s *Server) recordKeyTokens(r *http.Request, tokens int64) {
	if tokens <= 0 {
		return
	}
	if key := keyFrom(r); key != nil {
		s.keys.RecordTokens(key.ID, tokens)
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	key := keyFrom(r)
	dayTokens, dayCost := int64(0), 0.0
	if s.accountant != nil {
		u := s.accountant.UsageFor("")
		dayTokens, dayCost = u.DayTokens, u.DayCostUsd
	}
	resp := map[string]any{
		"day_tokens":   dayTokens,
		"day_cost_usd": dayCost,
	}
	if s.accountant != nil {
		resp["budget"] = s.accountant.Budget()
	}
	if key != nil {
		resp["key"] = map[string]any{
			"id":             key.ID,
			"name":           key.Name,
			"rate_limit":     key.RateLimit,
			"total_requests": key.Usage.TotalRequests,
			"total_tokens":   key.Usage.TotalTokens,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
