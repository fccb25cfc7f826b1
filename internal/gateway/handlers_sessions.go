package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/longhaul-ai/longhaul/internal/sessions"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context(), s.agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "list sessions failed")
		return
	}
	summaries := make([]map[string]any, 0, len(list))
	for _, sess := range list {
		summaries = append(summaries, map[string]any{
			"key":         sess.Key,
			"type":        sess.Type,
			"channel":     sess.Channel,
			"messages":    sess.MessageCount,
			"last_active": sess.LastActiveAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"total":    len(summaries),
	})
}

// resolveSessionKey accepts either a full session key or the bare session
// name used on POST /chat, which maps to the default http main session.
func (s *Server) resolveSessionKey(r *http.Request, name string) (*models.Session, string, error) {
	sess, err := s.sessions.Get(r.Context(), s.agentID, name)
	if err == nil {
		return sess, name, nil
	}
	if !errors.Is(err, sessions.ErrNotFound) || strings.Contains(name, ":") {
		return nil, "", err
	}
	key := models.SessionKey(name, "http", models.SessionMain)
	sess, err = s.sessions.Get(r.Context(), s.agentID, key)
	return sess, key, err
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, key, err := s.resolveSessionKey(r, r.PathValue("key"))
	if errors.Is(err, sessions.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "load session failed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	history, err := s.sessions.History(r.Context(), s.agentID, key, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "load history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  sess,
		"messages": history,
		"total":    sess.MessageCount,
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	_, key, err := s.resolveSessionKey(r, r.PathValue("key"))
	if err == nil {
		err = s.sessions.Delete(r.Context(), s.agentID, key)
	}
	if errors.Is(err, sessions.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "delete session failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "session": key})
}

type memorySearchRequest struct {
	Query string `json:"query"`
	// SessionKey restricts the search to one transcript when set.
	SessionKey string `json:"session_key,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type memoryHit struct {
	SessionKey string         `json:"session_key"`
	Message    models.Message `json:"message"`
}

// handleMemorySearch scans session transcripts for a case-insensitive
// substring match. Recall over stored conversations, not semantic search.
func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	var req memorySearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed request body")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "query is required")
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var keys []string
	if req.SessionKey != "" {
		keys = []string{req.SessionKey}
	} else {
		list, err := s.sessions.List(r.Context(), s.agentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternal, "list sessions failed")
			return
		}
		for _, sess := range list {
			keys = append(keys, sess.Key)
		}
	}

	needle := strings.ToLower(query)
	hits := []memoryHit{}
	for _, key := range keys {
		history, err := s.sessions.History(r.Context(), s.agentID, key, 0)
		if err != nil {
			continue
		}
		// Newest matches first within a session.
		for i := len(history) - 1; i >= 0 && len(hits) < limit; i-- {
			if strings.Contains(strings.ToLower(history[i].Content), needle) {
				hits = append(hits, memoryHit{SessionKey: key, Message: history[i]})
			}
		}
		if len(hits) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": hits,
		"total":   len(hits),
	})
}
