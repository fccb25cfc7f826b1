package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type generateImageRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Count       int    `json:"count,omitempty"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "image generation is not configured")
		return
	}
	var req generateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "prompt is required")
		return
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > 4 {
		count = 4
	}
	images, err := s.images.Generate(r.Context(), req.Prompt, req.AspectRatio, count)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("image generation failed", "error", err)
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "image generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	skills := s.skills
	if skills == nil {
		skills = []Skill{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"skills": skills,
		"total":  len(skills),
	})
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SideEffect  string `json:"side_effect"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.agent.Registry().List(false)
	infos := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, toolInfo{
			Name:        t.Name,
			Description: t.Description,
			SideEffect:  string(t.SideEffect),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": infos,
		"total": len(infos),
		"mode":  s.agent.Mode(),
	})
}

type webhookCreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"`
}

func (s *Server) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed request body")
		return
	}
	hook, err := s.webhooks.Register(req.URL, req.Events)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	hooks := s.webhooks.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"webhooks": hooks,
		"total":    len(hooks),
	})
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	err := s.webhooks.Remove(r.PathValue("id"))
	if errors.Is(err, ErrWebhookNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "webhook not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "remove webhook failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": r.PathValue("id")})
}
