package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longhaul-ai/longhaul/internal/agent"
	"github.com/longhaul-ai/longhaul/internal/auth"
	"github.com/longhaul-ai/longhaul/internal/budget"
	"github.com/longhaul-ai/longhaul/internal/config"
	"github.com/longhaul-ai/longhaul/internal/marathon"
	"github.com/longhaul-ai/longhaul/internal/observability"
	"github.com/longhaul-ai/longhaul/internal/ratelimit"
	"github.com/longhaul-ai/longhaul/internal/sessions"
	"github.com/longhaul-ai/longhaul/pkg/models"
)

const apiPrefix = "/api/v1"

// GeneratedImage is one image produced for a generate request.
type GeneratedImage struct {
	URL      string `json:"url,omitempty"`
	Base64   string `json:"b64,omitempty"`
	MimeType string `json:"mime_type"`
}

// ImageGenerator produces images from prompts. Concrete backends live
// outside the core; a nil generator disables the endpoint.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, aspectRatio string, count int) ([]GeneratedImage, error)
}

// Skill is a documented capability grouping surfaced on the inventory
// endpoint.
type Skill struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools,omitempty"`
}

// Deps carries everything the control plane serves.
type Deps struct {
	Config     *config.Config
	Agent      *agent.Agent
	AgentID    string
	Sessions   sessions.Store
	Accountant *budget.Accountant
	Keys       *auth.KeyStore
	Marathons  *marathon.Manager
	Webhooks   *WebhookStore
	Images     ImageGenerator
	Skills     []Skill
	Metrics    *observability.Metrics
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
	Version    string
}

// Server is the HTTP control plane.
type Server struct {
	cfg        config.ServerConfig
	agent      *agent.Agent
	agentID    string
	sessions   sessions.Store
	accountant *budget.Accountant
	keys       *auth.KeyStore
	limiter    *ratelimit.Limiter
	marathons  *marathon.Manager
	webhooks   *WebhookStore
	images     ImageGenerator
	skills     []Skill
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	version    string

	httpServer *http.Server
}

// NewServer wires the control plane. The server does not start listening
// until Start.
func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:        deps.Config.Server,
		agent:      deps.Agent,
		agentID:    deps.AgentID,
		sessions:   deps.Sessions,
		accountant: deps.Accountant,
		keys:       deps.Keys,
		limiter:    ratelimit.New(),
		marathons:  deps.Marathons,
		webhooks:   deps.Webhooks,
		images:     deps.Images,
		skills:     deps.Skills,
		metrics:    deps.Metrics,
		gatherer:   deps.Gatherer,
		logger:     deps.Logger,
		version:    deps.Version,
	}
	return s
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET "+apiPrefix+"/health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleCatalog)
	mux.HandleFunc("GET "+apiPrefix+"/{$}", s.handleCatalog)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST "+apiPrefix+"/chat", s.secured(models.ScopeChat, false, s.handleChat))
	mux.HandleFunc("POST "+apiPrefix+"/chat/stream", s.secured(models.ScopeChatStream, true, s.handleChatStream))

	mux.HandleFunc("GET "+apiPrefix+"/sessions", s.secured(models.ScopeSessions, false, s.handleSessionList))
	mux.HandleFunc("GET "+apiPrefix+"/sessions/{key}", s.secured(models.ScopeSessions, false, s.handleSessionGet))
	mux.HandleFunc("DELETE "+apiPrefix+"/sessions/{key}", s.secured(models.ScopeSessions, false, s.handleSessionDelete))
	mux.HandleFunc("POST "+apiPrefix+"/memory/search", s.secured(models.ScopeMemory, false, s.handleMemorySearch))

	mux.HandleFunc("POST "+apiPrefix+"/marathon", s.secured(models.ScopeMarathon, false, s.handleMarathonStart))
	mux.HandleFunc("GET "+apiPrefix+"/marathon", s.secured(models.ScopeMarathonRead, false, s.handleMarathonList))
	mux.HandleFunc("GET "+apiPrefix+"/marathon/{id}", s.secured(models.ScopeMarathonRead, false, s.handleMarathonGet))
	mux.HandleFunc("POST "+apiPrefix+"/marathon/{id}/pause", s.secured(models.ScopeMarathon, false, s.handleMarathonPause))
	mux.HandleFunc("POST "+apiPrefix+"/marathon/{id}/resume", s.secured(models.ScopeMarathon, false, s.handleMarathonResume))
	mux.HandleFunc("POST "+apiPrefix+"/marathon/{id}/abort", s.secured(models.ScopeMarathon, false, s.handleMarathonAbort))
	mux.HandleFunc("POST "+apiPrefix+"/marathon/{id}/approvals/{reqId}", s.secured(models.ScopeMarathon, false, s.handleApprovalDecide))

	mux.HandleFunc("POST "+apiPrefix+"/generate/image", s.secured(models.ScopeGenerate, false, s.handleGenerateImage))
	mux.HandleFunc("GET "+apiPrefix+"/skills", s.secured(models.ScopeSkills, false, s.handleSkills))
	mux.HandleFunc("GET "+apiPrefix+"/tools", s.secured(models.ScopeTools, false, s.handleTools))
	mux.HandleFunc("GET "+apiPrefix+"/usage", s.secured(models.ScopeChat, false, s.handleUsage))

	mux.HandleFunc("POST "+apiPrefix+"/webhooks", s.secured(models.ScopeAdmin, false, s.handleWebhookCreate))
	mux.HandleFunc("GET "+apiPrefix+"/webhooks", s.secured(models.ScopeAdmin, false, s.handleWebhookList))
	mux.HandleFunc("DELETE "+apiPrefix+"/webhooks/{id}", s.secured(models.ScopeAdmin, false, s.handleWebhookDelete))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "unknown route")
	})

	return s.instrument(mux)
}

// Start begins serving and blocks until the listener fails or closes.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("control plane listening", "addr", addr)
	}
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by the configured grace
// period.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "longhaul",
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "longhaul",
		"version": s.version,
		"endpoints": []string{
			"GET  " + apiPrefix + "/health",
			"POST " + apiPrefix + "/chat",
			"POST " + apiPrefix + "/chat/stream",
			"GET  " + apiPrefix + "/sessions",
			"GET  " + apiPrefix + "/sessions/{key}",
			"DELETE " + apiPrefix + "/sessions/{key}",
			"POST " + apiPrefix + "/memory/search",
			"POST " + apiPrefix + "/marathon",
			"GET  " + apiPrefix + "/marathon",
			"GET  " + apiPrefix + "/marathon/{id}",
			"POST " + apiPrefix + "/marathon/{id}/pause",
			"POST " + apiPrefix + "/marathon/{id}/resume",
			"POST " + apiPrefix + "/marathon/{id}/abort",
			"POST " + apiPrefix + "/marathon/{id}/approvals/{reqId}",
			"POST " + apiPrefix + "/generate/image",
			"GET  " + apiPrefix + "/skills",
			"GET  " + apiPrefix + "/tools",
			"GET  " + apiPrefix + "/usage",
			"POST " + apiPrefix + "/webhooks",
			"GET  " + apiPrefix + "/webhooks",
			"DELETE " + apiPrefix + "/webhooks/{id}",
		},
	})
}
