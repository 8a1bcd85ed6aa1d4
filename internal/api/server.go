// Package api exposes the companion's local HTTP status and control API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/oritocare/companion/internal/agent"
	"github.com/oritocare/companion/internal/assistant"
	"github.com/oritocare/companion/internal/connectivity"
	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/discovery"
	"github.com/oritocare/companion/internal/logging"
	"github.com/oritocare/companion/internal/modulesession"
	"github.com/oritocare/companion/internal/storage"
)

// Server is the local HTTP API server. It binds to loopback only; the
// companion has no public surface.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	agent     *agent.Agent
	assistant *assistant.Assistant
	monitor   *connectivity.Monitor
	scanner   *discovery.Scanner
	session   *modulesession.Session
	slots     *storage.SlotStore

	log *logging.Logger
}

// Config for the server
type Config struct {
	Host      string
	Port      int
	Agent     *agent.Agent
	Assistant *assistant.Assistant
	Monitor   *connectivity.Monitor
	Scanner   *discovery.Scanner
	Session   *modulesession.Session
	Slots     *storage.SlotStore
}

// New creates the API server
func New(cfg Config) *Server {
	s := &Server{
		agent:     cfg.Agent,
		assistant: cfg.Assistant,
		monitor:   cfg.Monitor,
		scanner:   cfg.Scanner,
		session:   cfg.Session,
		slots:     cfg.Slots,
		log:       logging.Component("api"),
	}

	s.setupRouter()

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/module", s.handleModule)
		r.Post("/module/scan", s.handleScan)
		r.Post("/connectivity/check", s.handleConnectivityCheck)
		r.Post("/chat", s.handleChat)
		r.Get("/conversation", s.handleGetConversation)
		r.Delete("/conversation", s.handleResetConversation)
	})

	s.router = r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("API server starting on http://%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "orito-companion",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{}

	if s.monitor != nil {
		net := s.monitor.Status()
		status["network"] = map[string]interface{}{
			"connected":  net.Connected,
			"ping_ms":    net.PingTime.Milliseconds(),
			"checked_at": net.CheckedAt,
		}
	}
	if s.session != nil {
		status["module_session"] = string(s.session.State())
	}
	if s.assistant != nil {
		status["assistant"] = string(s.assistant.State())
	}
	if s.slots != nil {
		if stats, err := s.slots.ModuleStatsFor(time.Now().Format("2006-01-02")); err == nil {
			status["module_stats"] = stats
		}
	}

	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		s.respondError(w, http.StatusServiceUnavailable, "discovery not configured")
		return
	}
	desc := s.scanner.GetSavedModule()
	if desc == nil {
		s.respondError(w, http.StatusNotFound, "no module discovered yet")
		return
	}
	s.respondJSON(w, http.StatusOK, desc)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		s.respondError(w, http.StatusServiceUnavailable, "discovery not configured")
		return
	}

	var found []core.ModuleDescriptor
	err := s.scanner.ScanForAuraModule(r.Context(), nil, func(desc core.ModuleDescriptor) {
		found = append(found, desc)
	})
	switch {
	case err == core.ErrScanInProgress:
		s.respondError(w, http.StatusConflict, "a scan is already running")
		return
	case err == core.ErrModuleNotFound:
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"found": []core.ModuleDescriptor{}})
		return
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"found": found})
}

func (s *Server) handleConnectivityCheck(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.respondError(w, http.StatusServiceUnavailable, "monitor not configured")
		return
	}
	s.monitor.CheckNow()
	s.respondJSON(w, http.StatusOK, s.monitor.Status())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		s.respondError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}

	var req struct {
		Message string `json:"message"`
		Voice   bool   `json:"voice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	var reply string
	var err error
	if req.Voice {
		reply, err = s.agent.SendVoiceMessage(r.Context(), req.Message)
	} else {
		reply, err = s.agent.SendMessage(r.Context(), req.Message)
	}
	if err == core.ErrTurnInProgress {
		s.respondError(w, http.StatusTooManyRequests, "a turn is already in progress")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		s.respondError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.agent.History())
}

func (s *Server) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		s.respondError(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}
	s.agent.ResetConversation()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
