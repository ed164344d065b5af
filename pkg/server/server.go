// Package server exposes the management API: agent CRUD, the approval
// inbox, chat, decision history, and operational toggles.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/castellan/castellan/pkg/agent"
	"github.com/castellan/castellan/pkg/approval"
	"github.com/castellan/castellan/pkg/config"
	"github.com/castellan/castellan/pkg/decisionlog"
	"github.com/castellan/castellan/pkg/metrics"
	"github.com/castellan/castellan/pkg/orchestrator"
	"github.com/castellan/castellan/pkg/tools"
)

// Deps are the runtime components the API surfaces. BusConnected reports
// device-bus liveness for the status endpoint.
type Deps struct {
	Config       config.ServerConfig
	AgentStore   *config.AgentStore
	Agents       *agent.Manager
	Approvals    *approval.Queue
	Orchestrator *orchestrator.Orchestrator
	Tools        *tools.Registry
	DecisionLog  *decisionlog.Log
	BusConnected func() bool
}

type Server struct {
	deps Deps
	http *http.Server
}

func New(deps Deps) *Server {
	s := &Server{deps: deps}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", deps.Config.Host, deps.Config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the router. Exposed separately for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Put("/dry-run", s.handleDryRun)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleCreateAgent)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAgent)
				r.Patch("/", s.handlePatchAgent)
				r.Delete("/", s.handleDeleteAgent)
				r.Get("/decisions", s.handleAgentDecisions)
			})
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", s.handlePendingApprovals)
			r.Get("/history", s.handleApprovalHistory)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/reject", s.handleReject)
		})

		r.Get("/decisions/{agent}/latest", s.handleLatestDecision)
		r.Post("/chat", s.handleChat)
	})

	return r
}

// Run serves until ctx is cancelled, then drains with a grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
