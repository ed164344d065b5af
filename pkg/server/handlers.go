package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/castellan/castellan/pkg/config"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type agentStatus struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	Model        string    `json:"model"`
	LastDecision time.Time `json:"last_decision,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	agents := make([]agentStatus, 0)
	for _, inst := range s.deps.Agents.Instances() {
		cfg := inst.Config()
		agents = append(agents, agentStatus{
			ID:           inst.ID(),
			Name:         cfg.Name,
			Status:       string(inst.Status()),
			Model:        cfg.Model,
			LastDecision: inst.LastDecision(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bus_connected": s.deps.BusConnected(),
		"dry_run":       s.deps.Tools.DryRun(),
		"agents":        agents,
		"tasks":         s.deps.Orchestrator.Tasks(),
	})
}

func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}
	s.deps.Tools.SetDryRun(*body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"dry_run": s.deps.Tools.DryRun()})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.deps.AgentStore.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load agents: %v", err)
		return
	}
	if agents == nil {
		agents = []config.AgentConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, ok := s.deps.Agents.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent '%s' not found", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":  inst.Config(),
		"status": string(inst.Status()),
	})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var cfg config.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent config: %v", err)
		return
	}
	if err := s.deps.AgentStore.Save(cfg); err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "already exists") {
			status = http.StatusConflict
		}
		writeError(w, status, "%v", err)
		return
	}
	s.reconcile(w)
	writeJSON(w, http.StatusCreated, map[string]any{"id": cfg.ID})
}

func (s *Server) handlePatchAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch config.AgentPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patch: %v", err)
		return
	}
	merged, err := s.deps.AgentStore.Patch(id, patch)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		writeError(w, status, "%v", err)
		return
	}
	s.reconcile(w)
	writeJSON(w, http.StatusOK, map[string]any{"agent": merged})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.AgentStore.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}
	s.reconcile(w)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// reconcile pushes the persisted agent set into the manager. The file
// watcher would catch up anyway; doing it inline makes the API read-after-
// write consistent.
func (s *Server) reconcile(w http.ResponseWriter) {
	agents, err := s.deps.AgentStore.Load()
	if err != nil {
		return
	}
	s.deps.Agents.Apply(agents)
}

func (s *Server) handleAgentDecisions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 10
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.deps.DecisionLog.Recent(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read decisions: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": entries})
}

func (s *Server) handleLatestDecision(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent")
	entry, err := s.deps.DecisionLog.Latest(agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read decisions: %v", err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "no decisions recorded for '%s'", agentID)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.deps.Approvals.Pending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list approvals: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *Server) handleApprovalHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	history, err := s.deps.Approvals.History(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read history: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, false)
}

func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	id := chi.URLParam(r, "id")
	var body struct {
		Resolver string `json:"resolver"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	var (
		ok  bool
		err error
	)
	if approve {
		ok, err = s.deps.Approvals.Approve(id, body.Resolver)
	} else {
		ok, err = s.deps.Approvals.Reject(id, body.Resolver)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "request '%s' is not pending", id)
		return
	}
	req, err := s.deps.Approvals.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": req})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"message\": string}")
		return
	}
	reply, err := s.deps.Orchestrator.Chat(r.Context(), body.Message)
	if err != nil {
		writeError(w, http.StatusBadGateway, "chat failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
