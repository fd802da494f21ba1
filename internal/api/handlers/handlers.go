// Package handlers implements the HTTP handlers for the orchestration
// service. Handlers stay thin: decode, delegate, encode. All orchestration
// semantics live below the API layer.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fanforge/fanforge/orchestration/internal/coordinator"
	"github.com/fanforge/fanforge/orchestration/internal/orchestrator"
	"github.com/fanforge/fanforge/orchestration/internal/router"
	"github.com/fanforge/fanforge/orchestration/internal/store"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Orchestrator *orchestrator.Hybrid
	Coordinator  *coordinator.Coordinator
	Version      string
}

// New creates a Handlers instance.
func New(orch *orchestrator.Hybrid, coord *coordinator.Coordinator, version string) *Handlers {
	return &Handlers{Orchestrator: orch, Coordinator: coord, Version: version}
}

// ── Workflows ────────────────────────────────────────────────

// ExecuteWorkflow runs one workflow synchronously and returns its result.
// The run body gets a context detached from the request, so a client
// disconnect cannot kill an in-flight run.
func (h *Handlers) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var req models.WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	runCtx := context.WithoutCancel(r.Context())
	result, err := h.Orchestrator.ExecuteWorkflow(runCtx, req.UserID, req)
	if err != nil {
		var cfg *router.ConfigurationError
		if errors.As(err, &cfg) {
			respondError(w, http.StatusBadRequest, cfg.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	wf, err := h.Orchestrator.GetWorkflow(r.Context(), id)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			respondError(w, http.StatusNotFound, nf.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	workflows, err := h.Orchestrator.ListWorkflows(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if workflows == nil {
		workflows = []models.Workflow{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// ── Pipelines ────────────────────────────────────────────────

type pipelineRequest struct {
	UserID string                `json:"user_id"`
	Type   string                `json:"type"`
	Steps  []models.PipelineStep `json:"steps"`
}

func (h *Handlers) RunPipeline(w http.ResponseWriter, r *http.Request) {
	var req pipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if len(req.Steps) == 0 {
		respondError(w, http.StatusBadRequest, "at least one step is required")
		return
	}

	runCtx := context.WithoutCancel(r.Context())
	p, err := h.Coordinator.Run(runCtx, req.UserID, req.Type, req.Steps)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipelineID")
	p, err := h.Coordinator.GetPipeline(r.Context(), id)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			respondError(w, http.StatusNotFound, nf.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ── Health ───────────────────────────────────────────────────

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "fanforge-orchestration",
		"version": h.Version,
	})
}

// HealthServices probes every dependency independently. Degraded is still
// HTTP 200; orchestration keeps serving with whatever providers remain.
func (h *Handlers) HealthServices(w http.ResponseWriter, r *http.Request) {
	services := h.Orchestrator.HealthCheck(r.Context())

	status := "healthy"
	for _, ok := range services {
		if !ok {
			status = "degraded"
			break
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
