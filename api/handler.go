// Package api exposes the coordinator's controller surface over HTTP:
// creating, assigning, querying, resetting and removing breakpoints,
// plus the predicate diagnostics feed.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/dataflow/breakpoint"
)

// Handler serves the breakpoint control API.
type Handler struct {
	coordinator *breakpoint.Coordinator
	logger      *slog.Logger
}

// NewHandler creates a Handler for the coordinator.
func NewHandler(coordinator *breakpoint.Coordinator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{coordinator: coordinator, logger: logger}
}

// RegisterRoutes registers the control API routes on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/breakpoints", h.handleList)
	mux.HandleFunc("POST /api/v1/breakpoints", h.handleCreate)
	mux.HandleFunc("GET /api/v1/breakpoints/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/v1/breakpoints/{id}", h.handleRemove)
	mux.HandleFunc("POST /api/v1/breakpoints/{id}/assign", h.handleAssign)
	mux.HandleFunc("POST /api/v1/breakpoints/{id}/reset", h.handleReset)
	mux.HandleFunc("GET /api/v1/breakpoints/{id}/report", h.handleReport)
	mux.HandleFunc("GET /api/v1/diagnostics", h.handleDiagnostics)
}

// handleList returns all tracked breakpoints.
func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.List())
}

// createRequest is the JSON body for creating a breakpoint.
type createRequest struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Expression string `json:"expression,omitempty"`
	Count      int64  `json:"count,omitempty"`
}

// handleCreate registers a new breakpoint.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	bp, err := h.coordinator.CreateBreakpoint(req.ID, breakpoint.Kind(req.Kind), breakpoint.Config{
		Expression: req.Expression,
		Count:      req.Count,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status, statusErr := h.coordinator.Status(bp.ID())
	if statusErr != nil {
		writeError(w, statusErr)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

// handleGet returns one breakpoint's status.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// assignRequest is the JSON body for assigning a breakpoint to a layer.
type assignRequest struct {
	Layer []string `json:"layer"`
}

// handleAssign partitions the breakpoint across the named workers.
func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Layer) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "layer must name at least one worker"})
		return
	}

	layer := make([]breakpoint.WorkerID, len(req.Layer))
	for i, name := range req.Layer {
		layer[i] = breakpoint.WorkerID(name)
	}

	covered, err := h.coordinator.Assign(r.Context(), r.PathValue("id"), layer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"covered": covered})
}

// handleReset re-arms the breakpoint across its covered workers.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.ResetBreakpoint(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleReport drains the breakpoint's accumulated faults.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	entries, err := h.coordinator.QueryAndClear(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"faults": entries})
}

// handleRemove deactivates the breakpoint on all covered workers and
// forgets it once every worker confirmed.
func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.RemoveBreakpoint(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleDiagnostics drains the predicate-failure diagnostics.
func (h *Handler) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	diags := h.coordinator.Diagnostics()
	if diags == nil {
		diags = []breakpoint.DiagnosticNotice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"diagnostics": diags})
}

// writeError maps protocol errors onto HTTP statuses: logic errors are
// the caller's (4xx); exhausted coordination is a gateway failure.
func writeError(w http.ResponseWriter, err error) {
	var assignErr *breakpoint.AssignmentError
	switch {
	case errors.Is(err, breakpoint.ErrUnknownBreakpoint):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, breakpoint.ErrInvalidConfig):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, breakpoint.ErrDuplicateBreakpoint), errors.Is(err, breakpoint.ErrCompleted):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &assignErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":      assignErr.Error(),
			"worker":     string(assignErr.Worker),
			"breakpoint": assignErr.BreakpointID,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
