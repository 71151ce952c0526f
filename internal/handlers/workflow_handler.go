package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// WorkflowHandler handles workflow API requests
type WorkflowHandler struct {
	workflows interfaces.WorkflowStore
	jobs      interfaces.JobStore
	publisher interfaces.EventPublisher
	logger    arbor.ILogger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflows interfaces.WorkflowStore, jobs interfaces.JobStore, publisher interfaces.EventPublisher, logger arbor.ILogger) *WorkflowHandler {
	return &WorkflowHandler{
		workflows: workflows,
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
	}
}

// createWorkflowRequest is the POST /workflows/ body
type createWorkflowRequest struct {
	Name string `json:"name" validate:"max=256"`
}

// CreateWorkflowHandler creates a workflow for the calling user
// POST /workflows/
func (h *WorkflowHandler) CreateWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createWorkflowRequest
	if r.Body != nil {
		defer r.Body.Close()
		// An empty body is a nameless workflow
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wf, err := h.workflows.Create(userID, req.Name)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create workflow")
		writeError(w, http.StatusInternalServerError, "Failed to create workflow")
		return
	}

	info, err := h.workflows.GetInfo(wf.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load workflow")
		return
	}

	h.logger.Info().Str("workflow_id", wf.ID).Str("user_id", userID).Msg("Workflow created")
	writeJSON(w, http.StatusOK, map[string]interface{}{"workflow": info})
}

// GetWorkflowHandler returns the derived workflow view
// GET /workflows/{workflow_id}
func (h *WorkflowHandler) GetWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	workflowID := pathSegment(r, 1)
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "Workflow ID is required")
		return
	}

	if !h.workflows.OwnedBy(workflowID, userID) {
		writeError(w, http.StatusNotFound, "Workflow not found")
		return
	}

	info, err := h.workflows.GetInfo(workflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Workflow not found")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// ListWorkflowJobsHandler returns all jobs in a workflow
// GET /workflows/{workflow_id}/jobs
func (h *WorkflowHandler) ListWorkflowJobsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	workflowID := pathSegment(r, 1)
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "Workflow ID is required")
		return
	}

	if !h.workflows.OwnedBy(workflowID, userID) {
		writeError(w, http.StatusNotFound, "Workflow not found")
		return
	}

	jobs, err := h.jobs.ListForWorkflow(workflowID)
	if err != nil {
		h.logger.Error().Err(err).Str("workflow_id", workflowID).Msg("Failed to list workflow jobs")
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// WorkflowEventsHandler streams workflow state changes over SSE
// GET /workflows/{workflow_id}/events?user_id=...
func (h *WorkflowHandler) WorkflowEventsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := streamUserID(w, r)
	if !ok {
		return
	}

	workflowID := pathSegment(r, 1)
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "Workflow ID is required")
		return
	}

	stream, err := h.publisher.WatchWorkflow(r.Context(), workflowID, userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Workflow not found")
		return
	}

	setSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	for event := range stream {
		if err := sseSend(w, flusher, event); err != nil {
			return
		}
	}
}
