package handlers

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"github.com/ternarybob/tessera/internal/services/executor"
)

// JobHandler handles job API requests
type JobHandler struct {
	jobs      interfaces.JobStore
	workflows interfaces.WorkflowStore
	files     interfaces.FileService
	scheduler interfaces.SchedulerService
	publisher interfaces.EventPublisher
	logger    arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs interfaces.JobStore, workflows interfaces.WorkflowStore, files interfaces.FileService, scheduler interfaces.SchedulerService, publisher interfaces.EventPublisher, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:      jobs,
		workflows: workflows,
		files:     files,
		scheduler: scheduler,
		publisher: publisher,
		logger:    logger,
	}
}

// createJobRequest is the POST /jobs/ body
type createJobRequest struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
	FileID     string `json:"file_id" validate:"required"`
	JobType    string `json:"job_type" validate:"required"`
	Branch     string `json:"branch" validate:"max=256"`
}

// CreateJobHandler registers a new PENDING job
// POST /jobs/
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobType, err := models.ParseJobType(req.JobType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Ownership failures are indistinguishable from absence
	if !h.workflows.OwnedBy(req.WorkflowID, userID) {
		writeError(w, http.StatusNotFound, "Workflow not found")
		return
	}
	if !h.files.OwnedBy(req.FileID, userID) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	job, err := h.jobs.Create(req.WorkflowID, req.Branch, userID, req.FileID, jobType)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create job")
		writeError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	h.logger.Info().
		Str("job_id", job.ID).
		Str("workflow_id", job.WorkflowID).
		Str("job_type", string(job.Type)).
		Str("branch", job.EffectiveBranch()).
		Msg("Job created")

	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

// ListJobsHandler returns all jobs owned by the calling user
// GET /jobs/
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	jobs, err := h.jobs.ListForUser(userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list jobs")
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// GetJobHandler returns a single job
// GET /jobs/{job_id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	job, ok := h.ownedJob(w, r, userID)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// StartJobHandler enqueues a pending job for execution
// POST /jobs/{job_id}/start
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	job, ok := h.ownedJob(w, r, userID)
	if !ok {
		return
	}
	if job.State != models.JobStatePending {
		writeError(w, http.StatusConflict, "Job is not PENDING")
		return
	}

	h.scheduler.Enqueue(job.ID)
	h.logger.Info().Str("job_id", job.ID).Msg("Job enqueued")
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// CancelJobHandler cancels a pending job. Running jobs cannot be
// canceled; the executor runs them to a terminal state.
// POST /jobs/{job_id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	job, ok := h.ownedJob(w, r, userID)
	if !ok {
		return
	}
	if job.State != models.JobStatePending {
		writeError(w, http.StatusConflict, "Job is not PENDING")
		return
	}

	result, err := h.jobs.CancelIfPending(job.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if result.State != models.JobStateCanceled {
		// Lost the race against admission
		writeError(w, http.StatusConflict, "Job is not PENDING")
		return
	}

	h.logger.Info().Str("job_id", job.ID).Msg("Job canceled")
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": result})
}

// RetryJobHandler resets a non-running job back to PENDING
// POST /jobs/{job_id}/retry
func (h *JobHandler) RetryJobHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	job, ok := h.ownedJob(w, r, userID)
	if !ok {
		return
	}

	result, err := h.jobs.ResetForRetry(job.ID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			writeError(w, http.StatusConflict, "Job is RUNNING")
			return
		}
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	h.logger.Info().Str("job_id", job.ID).Msg("Job reset for retry")
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": result})
}

// GetResultHandler downloads the manifest of a succeeded job
// GET /jobs/{job_id}/result
func (h *JobHandler) GetResultHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	job, ok := h.ownedJob(w, r, userID)
	if !ok {
		return
	}
	if job.State != models.JobStateSucceeded || job.ResultPath == "" {
		writeError(w, http.StatusNotFound, "Result not available")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=manifest.json")
	http.ServeFile(w, r, job.ResultPath)
}

// GetPreviewHandler serves the composited preview PNG
// GET /jobs/{job_id}/preview
func (h *JobHandler) GetPreviewHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	job, ok := h.ownedJob(w, r, userID)
	if !ok {
		return
	}

	manifest, ok := h.loadManifest(w, job)
	if !ok {
		return
	}
	if manifest.Preview == "" {
		writeError(w, http.StatusNotFound, "Preview not available")
		return
	}
	if _, err := os.Stat(manifest.Preview); err != nil {
		writeError(w, http.StatusNotFound, "Preview not available")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, manifest.Preview)
}

// GetArtifactsHandler builds and serves a zip of all job artifacts
// GET /jobs/{job_id}/artifacts.zip
func (h *JobHandler) GetArtifactsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	job, ok := h.ownedJob(w, r, userID)
	if !ok {
		return
	}

	manifest, ok := h.loadManifest(w, job)
	if !ok {
		return
	}

	jobDir, err := h.files.JobDir(job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve job directory")
		return
	}

	zipPath := filepath.Join(jobDir, "artifacts.zip")
	if err := buildArtifactsZip(zipPath, manifest); err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to build artifacts zip")
		writeError(w, http.StatusInternalServerError, "Failed to build artifacts zip")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=artifacts.zip")
	http.ServeFile(w, r, zipPath)
}

// JobEventsHandler streams job state changes over SSE
// GET /jobs/{job_id}/events?user_id=...
func (h *JobHandler) JobEventsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := streamUserID(w, r)
	if !ok {
		return
	}

	jobID := pathSegment(r, 1)
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	stream, err := h.publisher.WatchJob(r.Context(), jobID, userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
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

// QueueStatusHandler reports why a pending job is not yet running
// GET /jobs/{job_id}/queue_status
func (h *JobHandler) QueueStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	job, ok := h.ownedJob(w, r, userID)
	if !ok {
		return
	}

	status, err := h.scheduler.QueueStatus(job.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ownedJob resolves the path job ID under the caller's ownership.
// Jobs owned by other users are reported as absent, never forbidden.
func (h *JobHandler) ownedJob(w http.ResponseWriter, r *http.Request, userID string) (*models.Job, bool) {
	jobID := pathSegment(r, 1)
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Job ID is required")
		return nil, false
	}

	job, err := h.jobs.Get(jobID)
	if err != nil || job.UserID != userID {
		writeError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	return job, true
}

// loadManifest reads the manifest of a succeeded job, or 404s
func (h *JobHandler) loadManifest(w http.ResponseWriter, job *models.Job) (*executor.Manifest, bool) {
	if job.State != models.JobStateSucceeded || job.ResultPath == "" {
		writeError(w, http.StatusNotFound, "Result not available")
		return nil, false
	}
	manifest, err := executor.ReadManifest(job.ResultPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "Result not available")
		return nil, false
	}
	return manifest, true
}

// buildArtifactsZip packs every mask artifact plus the preview into a
// single archive, rebuilt on every request
func buildArtifactsZip(zipPath string, manifest *executor.Manifest) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	paths := make([]string, 0, len(manifest.Artifacts)+1)
	paths = append(paths, manifest.Artifacts...)
	if manifest.Preview != "" {
		paths = append(paths, manifest.Preview)
	}

	for _, path := range paths {
		if err := addZipEntry(zw, path); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

// addZipEntry copies one file into the archive under its base name
func addZipEntry(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}
