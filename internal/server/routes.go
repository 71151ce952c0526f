package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/tessera/internal/common"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// File routes
	mux.HandleFunc("/files/", s.handleFileRoutes)

	// Workflow routes
	mux.HandleFunc("/workflows/", s.handleWorkflowRoutes)

	// Job routes
	mux.HandleFunc("/jobs/", s.handleJobRoutes)

	// System routes
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/version", s.versionHandler)

	return mux
}

// handleFileRoutes routes /files/ requests
// POST /files/          - upload
// GET  /files/{id}      - metadata
func (s *Server) handleFileRoutes(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/files/" {
		RouteByMethod(w, r, MethodRouter{
			"POST": s.app.FileHandler.UploadHandler,
		})
		return
	}

	RouteByMethod(w, r, MethodRouter{
		"GET": s.app.FileHandler.GetFileHandler,
	})
}

// handleWorkflowRoutes routes /workflows/ requests
// POST /workflows/                - create
// GET  /workflows/{id}            - derived view
// GET  /workflows/{id}/jobs       - member jobs
// GET  /workflows/{id}/events     - SSE stream
func (s *Server) handleWorkflowRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/workflows/" {
		RouteByMethod(w, r, MethodRouter{
			"POST": s.app.WorkflowHandler.CreateWorkflowHandler,
		})
		return
	}

	switch {
	case strings.HasSuffix(path, "/jobs"):
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.WorkflowHandler.ListWorkflowJobsHandler,
		})
	case strings.HasSuffix(path, "/events"):
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.WorkflowHandler.WorkflowEventsHandler,
		})
	default:
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.WorkflowHandler.GetWorkflowHandler,
		})
	}
}

// handleJobRoutes routes /jobs/ requests
// POST /jobs/                       - create
// GET  /jobs/                       - list for user
// GET  /jobs/{id}                   - get
// POST /jobs/{id}/start             - enqueue
// POST /jobs/{id}/cancel            - cancel pending
// POST /jobs/{id}/retry             - reset to pending
// GET  /jobs/{id}/result            - manifest download
// GET  /jobs/{id}/preview           - preview PNG
// GET  /jobs/{id}/artifacts.zip     - artifact archive
// GET  /jobs/{id}/events            - SSE stream
// GET  /jobs/{id}/queue_status      - admission snapshot
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/jobs/" {
		RouteByMethod(w, r, MethodRouter{
			"GET":  s.app.JobHandler.ListJobsHandler,
			"POST": s.app.JobHandler.CreateJobHandler,
		})
		return
	}

	switch {
	case strings.HasSuffix(path, "/start"):
		RouteByMethod(w, r, MethodRouter{
			"POST": s.app.JobHandler.StartJobHandler,
		})
	case strings.HasSuffix(path, "/cancel"):
		RouteByMethod(w, r, MethodRouter{
			"POST": s.app.JobHandler.CancelJobHandler,
		})
	case strings.HasSuffix(path, "/retry"):
		RouteByMethod(w, r, MethodRouter{
			"POST": s.app.JobHandler.RetryJobHandler,
		})
	case strings.HasSuffix(path, "/result"):
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.JobHandler.GetResultHandler,
		})
	case strings.HasSuffix(path, "/preview"):
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.JobHandler.GetPreviewHandler,
		})
	case strings.HasSuffix(path, "/artifacts.zip"):
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.JobHandler.GetArtifactsHandler,
		})
	case strings.HasSuffix(path, "/events"):
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.JobHandler.JobEventsHandler,
		})
	case strings.HasSuffix(path, "/queue_status"):
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.JobHandler.QueueStatusHandler,
		})
	default:
		RouteByMethod(w, r, MethodRouter{
			"GET": s.app.JobHandler.GetJobHandler,
		})
	}
}

// healthHandler reports service liveness
// GET /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": common.GetVersion(),
	})
}

// versionHandler reports build information
// GET /version
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": common.Version,
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}
