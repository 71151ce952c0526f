package interfaces

import (
	"github.com/ternarybob/tessera/internal/models"
)

// JobStore is a thread-safe mapping from job ID to job record. All
// mutations are atomic with respect to concurrent reads; observers
// never see partial writes. Reads return copies, never aliases into
// store-owned state.
type JobStore interface {
	// Create inserts a fresh PENDING job with zeroed progress
	Create(workflowID, branch, userID, fileID string, jobType models.JobType) (*models.Job, error)

	// Get returns a snapshot of the job, or models.ErrNotFound
	Get(jobID string) (*models.Job, error)

	// ListForUser returns snapshots of all jobs owned by the user
	ListForUser(userID string) ([]*models.Job, error)

	// ListForWorkflow returns snapshots of all jobs in the workflow
	ListForWorkflow(workflowID string) ([]*models.Job, error)

	// ListAll returns snapshots of every job (scheduler introspection)
	ListAll() ([]*models.Job, error)

	// UpdateState transitions the job to newState
	UpdateState(jobID string, newState models.JobState) error

	// SetProgress records tile progress; written on every tile so
	// observers see monotonic progress
	SetProgress(jobID string, progress float64, tilesProcessed, tilesTotal int) error

	// SetResultPath points the job at its manifest or error artifact
	SetResultPath(jobID, path string) error

	// CancelIfPending sets CANCELED iff the job is PENDING, otherwise
	// leaves it untouched. Returns the resulting record either way.
	CancelIfPending(jobID string) (*models.Job, error)

	// ResetForRetry returns a terminal job to PENDING with cleared
	// progress and result path. Fails with models.ErrInvalidState when
	// the job is RUNNING. Tile totals are preserved.
	ResetForRetry(jobID string) (*models.Job, error)
}

// WorkflowStore maps workflow IDs to their stored identity and derives
// the aggregation view from member jobs.
type WorkflowStore interface {
	Create(userID, name string) (*models.Workflow, error)

	// Get returns a snapshot of the workflow, or models.ErrNotFound
	Get(workflowID string) (*models.Workflow, error)

	// OwnedBy reports whether the workflow exists and belongs to the user
	OwnedBy(workflowID, userID string) bool

	// GetInfo derives state and percent complete from a consistent
	// snapshot of the member jobs
	GetInfo(workflowID string) (*models.WorkflowInfo, error)
}

// StorageManager provides access to all storage backends
type StorageManager interface {
	JobStore() JobStore
	WorkflowStore() WorkflowStore
	Close() error
}
