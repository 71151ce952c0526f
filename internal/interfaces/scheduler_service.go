package interfaces

import (
	"github.com/ternarybob/tessera/internal/models"
)

// SchedulerService admits pending jobs through the three composed
// gates (branch serial lock, per-user slot, global worker permit) and
// launches executor runs.
type SchedulerService interface {
	// Enqueue registers the job for execution and returns immediately.
	// Idempotent: a job with a live worker task is not enqueued twice.
	Enqueue(jobID string)

	// QueueStatus returns a best-effort snapshot of why a pending job
	// is not yet running, or models.ErrNotFound
	QueueStatus(jobID string) (*models.QueueStatus, error)

	// EvictIdleBranches drops branch-lock entries whose branch has no
	// non-terminal jobs. Returns the number of entries removed.
	EvictIdleBranches() int
}

// Executor runs one admitted job to a terminal state. Run returns only
// after the job has reached SUCCEEDED or FAILED.
type Executor interface {
	Run(jobID string) error
}
