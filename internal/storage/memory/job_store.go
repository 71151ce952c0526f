package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// JobStore is the in-memory reference implementation. A single mutex
// serialises every mutation so readers never observe a partial write
// (e.g. SUCCEEDED with an empty result path).
type JobStore struct {
	mu     sync.RWMutex
	jobs   map[string]*models.Job
	logger arbor.ILogger
}

// NewJobStore creates an empty in-memory job store
func NewJobStore(logger arbor.ILogger) interfaces.JobStore {
	return &JobStore{
		jobs:   make(map[string]*models.Job),
		logger: logger,
	}
}

func (s *JobStore) Create(workflowID, branch, userID, fileID string, jobType models.JobType) (*models.Job, error) {
	now := time.Now()
	job := &models.Job{
		ID:         common.NewJobID(),
		WorkflowID: workflowID,
		UserID:     userID,
		FileID:     fileID,
		Type:       jobType,
		Branch:     branch,
		State:      models.JobStatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("workflow_id", workflowID).
		Str("job_type", string(jobType)).
		Msg("Job created")

	return job.Clone(), nil
}

func (s *JobStore) Get(jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	return job.Clone(), nil
}

func (s *JobStore) ListForUser(userID string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Job
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (s *JobStore) ListForWorkflow(workflowID string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Job
	for _, job := range s.jobs {
		if job.WorkflowID == workflowID {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (s *JobStore) ListAll() ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	return out, nil
}

func (s *JobStore) UpdateState(jobID string, newState models.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	job.State = newState
	job.UpdatedAt = time.Now()
	return nil
}

func (s *JobStore) SetProgress(jobID string, progress float64, tilesProcessed, tilesTotal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	job.Progress = progress
	job.TilesProcessed = tilesProcessed
	job.TilesTotal = tilesTotal
	job.UpdatedAt = time.Now()
	return nil
}

func (s *JobStore) SetResultPath(jobID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	job.ResultPath = path
	job.UpdatedAt = time.Now()
	return nil
}

func (s *JobStore) CancelIfPending(jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	if job.State == models.JobStatePending {
		job.State = models.JobStateCanceled
		job.UpdatedAt = time.Now()
		s.logger.Debug().Str("job_id", jobID).Msg("Job canceled")
	}
	return job.Clone(), nil
}

func (s *JobStore) ResetForRetry(jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	if job.State == models.JobStateRunning {
		return nil, fmt.Errorf("job %s is running: %w", jobID, models.ErrInvalidState)
	}

	job.State = models.JobStatePending
	job.Progress = 0
	job.TilesProcessed = 0
	job.ResultPath = ""
	job.UpdatedAt = time.Now()

	s.logger.Debug().Str("job_id", jobID).Msg("Job reset for retry")
	return job.Clone(), nil
}
