package badger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStore implements the JobStore interface on Badger. Badgerhold
// serialises individual operations, but read-modify-write transitions
// (cancel-if-pending, retry) need the store-level mutex so concurrent
// writers cannot interleave between the read and the upsert.
type JobStore struct {
	db     *BadgerDB
	mu     sync.Mutex
	logger arbor.ILogger
}

// NewJobStore creates a new Badger-backed job store
func NewJobStore(db *BadgerDB, logger arbor.ILogger) interfaces.JobStore {
	return &JobStore{
		db:     db,
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

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	return job.Clone(), nil
}

func (s *JobStore) Get(jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) ListForUser(userID string) ([]*models.Job, error) {
	return s.find(badgerhold.Where("UserID").Eq(userID))
}

func (s *JobStore) ListForWorkflow(workflowID string) ([]*models.Job, error) {
	return s.find(badgerhold.Where("WorkflowID").Eq(workflowID))
}

func (s *JobStore) ListAll() ([]*models.Job, error) {
	return s.find(badgerhold.Where("ID").Ne(""))
}

func (s *JobStore) find(query *badgerhold.Query) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	out := make([]*models.Job, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out, nil
}

// mutate applies fn to the stored record under the transition mutex
func (s *JobStore) mutate(jobID string, fn func(job *models.Job) error) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if err := fn(&job); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Update(jobID, &job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) UpdateState(jobID string, newState models.JobState) error {
	_, err := s.mutate(jobID, func(job *models.Job) error {
		job.State = newState
		return nil
	})
	return err
}

func (s *JobStore) SetProgress(jobID string, progress float64, tilesProcessed, tilesTotal int) error {
	_, err := s.mutate(jobID, func(job *models.Job) error {
		job.Progress = progress
		job.TilesProcessed = tilesProcessed
		job.TilesTotal = tilesTotal
		return nil
	})
	return err
}

func (s *JobStore) SetResultPath(jobID, path string) error {
	_, err := s.mutate(jobID, func(job *models.Job) error {
		job.ResultPath = path
		return nil
	})
	return err
}

func (s *JobStore) CancelIfPending(jobID string) (*models.Job, error) {
	return s.mutate(jobID, func(job *models.Job) error {
		if job.State == models.JobStatePending {
			job.State = models.JobStateCanceled
		}
		return nil
	})
}

func (s *JobStore) ResetForRetry(jobID string) (*models.Job, error) {
	return s.mutate(jobID, func(job *models.Job) error {
		if job.State == models.JobStateRunning {
			return fmt.Errorf("job %s is running: %w", jobID, models.ErrInvalidState)
		}
		job.State = models.JobStatePending
		job.Progress = 0
		job.TilesProcessed = 0
		job.ResultPath = ""
		return nil
	})
}
