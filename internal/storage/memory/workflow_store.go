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

// WorkflowStore keeps workflow identity in memory and derives the
// aggregation view against the job store.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	jobs      interfaces.JobStore
	logger    arbor.ILogger
}

// NewWorkflowStore creates an empty in-memory workflow store
func NewWorkflowStore(jobs interfaces.JobStore, logger arbor.ILogger) interfaces.WorkflowStore {
	return &WorkflowStore{
		workflows: make(map[string]*models.Workflow),
		jobs:      jobs,
		logger:    logger,
	}
}

func (s *WorkflowStore) Create(userID, name string) (*models.Workflow, error) {
	wf := &models.Workflow{
		ID:        common.NewWorkflowID(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.workflows[wf.ID] = wf
	s.mu.Unlock()

	s.logger.Debug().
		Str("workflow_id", wf.ID).
		Str("user_id", userID).
		Msg("Workflow created")

	return wf.Clone(), nil
}

func (s *WorkflowStore) Get(workflowID string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, models.ErrNotFound)
	}
	return wf.Clone(), nil
}

func (s *WorkflowStore) OwnedBy(workflowID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[workflowID]
	return ok && wf.UserID == userID
}

// GetInfo derives state and percent from a consistent snapshot of the
// member jobs. ListForWorkflow copies every record under the job
// store's lock, so no torn reads of individual job states are
// possible.
func (s *WorkflowStore) GetInfo(workflowID string) (*models.WorkflowInfo, error) {
	wf, err := s.Get(workflowID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListForWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	return models.DeriveWorkflowInfo(wf, jobs), nil
}
