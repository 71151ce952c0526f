package badger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WorkflowStore implements the WorkflowStore interface on Badger
type WorkflowStore struct {
	db     *BadgerDB
	jobs   interfaces.JobStore
	logger arbor.ILogger
}

// NewWorkflowStore creates a new Badger-backed workflow store
func NewWorkflowStore(db *BadgerDB, jobs interfaces.JobStore, logger arbor.ILogger) interfaces.WorkflowStore {
	return &WorkflowStore{
		db:     db,
		jobs:   jobs,
		logger: logger,
	}
}

func (s *WorkflowStore) Create(userID, name string) (*models.Workflow, error) {
	wf := &models.Workflow{
		ID:        common.NewWorkflowID(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now(),
	}

	if err := s.db.Store().Insert(wf.ID, wf); err != nil {
		return nil, fmt.Errorf("failed to insert workflow: %w", err)
	}
	return wf.Clone(), nil
}

func (s *WorkflowStore) Get(workflowID string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := s.db.Store().Get(workflowID, &wf); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("workflow %s: %w", workflowID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &wf, nil
}

func (s *WorkflowStore) OwnedBy(workflowID, userID string) bool {
	wf, err := s.Get(workflowID)
	return err == nil && wf.UserID == userID
}

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
