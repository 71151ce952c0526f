package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	jobs      interfaces.JobStore
	workflows interfaces.WorkflowStore
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	jobs := NewJobStore(db, logger)
	manager := &Manager{
		db:        db,
		jobs:      jobs,
		workflows: NewWorkflowStore(db, jobs, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")
	return manager, nil
}

// JobStore returns the job store
func (m *Manager) JobStore() interfaces.JobStore {
	return m.jobs
}

// WorkflowStore returns the workflow store
func (m *Manager) WorkflowStore() interfaces.WorkflowStore {
	return m.workflows
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
