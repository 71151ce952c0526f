package memory

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
)

// Manager implements the StorageManager interface for the in-memory
// reference backend.
type Manager struct {
	jobs      interfaces.JobStore
	workflows interfaces.WorkflowStore
	logger    arbor.ILogger
}

// NewManager creates a new in-memory storage manager
func NewManager(logger arbor.ILogger) interfaces.StorageManager {
	jobs := NewJobStore(logger)
	return &Manager{
		jobs:      jobs,
		workflows: NewWorkflowStore(jobs, logger),
		logger:    logger,
	}
}

// JobStore returns the job store
func (m *Manager) JobStore() interfaces.JobStore {
	return m.jobs
}

// WorkflowStore returns the workflow store
func (m *Manager) WorkflowStore() interfaces.WorkflowStore {
	return m.workflows
}

// Close is a no-op for the memory backend
func (m *Manager) Close() error {
	return nil
}
