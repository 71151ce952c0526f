package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/models"
)

func TestWorkflowStoreCreateAndGet(t *testing.T) {
	logger := common.GetLogger()
	jobs := NewJobStore(logger)
	store := NewWorkflowStore(jobs, logger)

	wf, err := store.Create("u1", "slides")
	require.NoError(t, err)
	assert.NotEmpty(t, wf.ID)

	got, err := store.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "slides", got.Name)

	_, err = store.Get("wf_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWorkflowStoreOwnership(t *testing.T) {
	logger := common.GetLogger()
	jobs := NewJobStore(logger)
	store := NewWorkflowStore(jobs, logger)

	wf, err := store.Create("u1", "slides")
	require.NoError(t, err)

	assert.True(t, store.OwnedBy(wf.ID, "u1"))
	assert.False(t, store.OwnedBy(wf.ID, "u2"))
	assert.False(t, store.OwnedBy("wf_missing", "u1"))
}

func TestWorkflowStoreGetInfoDerivesFromJobs(t *testing.T) {
	logger := common.GetLogger()
	jobs := NewJobStore(logger)
	store := NewWorkflowStore(jobs, logger)

	wf, err := store.Create("u1", "slides")
	require.NoError(t, err)

	info, err := store.GetInfo(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatePending, info.State)
	assert.Zero(t, info.PercentComplete)

	job, err := jobs.Create(wf.ID, "", "u1", "file_1", models.JobTypeSegmentCells)
	require.NoError(t, err)
	require.NoError(t, jobs.UpdateState(job.ID, models.JobStateRunning))
	require.NoError(t, jobs.SetProgress(job.ID, 0.5, 2, 4))

	info, err = store.GetInfo(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStateRunning, info.State)
	assert.Equal(t, 0.5, info.PercentComplete)
}
