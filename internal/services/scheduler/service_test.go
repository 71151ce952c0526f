package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"github.com/ternarybob/tessera/internal/storage/memory"
)

// stubExecutor marks a job RUNNING, parks on the gate until the test
// releases it, then marks it SUCCEEDED.
type stubExecutor struct {
	jobs    interfaces.JobStore
	gate    chan struct{}
	runs    atomic.Int64
	running atomic.Int64
	maxSeen atomic.Int64
}

func newStubExecutor(jobs interfaces.JobStore) *stubExecutor {
	return &stubExecutor{jobs: jobs, gate: make(chan struct{})}
}

func (e *stubExecutor) Run(jobID string) error {
	e.runs.Add(1)
	cur := e.running.Add(1)
	for {
		prev := e.maxSeen.Load()
		if cur <= prev || e.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	e.jobs.UpdateState(jobID, models.JobStateRunning)
	<-e.gate
	e.jobs.UpdateState(jobID, models.JobStateSucceeded)
	e.running.Add(-1)
	return nil
}

// release unparks one executor run
func (e *stubExecutor) release() {
	e.gate <- struct{}{}
}

type schedulerFixture struct {
	jobs      interfaces.JobStore
	executor  *stubExecutor
	scheduler *Service
}

func newFixture(maxWorkers, maxActiveUsers int) *schedulerFixture {
	logger := common.GetLogger()
	jobs := memory.NewJobStore(logger)
	executor := newStubExecutor(jobs)
	cfg := &common.SchedulerConfig{MaxWorkers: maxWorkers, MaxActiveUsers: maxActiveUsers}
	return &schedulerFixture{
		jobs:      jobs,
		executor:  executor,
		scheduler: NewService(jobs, executor, cfg, logger),
	}
}

func (f *schedulerFixture) createJob(t *testing.T, workflowID, branch, userID string) *models.Job {
	t.Helper()
	job, err := f.jobs.Create(workflowID, branch, userID, "file_1", models.JobTypeSegmentCells)
	require.NoError(t, err)
	return job
}

func (f *schedulerFixture) jobState(t *testing.T, jobID string) models.JobState {
	t.Helper()
	job, err := f.jobs.Get(jobID)
	require.NoError(t, err)
	return job.State
}

func (f *schedulerFixture) waitForState(t *testing.T, jobID string, state models.JobState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.jobState(t, jobID) == state
	}, 3*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, state)
}

func TestSameBranchRunsSerially(t *testing.T) {
	f := newFixture(4, 4)
	j1 := f.createJob(t, "wf_1", "b", "u1")
	j2 := f.createJob(t, "wf_1", "b", "u1")

	f.scheduler.Enqueue(j1.ID)
	f.scheduler.Enqueue(j2.ID)

	require.Eventually(t, func() bool {
		return f.executor.running.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)

	// The second job must hold at PENDING while the first runs
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), f.executor.running.Load())
	assert.Equal(t, int64(1), f.executor.maxSeen.Load())

	f.executor.release()
	require.Eventually(t, func() bool {
		return f.executor.runs.Load() == 2
	}, 3*time.Second, 10*time.Millisecond)

	f.executor.release()
	f.waitForState(t, j1.ID, models.JobStateSucceeded)
	f.waitForState(t, j2.ID, models.JobStateSucceeded)
	assert.Equal(t, int64(1), f.executor.maxSeen.Load())
}

func TestDistinctBranchesRunConcurrently(t *testing.T) {
	f := newFixture(4, 4)
	j1 := f.createJob(t, "wf_1", "a", "u1")
	j2 := f.createJob(t, "wf_1", "b", "u1")

	f.scheduler.Enqueue(j1.ID)
	f.scheduler.Enqueue(j2.ID)

	require.Eventually(t, func() bool {
		return f.executor.running.Load() == 2
	}, 3*time.Second, 10*time.Millisecond)

	f.executor.release()
	f.executor.release()
	f.waitForState(t, j1.ID, models.JobStateSucceeded)
	f.waitForState(t, j2.ID, models.JobStateSucceeded)
}

func TestWorkerCapBoundsConcurrency(t *testing.T) {
	f := newFixture(2, 8)
	var ids []string
	for _, wf := range []string{"wf_1", "wf_2", "wf_3"} {
		job := f.createJob(t, wf, "", "u1")
		ids = append(ids, job.ID)
		f.scheduler.Enqueue(job.ID)
	}

	require.Eventually(t, func() bool {
		return f.executor.running.Load() == 2
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(2), f.executor.maxSeen.Load())

	f.executor.release()
	f.executor.release()
	f.executor.release()
	for _, id := range ids {
		f.waitForState(t, id, models.JobStateSucceeded)
	}
	assert.Equal(t, int64(3), f.executor.runs.Load())
	assert.Equal(t, int64(2), f.executor.maxSeen.Load())
}

func TestUserCapHoldsThirdUser(t *testing.T) {
	f := newFixture(8, 2)
	var ids []string
	for _, u := range []string{"u1", "u2", "u3"} {
		job := f.createJob(t, "wf_"+u, "", u)
		ids = append(ids, job.ID)
		f.scheduler.Enqueue(job.ID)
	}

	require.Eventually(t, func() bool {
		return f.executor.running.Load() == 2
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(2), f.executor.maxSeen.Load())

	// The held-back job reports the user gate
	var pendingID string
	for _, id := range ids {
		if f.jobState(t, id) == models.JobStatePending {
			pendingID = id
		}
	}
	require.NotEmpty(t, pendingID)

	status, err := f.scheduler.QueueStatus(pendingID)
	require.NoError(t, err)
	assert.True(t, status.Queued)
	assert.Contains(t, status.WaitingFor, models.WaitingForUserSlot)
	assert.Equal(t, 2, status.ActiveUsers)
	assert.Equal(t, 2, status.MaxActiveUsers)

	// Releasing one run frees a user slot for the third user
	f.executor.release()
	f.waitForState(t, pendingID, models.JobStateRunning)

	f.executor.release()
	f.executor.release()
	for _, id := range ids {
		f.waitForState(t, id, models.JobStateSucceeded)
	}
}

func TestActiveUserAdmitsMoreJobsPastCap(t *testing.T) {
	f := newFixture(8, 1)
	j1 := f.createJob(t, "wf_1", "", "u1")
	j2 := f.createJob(t, "wf_2", "", "u1")

	f.scheduler.Enqueue(j1.ID)
	f.scheduler.Enqueue(j2.ID)

	// Same user: both run despite MaxActiveUsers of one
	require.Eventually(t, func() bool {
		return f.executor.running.Load() == 2
	}, 3*time.Second, 10*time.Millisecond)

	f.executor.release()
	f.executor.release()
	f.waitForState(t, j1.ID, models.JobStateSucceeded)
	f.waitForState(t, j2.ID, models.JobStateSucceeded)
}

func TestEnqueueIsIdempotent(t *testing.T) {
	f := newFixture(4, 4)
	job := f.createJob(t, "wf_1", "", "u1")

	f.scheduler.Enqueue(job.ID)
	f.scheduler.Enqueue(job.ID)
	f.scheduler.Enqueue(job.ID)

	require.Eventually(t, func() bool {
		return f.executor.running.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)

	f.executor.release()
	f.waitForState(t, job.ID, models.JobStateSucceeded)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), f.executor.runs.Load())
}

func TestCanceledJobNeverExecutes(t *testing.T) {
	f := newFixture(4, 4)
	j1 := f.createJob(t, "wf_1", "b", "u1")
	j2 := f.createJob(t, "wf_1", "b", "u1")

	f.scheduler.Enqueue(j1.ID)
	f.waitForState(t, j1.ID, models.JobStateRunning)

	// j2 parks behind the branch mutex, then gets canceled
	f.scheduler.Enqueue(j2.ID)
	time.Sleep(50 * time.Millisecond)
	canceled, err := f.jobs.CancelIfPending(j2.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateCanceled, canceled.State)

	f.executor.release()
	f.waitForState(t, j1.ID, models.JobStateSucceeded)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.JobStateCanceled, f.jobState(t, j2.ID))
	assert.Equal(t, int64(1), f.executor.runs.Load())
}

func TestQueueStatusReportsBusyBranch(t *testing.T) {
	f := newFixture(4, 4)
	j1 := f.createJob(t, "wf_1", "b", "u1")
	j2 := f.createJob(t, "wf_1", "b", "u1")

	f.scheduler.Enqueue(j1.ID)
	f.waitForState(t, j1.ID, models.JobStateRunning)
	f.scheduler.Enqueue(j2.ID)

	status, err := f.scheduler.QueueStatus(j2.ID)
	require.NoError(t, err)
	assert.True(t, status.Queued)
	assert.Contains(t, status.WaitingFor, models.WaitingForBranch)

	f.executor.release()
	f.executor.release()
	f.waitForState(t, j2.ID, models.JobStateSucceeded)

	status, err = f.scheduler.QueueStatus(j2.ID)
	require.NoError(t, err)
	assert.False(t, status.Queued)
	assert.Empty(t, status.WaitingFor)
}

func TestEvictIdleBranches(t *testing.T) {
	f := newFixture(4, 4)
	j1 := f.createJob(t, "wf_1", "a", "u1")
	j2 := f.createJob(t, "wf_2", "b", "u1")

	f.scheduler.Enqueue(j1.ID)
	f.scheduler.Enqueue(j2.ID)
	require.Eventually(t, func() bool {
		return f.executor.running.Load() == 2
	}, 3*time.Second, 10*time.Millisecond)

	// Both branches live: nothing to evict
	assert.Zero(t, f.scheduler.EvictIdleBranches())

	f.executor.release()
	f.executor.release()
	f.waitForState(t, j1.ID, models.JobStateSucceeded)
	f.waitForState(t, j2.ID, models.JobStateSucceeded)

	// Workers release their branch mutexes shortly after the terminal
	// transition; sweep until both entries are gone
	evicted := 0
	require.Eventually(t, func() bool {
		evicted += f.scheduler.EvictIdleBranches()
		return evicted == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.scheduler.EvictIdleBranches())
}
