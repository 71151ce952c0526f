package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"golang.org/x/sync/semaphore"
)

// branchKey identifies one serial execution group
type branchKey struct {
	workflowID string
	branch     string
}

// Service admits pending jobs through three composed gates, in a fixed
// order: the branch mutex (serial execution within a workflow branch),
// the per-user slot (bounded count of distinct active users), and the
// global worker permit. The branch mutex is outermost so cancellation
// of a branch-blocked job is observed before it consumes a scarce
// user or worker slot; the worker permit is innermost so jobs that
// already hold user affinity are not starved waiting on global
// capacity.
type Service struct {
	jobs     interfaces.JobStore
	executor interfaces.Executor
	logger   arbor.ILogger

	maxWorkers     int
	maxActiveUsers int

	// scheduled tracks job IDs with a live worker task (dedup set)
	scheduledMu sync.Mutex
	scheduled   map[string]struct{}

	// branchLocks are created lazily and evicted only by the
	// maintenance sweep once their branch has no non-terminal jobs
	branchMu    sync.Mutex
	branchLocks map[branchKey]*sync.Mutex

	// user admission gate: map of active user -> running count,
	// guarded by userMu, waiters parked on userCond
	userMu      sync.Mutex
	userCond    *sync.Cond
	activeUsers map[string]int

	workers       *semaphore.Weighted
	activeWorkers atomic.Int64
}

// NewService creates a scheduler with the configured gate limits
func NewService(jobs interfaces.JobStore, executor interfaces.Executor, config *common.SchedulerConfig, logger arbor.ILogger) *Service {
	s := &Service{
		jobs:           jobs,
		executor:       executor,
		logger:         logger,
		maxWorkers:     config.MaxWorkers,
		maxActiveUsers: config.MaxActiveUsers,
		scheduled:      make(map[string]struct{}),
		branchLocks:    make(map[branchKey]*sync.Mutex),
		activeUsers:    make(map[string]int),
		workers:        semaphore.NewWeighted(int64(config.MaxWorkers)),
	}
	s.userCond = sync.NewCond(&s.userMu)
	return s
}

// Enqueue registers the job and spawns its worker task. Idempotent:
// a second enqueue while the first worker task is alive is a no-op.
func (s *Service) Enqueue(jobID string) {
	s.scheduledMu.Lock()
	if _, ok := s.scheduled[jobID]; ok {
		s.scheduledMu.Unlock()
		s.logger.Debug().Str("job_id", jobID).Msg("Job already scheduled")
		return
	}
	s.scheduled[jobID] = struct{}{}
	s.scheduledMu.Unlock()

	common.SafeGo(s.logger, "scheduler.worker:"+jobID, func() {
		s.worker(jobID)
	})
}

// worker drives one job through the admission gates and the executor.
// Cancellation is re-checked after each gate acquisition; once the
// executor starts, the job runs to a terminal state.
func (s *Service) worker(jobID string) {
	defer func() {
		s.scheduledMu.Lock()
		delete(s.scheduled, jobID)
		s.scheduledMu.Unlock()
	}()

	job, err := s.jobs.Get(jobID)
	if err != nil {
		s.logger.Warn().Str("job_id", jobID).Msg("Scheduled job no longer exists")
		return
	}

	// Re-fetch after locking: the maintenance sweep may have evicted
	// the entry between lookup and Lock, in which case a fresh mutex
	// now guards the branch and this one must be retaken.
	key := branchKey{job.WorkflowID, job.EffectiveBranch()}
	var lock *sync.Mutex
	for {
		lock = s.branchLock(key)
		lock.Lock()
		if s.branchLock(key) == lock {
			break
		}
		lock.Unlock()
	}
	defer lock.Unlock()

	if s.canceledOrGone(jobID) {
		return
	}

	s.acquireUserSlot(job.UserID)
	defer s.releaseUserSlot(job.UserID)

	if s.canceledOrGone(jobID) {
		return
	}

	if err := s.workers.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer s.workers.Release(1)

	if s.canceledOrGone(jobID) {
		return
	}

	s.activeWorkers.Add(1)
	defer s.activeWorkers.Add(-1)

	s.logger.Info().
		Str("job_id", jobID).
		Str("workflow_id", job.WorkflowID).
		Str("branch", job.EffectiveBranch()).
		Str("user_id", job.UserID).
		Msg("Job admitted")

	if err := s.executor.Run(jobID); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Executor run failed")
	}
}

// canceledOrGone re-reads the job at a gate checkpoint. The HTTP
// surface only cancels PENDING jobs, so after admission starts these
// checks are defense in depth rather than a reachable path.
func (s *Service) canceledOrGone(jobID string) bool {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return true
	}
	return job.State == models.JobStateCanceled
}

// branchLock returns the mutex for a serial group, creating it lazily
func (s *Service) branchLock(key branchKey) *sync.Mutex {
	s.branchMu.Lock()
	defer s.branchMu.Unlock()

	lock, ok := s.branchLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.branchLocks[key] = lock
	}
	return lock
}

// acquireUserSlot blocks until the user is already active or a user
// slot is free. A user who has won the gate admits all further jobs
// without contending with the cap; fairness across users applies only
// at first admission.
func (s *Service) acquireUserSlot(userID string) {
	s.userMu.Lock()
	defer s.userMu.Unlock()

	for {
		if _, active := s.activeUsers[userID]; active {
			s.activeUsers[userID]++
			return
		}
		if len(s.activeUsers) < s.maxActiveUsers {
			s.activeUsers[userID] = 1
			return
		}
		s.userCond.Wait()
	}
}

// releaseUserSlot decrements the user's running count; the last
// release removes the user and wakes every gate waiter.
func (s *Service) releaseUserSlot(userID string) {
	s.userMu.Lock()
	defer s.userMu.Unlock()

	n, ok := s.activeUsers[userID]
	if !ok {
		return
	}
	if n <= 1 {
		delete(s.activeUsers, userID)
		s.userCond.Broadcast()
		return
	}
	s.activeUsers[userID] = n - 1
}

// QueueStatus reports a best-effort snapshot of why a pending job is
// not yet running. Values may race against transitions and are not
// transactional.
func (s *Service) QueueStatus(jobID string) (*models.QueueStatus, error) {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}

	s.userMu.Lock()
	activeUserCount := len(s.activeUsers)
	_, userActive := s.activeUsers[job.UserID]
	s.userMu.Unlock()

	activeWorkers := int(s.activeWorkers.Load())

	status := &models.QueueStatus{
		Queued:         job.State == models.JobStatePending,
		WaitingFor:     []string{},
		ActiveUsers:    activeUserCount,
		MaxActiveUsers: s.maxActiveUsers,
		ActiveWorkers:  activeWorkers,
		MaxWorkers:     s.maxWorkers,
	}
	if !status.Queued {
		return status, nil
	}

	if s.branchBusy(job) {
		status.WaitingFor = append(status.WaitingFor, models.WaitingForBranch)
	}
	if !userActive && activeUserCount >= s.maxActiveUsers {
		status.WaitingFor = append(status.WaitingFor, models.WaitingForUserSlot)
	}
	if activeWorkers >= s.maxWorkers {
		status.WaitingFor = append(status.WaitingFor, models.WaitingForWorker)
	}
	return status, nil
}

// branchBusy reports whether another job on the same serial group is
// currently RUNNING
func (s *Service) branchBusy(job *models.Job) bool {
	all, err := s.jobs.ListAll()
	if err != nil {
		return false
	}
	for _, other := range all {
		if other.ID == job.ID {
			continue
		}
		if other.WorkflowID == job.WorkflowID &&
			other.EffectiveBranch() == job.EffectiveBranch() &&
			other.State == models.JobStateRunning {
			return true
		}
	}
	return false
}

// EvictIdleBranches drops branch-lock entries that are uncontended and
// whose branch has no non-terminal jobs. A queued worker holding the
// old mutex makes TryLock fail, so an entry is never removed out from
// under a live serial chain.
func (s *Service) EvictIdleBranches() int {
	all, err := s.jobs.ListAll()
	if err != nil {
		return 0
	}
	live := make(map[branchKey]struct{})
	for _, job := range all {
		if !job.State.IsTerminal() {
			live[branchKey{job.WorkflowID, job.EffectiveBranch()}] = struct{}{}
		}
	}

	s.branchMu.Lock()
	defer s.branchMu.Unlock()

	evicted := 0
	for key, lock := range s.branchLocks {
		if _, busy := live[key]; busy {
			continue
		}
		if !lock.TryLock() {
			continue
		}
		lock.Unlock()
		delete(s.branchLocks, key)
		evicted++
	}

	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Msg("Idle branch locks evicted")
	}
	return evicted
}

var _ interfaces.SchedulerService = (*Service)(nil)
