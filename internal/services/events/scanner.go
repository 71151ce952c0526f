package events

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// Scanner feeds the pub/sub bus behind the WebSocket surface. It polls
// the job store, diffs against the last observed snapshot and publishes
// job_updated and workflow_updated events for anything that changed.
type Scanner struct {
	jobs      interfaces.JobStore
	workflows interfaces.WorkflowStore
	bus       interfaces.EventService
	interval  time.Duration
	logger    arbor.ILogger

	cancel context.CancelFunc

	lastJobs      map[string]models.JobEvent
	lastWorkflows map[string]models.WorkflowEvent
}

// NewScanner creates the change scanner
func NewScanner(jobs interfaces.JobStore, workflows interfaces.WorkflowStore, bus interfaces.EventService, interval time.Duration, logger arbor.ILogger) *Scanner {
	return &Scanner{
		jobs:          jobs,
		workflows:     workflows,
		bus:           bus,
		interval:      interval,
		logger:        logger,
		lastJobs:      make(map[string]models.JobEvent),
		lastWorkflows: make(map[string]models.WorkflowEvent),
	}
}

// Start begins the scan loop
func (s *Scanner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	common.SafeGo(s.logger, "events.scanner", func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scan(ctx)
			}
		}
	})
	s.logger.Info().Str("interval", s.interval.String()).Msg("Change scanner started")
}

// Stop ends the scan loop
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// scan diffs one store snapshot against the previous one. The scanner
// runs on a single goroutine so the last-seen maps need no locking.
func (s *Scanner) scan(ctx context.Context) {
	jobs, err := s.jobs.ListAll()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Change scan failed to list jobs")
		return
	}

	seen := make(map[string]struct{}, len(jobs))
	workflowIDs := make(map[string]string) // workflow ID -> owning user
	for _, job := range jobs {
		seen[job.ID] = struct{}{}
		workflowIDs[job.WorkflowID] = job.UserID

		event := jobEvent(job)
		if last, ok := s.lastJobs[job.ID]; ok && event.Equal(last) {
			continue
		}
		s.lastJobs[job.ID] = event

		payload := job.Summarize()
		if err := s.bus.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventJobUpdated,
			UserID:  job.UserID,
			ID:      job.ID,
			Payload: payload,
		}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job event")
		}
	}
	for id := range s.lastJobs {
		if _, ok := seen[id]; !ok {
			delete(s.lastJobs, id)
		}
	}

	for workflowID, userID := range workflowIDs {
		info, err := s.workflows.GetInfo(workflowID)
		if err != nil {
			continue
		}
		members, err := s.jobs.ListForWorkflow(workflowID)
		if err != nil {
			continue
		}

		event := models.WorkflowEvent{
			State:           info.State,
			PercentComplete: info.PercentComplete,
			Jobs:            summarize(members),
		}
		if last, ok := s.lastWorkflows[workflowID]; ok && event.Equal(last) {
			continue
		}
		s.lastWorkflows[workflowID] = event

		if err := s.bus.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventWorkflowUpdated,
			UserID:  userID,
			ID:      workflowID,
			Payload: event,
		}); err != nil {
			s.logger.Warn().Err(err).Str("workflow_id", workflowID).Msg("Failed to publish workflow event")
		}
	}
	for id := range s.lastWorkflows {
		if _, ok := workflowIDs[id]; !ok {
			delete(s.lastWorkflows, id)
		}
	}
}
