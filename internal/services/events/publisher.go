package events

import (
	"context"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// Publisher produces change-coalesced observer streams over the job and
// workflow stores. Streams poll the store at a fixed cadence; each
// emits the current snapshot on subscribe, then only payloads that
// differ from the last emitted one.
type Publisher struct {
	jobs         interfaces.JobStore
	workflows    interfaces.WorkflowStore
	pollInterval time.Duration
	logger       arbor.ILogger
}

// NewPublisher creates the observer stream publisher
func NewPublisher(jobs interfaces.JobStore, workflows interfaces.WorkflowStore, pollInterval time.Duration, logger arbor.ILogger) *Publisher {
	return &Publisher{
		jobs:         jobs,
		workflows:    workflows,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// WatchJob opens a job event stream. It fails with models.ErrNotFound
// when the job does not exist or belongs to another user. The stream
// closes after emitting a terminal payload, when the job disappears or
// changes owner mid-stream, or when ctx is done.
func (p *Publisher) WatchJob(ctx context.Context, jobID, userID string) (<-chan models.JobEvent, error) {
	job, err := p.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, models.ErrNotFound
	}

	ch := make(chan models.JobEvent, 8)
	common.SafeGo(p.logger, "events.watch_job:"+jobID, func() {
		defer close(ch)

		last := jobEvent(job)
		if !send(ctx, ch, last) {
			return
		}
		if last.State.IsTerminal() {
			return
		}

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			job, err := p.jobs.Get(jobID)
			if err != nil || job.UserID != userID {
				return
			}

			event := jobEvent(job)
			if !event.Equal(last) {
				if !send(ctx, ch, event) {
					return
				}
				last = event
			}
			if event.State.IsTerminal() {
				return
			}
		}
	})
	return ch, nil
}

// WatchWorkflow opens a workflow event stream carrying the derived
// workflow state plus per-job summaries. Close conditions mirror
// WatchJob, with terminal meaning the derived workflow state.
func (p *Publisher) WatchWorkflow(ctx context.Context, workflowID, userID string) (<-chan models.WorkflowEvent, error) {
	if !p.workflows.OwnedBy(workflowID, userID) {
		return nil, models.ErrNotFound
	}

	ch := make(chan models.WorkflowEvent, 8)
	common.SafeGo(p.logger, "events.watch_workflow:"+workflowID, func() {
		defer close(ch)

		last, err := p.workflowEvent(workflowID)
		if err != nil {
			return
		}
		if !send(ctx, ch, *last) {
			return
		}
		if last.State.IsTerminal() {
			return
		}

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if !p.workflows.OwnedBy(workflowID, userID) {
				return
			}
			event, err := p.workflowEvent(workflowID)
			if err != nil {
				return
			}

			if !event.Equal(*last) {
				if !send(ctx, ch, *event) {
					return
				}
				last = event
			}
			if event.State.IsTerminal() {
				return
			}
		}
	})
	return ch, nil
}

// workflowEvent builds the stream payload from a store snapshot
func (p *Publisher) workflowEvent(workflowID string) (*models.WorkflowEvent, error) {
	info, err := p.workflows.GetInfo(workflowID)
	if err != nil {
		return nil, err
	}
	jobs, err := p.jobs.ListForWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	return &models.WorkflowEvent{
		State:           info.State,
		PercentComplete: info.PercentComplete,
		Jobs:            summarize(jobs),
	}, nil
}

// summarize produces per-job summaries in a stable creation order
func summarize(jobs []*models.Job) []models.Summary {
	sorted := make([]*models.Job, len(jobs))
	copy(sorted, jobs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	summaries := make([]models.Summary, len(sorted))
	for i, j := range sorted {
		summaries[i] = j.Summarize()
	}
	return summaries
}

// jobEvent builds the stream payload from a job snapshot
func jobEvent(j *models.Job) models.JobEvent {
	return models.JobEvent{
		State:          j.State,
		Progress:       j.Progress,
		TilesProcessed: j.TilesProcessed,
		TilesTotal:     j.TilesTotal,
	}
}

// send delivers an event unless ctx is done first
func send[T any](ctx context.Context, ch chan<- T, event T) bool {
	select {
	case ch <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
