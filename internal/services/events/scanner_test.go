package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"github.com/ternarybob/tessera/internal/storage/memory"
)

// eventSink collects bus events for assertions
type eventSink struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (s *eventSink) handle(_ context.Context, event interfaces.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventSink) byType(t interfaces.EventType) []interfaces.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []interfaces.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func TestEventServicePublishReachesSubscribers(t *testing.T) {
	bus := NewService(common.GetLogger())
	sink := &eventSink{}
	require.NoError(t, bus.Subscribe(interfaces.EventJobUpdated, sink.handle))

	err := bus.Publish(context.Background(), interfaces.Event{
		Type:   interfaces.EventJobUpdated,
		UserID: "u1",
		ID:     "job_1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.byType(interfaces.EventJobUpdated)) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "u1", sink.byType(interfaces.EventJobUpdated)[0].UserID)
}

func TestEventServiceRejectsNilHandler(t *testing.T) {
	bus := NewService(common.GetLogger())
	assert.Error(t, bus.Subscribe(interfaces.EventJobUpdated, nil))
}

func TestScannerPublishesChanges(t *testing.T) {
	logger := common.GetLogger()
	jobs := memory.NewJobStore(logger)
	workflows := memory.NewWorkflowStore(jobs, logger)
	bus := NewService(logger)

	sink := &eventSink{}
	require.NoError(t, bus.Subscribe(interfaces.EventJobUpdated, sink.handle))
	require.NoError(t, bus.Subscribe(interfaces.EventWorkflowUpdated, sink.handle))

	wf, err := workflows.Create("u1", "slides")
	require.NoError(t, err)
	job, err := jobs.Create(wf.ID, "", "u1", "file_1", models.JobTypeSegmentCells)
	require.NoError(t, err)

	scanner := NewScanner(jobs, workflows, bus, 10*time.Millisecond, logger)
	scanner.Start()
	defer scanner.Stop()

	// First pass publishes the initial snapshot for job and workflow
	require.Eventually(t, func() bool {
		return len(sink.byType(interfaces.EventJobUpdated)) >= 1 &&
			len(sink.byType(interfaces.EventWorkflowUpdated)) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	jobEvents := sink.byType(interfaces.EventJobUpdated)
	assert.Equal(t, job.ID, jobEvents[0].ID)
	assert.Equal(t, "u1", jobEvents[0].UserID)
	payload, ok := jobEvents[0].Payload.(models.Summary)
	require.True(t, ok)
	assert.Equal(t, models.JobStatePending, payload.State)

	// An unchanged store publishes nothing further
	time.Sleep(50 * time.Millisecond)
	before := len(sink.byType(interfaces.EventJobUpdated))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, len(sink.byType(interfaces.EventJobUpdated)))

	// A state change produces exactly one more job event
	require.NoError(t, jobs.UpdateState(job.ID, models.JobStateRunning))
	require.Eventually(t, func() bool {
		events := sink.byType(interfaces.EventJobUpdated)
		last := events[len(events)-1]
		summary, ok := last.Payload.(models.Summary)
		return ok && summary.State == models.JobStateRunning
	}, 3*time.Second, 10*time.Millisecond)
}
