package interfaces

import (
	"context"

	"github.com/ternarybob/tessera/internal/models"
)

// EventType identifies a class of change notification
type EventType string

const (
	EventJobUpdated      EventType = "job_updated"
	EventWorkflowUpdated EventType = "workflow_updated"
)

// Event is a change notification delivered to subscribers
type Event struct {
	Type    EventType   `json:"type"`
	UserID  string      `json:"user_id"`
	ID      string      `json:"id"` // job or workflow ID
	Payload interface{} `json:"payload"`
}

// EventHandler processes a published event
type EventHandler func(ctx context.Context, event Event) error

// EventService is the in-process pub/sub bus behind the WebSocket feed
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
}

// EventPublisher produces change-coalesced streams for job and
// workflow observers. Streams emit a snapshot immediately, then only
// payloads that differ from the last emitted one, and close when the
// observed entity reaches a terminal state or the ownership check
// fails.
type EventPublisher interface {
	WatchJob(ctx context.Context, jobID, userID string) (<-chan models.JobEvent, error)
	WatchWorkflow(ctx context.Context, workflowID, userID string) (<-chan models.WorkflowEvent, error)
}
