package models

import (
	"time"
)

// WorkflowState is derived from member jobs, never stored
type WorkflowState string

const (
	WorkflowStatePending   WorkflowState = "PENDING"
	WorkflowStateRunning   WorkflowState = "RUNNING"
	WorkflowStateSucceeded WorkflowState = "SUCCEEDED"
	WorkflowStateFailed    WorkflowState = "FAILED"
)

// IsTerminal reports whether a workflow event stream should close
func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowStateSucceeded || s == WorkflowStateFailed
}

// Workflow holds the stored identity of a workflow. State and percent
// complete are not stored; they are derived from member jobs.
type Workflow struct {
	ID        string    `json:"workflow_id" badgerhold:"key"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy safe to hand outside the store
func (w *Workflow) Clone() *Workflow {
	c := *w
	return &c
}

// WorkflowInfo is the derived aggregation view over member jobs
type WorkflowInfo struct {
	WorkflowID      string        `json:"workflow_id"`
	UserID          string        `json:"user_id"`
	Name            string        `json:"name"`
	State           WorkflowState `json:"state"`
	PercentComplete float64       `json:"percent_complete"`
}

// DeriveWorkflowInfo aggregates member jobs into the workflow view.
// FAILED wins over everything; all-SUCCEEDED requires a non-empty job
// set; CANCELED jobs count toward neither branch, so a workflow of only
// canceled jobs reports PENDING.
func DeriveWorkflowInfo(wf *Workflow, jobs []*Job) *WorkflowInfo {
	info := &WorkflowInfo{
		WorkflowID: wf.ID,
		UserID:     wf.UserID,
		Name:       wf.Name,
		State:      WorkflowStatePending,
	}
	if len(jobs) == 0 {
		return info
	}

	var sum float64
	anyFailed, anyRunning := false, false
	allSucceeded := true
	for _, j := range jobs {
		sum += j.Progress
		switch j.State {
		case JobStateFailed:
			anyFailed = true
		case JobStateRunning:
			anyRunning = true
		}
		if j.State != JobStateSucceeded {
			allSucceeded = false
		}
	}
	info.PercentComplete = sum / float64(len(jobs))

	switch {
	case anyFailed:
		info.State = WorkflowStateFailed
	case allSucceeded:
		info.State = WorkflowStateSucceeded
	case anyRunning:
		info.State = WorkflowStateRunning
	default:
		info.State = WorkflowStatePending
	}
	return info
}
