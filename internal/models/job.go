package models

import (
	"fmt"
	"time"
)

// JobState represents the lifecycle state of a job
type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
	JobStateCanceled  JobState = "CANCELED"
)

// IsTerminal reports whether the state admits no further executor work
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}

// JobType identifies the tile kernel a job runs. The set is closed;
// dispatch happens through the executor's kernel table.
type JobType string

const (
	JobTypeSegmentCells JobType = "SEGMENT_CELLS"
	JobTypeTissueMask   JobType = "TISSUE_MASK"
)

// ParseJobType validates a wire-format job type
func ParseJobType(s string) (JobType, error) {
	switch JobType(s) {
	case JobTypeSegmentCells:
		return JobTypeSegmentCells, nil
	case JobTypeTissueMask:
		return JobTypeTissueMask, nil
	}
	return "", fmt.Errorf("unknown job type: %q", s)
}

// DefaultBranch is the sentinel serial group for jobs created without an
// explicit branch. Jobs on the same (workflow, effective branch) pair
// never run concurrently.
const DefaultBranch = "__default__"

// Job is the record of one unit of tiled work. Stores hand out copies;
// callers never hold an alias into store-owned state.
type Job struct {
	ID         string  `json:"job_id" badgerhold:"key"`
	WorkflowID string  `json:"workflow_id"`
	UserID     string  `json:"user_id"`
	FileID     string  `json:"file_id"`
	Type       JobType `json:"job_type"`
	Branch     string  `json:"branch,omitempty"` // empty means the implicit default branch

	State          JobState `json:"state"`
	Progress       float64  `json:"progress"` // 0.0 to 1.0 fraction complete
	TilesProcessed int      `json:"tiles_processed"`
	TilesTotal     int      `json:"tiles_total"`
	ResultPath     string   `json:"result_path,omitempty"` // manifest or error artifact

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveBranch returns the branch, or the default serial group when
// none was given.
func (j *Job) EffectiveBranch() string {
	if j.Branch == "" {
		return DefaultBranch
	}
	return j.Branch
}

// Clone returns a deep copy safe to hand outside the store
func (j *Job) Clone() *Job {
	c := *j
	return &c
}

// Summary is the per-job payload embedded in workflow views and event
// streams.
type Summary struct {
	JobID          string   `json:"job_id"`
	State          JobState `json:"state"`
	Progress       float64  `json:"progress"`
	TilesProcessed int      `json:"tiles_processed"`
	TilesTotal     int      `json:"tiles_total"`
	Branch         string   `json:"branch,omitempty"`
}

// Summarize builds the event-stream summary for a job
func (j *Job) Summarize() Summary {
	return Summary{
		JobID:          j.ID,
		State:          j.State,
		Progress:       j.Progress,
		TilesProcessed: j.TilesProcessed,
		TilesTotal:     j.TilesTotal,
		Branch:         j.Branch,
	}
}
