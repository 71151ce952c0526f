package models

// JobEvent is the payload emitted on job event streams. A stream emits
// the current snapshot on subscribe, then every payload that differs
// from the last emitted one.
type JobEvent struct {
	State          JobState `json:"state"`
	Progress       float64  `json:"progress"`
	TilesProcessed int      `json:"tiles_processed"`
	TilesTotal     int      `json:"tiles_total"`
}

// Equal reports payload equality for change coalescing
func (e JobEvent) Equal(o JobEvent) bool {
	return e == o
}

// WorkflowEvent is the payload emitted on workflow event streams
type WorkflowEvent struct {
	State           WorkflowState `json:"state"`
	PercentComplete float64       `json:"percent_complete"`
	Jobs            []Summary     `json:"jobs"`
}

// Equal reports payload equality for change coalescing
func (e WorkflowEvent) Equal(o WorkflowEvent) bool {
	if e.State != o.State || e.PercentComplete != o.PercentComplete || len(e.Jobs) != len(o.Jobs) {
		return false
	}
	for i := range e.Jobs {
		if e.Jobs[i] != o.Jobs[i] {
			return false
		}
	}
	return true
}

// QueueStatus is the best-effort scheduler snapshot for a pending job.
// Values may race against transitions and are not transactional.
type QueueStatus struct {
	Queued         bool     `json:"queued"`
	WaitingFor     []string `json:"waiting_for"`
	ActiveUsers    int      `json:"active_users"`
	MaxActiveUsers int      `json:"max_active_users"`
	ActiveWorkers  int      `json:"active_workers"`
	MaxWorkers     int      `json:"max_workers"`
}

// Admission gate names reported in QueueStatus.WaitingFor
const (
	WaitingForBranch   = "BRANCH"
	WaitingForUserSlot = "USER_SLOT"
	WaitingForWorker   = "WORKER"
)
