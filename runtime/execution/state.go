package execution

// Run state constants
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateTimedOut  = "timedOut"
	StateCancelled = "cancelled"
)

// IsTerminalRunState reports whether the supplied run state admits no
// further transitions.
func IsTerminalRunState(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// StageStatus represents the current status of one stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageRetrying  StageStatus = "retrying"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// GateStatus represents the current status of one approval gate within a run.
type GateStatus string

const (
	GateWaiting  GateStatus = "waiting"
	GateApproved GateStatus = "approved"
	GateTimedOut GateStatus = "timedOut"
)

// Phase identifies which half of the (stage, gate) pair at the cursor is
// active.
type Phase string

const (
	PhaseStage Phase = "stage"
	PhaseGate  Phase = "gate"
)

// ExecState represents the lifecycle of a queued work item.
type ExecState string

const (
	// ExecStateScheduled marks work that is waiting for its eligibility
	// time; no worker is held while an execution sits in this state.
	ExecStateScheduled ExecState = "scheduled"
	// ExecStateQueued marks work published to the queue, awaiting a worker.
	ExecStateQueued ExecState = "queued"
	ExecStateRunning   ExecState = "running"
	ExecStateCompleted ExecState = "completed"
	ExecStateFailed    ExecState = "failed"
)
