package execution

import (
	"time"

	"github.com/pedalhq/pedal/internal/clock"
	"github.com/pedalhq/pedal/model"
)

// Kind distinguishes the two work item flavours the engine queues.
type Kind string

const (
	KindStage Kind = "stage"
	KindGate  Kind = "gate"
)

// Execution is one queued unit of work: a single stage attempt or a single
// gate poll. Retries and polls reuse the same record - the attempt counter
// and RunAfter mutate in place so that the orchestrator can reason about the
// slot at the run cursor with a deterministic identity.
type Execution struct {
	ID    string `json:"id"`
	RunID string `json:"runId"`
	Kind  Kind   `json:"kind"`

	// Stage work
	StageID string `json:"stageId,omitempty"`
	Input   string `json:"input,omitempty"`
	Output  string `json:"output,omitempty"`

	// Gate work
	GateID     string `json:"gateId,omitempty"`
	Checkpoint string `json:"checkpoint,omitempty"`

	State    ExecState `json:"state"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`

	ScheduledAt time.Time  `json:"scheduledAt"`
	RunAfter    *time.Time `json:"runAfter,omitempty"`
	// Deadline bounds a gate wait; computed once on entry to the gate.
	Deadline    *time.Time `json:"deadline,omitempty"`
	EnteredAt   *time.Time `json:"enteredAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StageExecutionID returns the deterministic execution identity for the
// stage slot of a run.
func StageExecutionID(runID, stageID string) string {
	return runID + "/stage/" + stageID
}

// GateExecutionID returns the deterministic execution identity for the gate
// slot of a run.
func GateExecutionID(runID, gateID string) string {
	return runID + "/gate/" + gateID
}

// NewStageExecution creates the work item for one stage of a run.
func NewStageExecution(runID string, stage *model.Stage, input string) *Execution {
	return &Execution{
		ID:          StageExecutionID(runID, stage.ID),
		RunID:       runID,
		Kind:        KindStage,
		StageID:     stage.ID,
		Input:       input,
		Output:      stage.Output,
		State:       ExecStateScheduled,
		ScheduledAt: clock.Now(),
	}
}

// NewGateExecution creates the work item for one gate wait of a run. The
// deadline is fixed here, on entry to the gate, and never recomputed.
func NewGateExecution(runID string, gate *model.Gate, timeout time.Duration) *Execution {
	now := clock.Now()
	deadline := now.Add(timeout)
	return &Execution{
		ID:          GateExecutionID(runID, gate.ID),
		RunID:       runID,
		Kind:        KindGate,
		GateID:      gate.ID,
		Checkpoint:  gate.Checkpoint,
		State:       ExecStateScheduled,
		ScheduledAt: now,
		EnteredAt:   &now,
		Deadline:    &deadline,
	}
}

// Start marks the execution as picked up by a worker.
func (e *Execution) Start() {
	now := clock.Now()
	e.StartedAt = &now
	e.State = ExecStateRunning
}

// Complete marks the execution as done.
func (e *Execution) Complete() {
	now := clock.Now()
	e.CompletedAt = &now
	e.State = ExecStateCompleted
}

// Fail marks the execution as terminally failed.
func (e *Execution) Fail(err error) {
	now := clock.Now()
	e.CompletedAt = &now
	if err != nil {
		e.Error = err.Error()
	}
	e.State = ExecStateFailed
}

// Reschedule suspends the execution until the supplied eligibility time.
// The worker that calls it is released back to the pool; the orchestrator
// republishes once RunAfter has passed.
func (e *Execution) Reschedule(at time.Time) {
	e.RunAfter = &at
	e.StartedAt = nil
	e.State = ExecStateScheduled
}

// Eligible reports whether the execution may be published now.
func (e *Execution) Eligible(now time.Time) bool {
	if e.State != ExecStateScheduled {
		return false
	}
	return e.RunAfter == nil || !now.Before(*e.RunAfter)
}

// Elapsed returns how long a gate execution has been waiting.
func (e *Execution) Elapsed(now time.Time) time.Duration {
	if e.EnteredAt == nil {
		return 0
	}
	return now.Sub(*e.EnteredAt)
}
