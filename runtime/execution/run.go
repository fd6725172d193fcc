package execution

import (
	"context"
	"sync"
	"time"

	"github.com/pedalhq/pedal/internal/clock"
	"github.com/pedalhq/pedal/model"
	"github.com/pedalhq/pedal/policy"
)

// Run represents one end-to-end execution instance of a pipeline definition.
// It exclusively owns its status maps; components other than the
// orchestrator read but never mutate them.
type Run struct {
	ID       string          `json:"id"`
	Pipeline *model.Pipeline `json:"pipeline"`
	State    string          `json:"state"`

	// Cursor indexes the active (stage, gate) pair; Phase selects the half
	// currently in progress. Cursor == len(Pipeline.Steps) marks the chain
	// as exhausted.
	Cursor int   `json:"cursor"`
	Phase  Phase `json:"phase"`

	StageStatuses map[string]StageStatus `json:"stageStatuses"`
	GateStatuses  map[string]GateStatus  `json:"gateStatuses"`
	// Attempts counts invocations made per stage.
	Attempts map[string]int `json:"attempts,omitempty"`
	// Artifacts records each succeeded stage's output path; the next stage
	// consumes it when it declares no input of its own.
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`

	CancelRequested bool `json:"cancelRequested,omitempty"`

	// Policy captures the approval policy the run was started with so that
	// gate checks keep honouring it after a restart.
	Policy *policy.Config `json:"policy,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	mu sync.RWMutex
}

// NewRun creates a pending run for the supplied pipeline. Every stage starts
// as pending; gate statuses are recorded lazily when the run reaches them.
func NewRun(id string, pipeline *model.Pipeline) *Run {
	now := clock.Now()
	run := &Run{
		ID:            id,
		Pipeline:      pipeline,
		State:         StatePending,
		Cursor:        0,
		Phase:         PhaseStage,
		StageStatuses: make(map[string]StageStatus),
		GateStatuses:  make(map[string]GateStatus),
		Attempts:      make(map[string]int),
		Artifacts:     make(map[string]string),
		Errors:        make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, step := range pipeline.Steps {
		if step.Stage != nil {
			run.StageStatuses[step.Stage.ID] = StagePending
		}
	}
	return run
}

// GetState returns the run state.
func (r *Run) GetState() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.State
}

// SetState updates the run state, stamping FinishedAt on terminal states.
func (r *Run) SetState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = state
	now := clock.Now()
	if state == StateRunning && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if IsTerminalRunState(state) {
		r.FinishedAt = &now
	}
	r.UpdatedAt = now
}

// SetStageStatus records the status of one stage.
func (r *Run) SetStageStatus(stageID string, status StageStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StageStatuses[stageID] = status
	r.UpdatedAt = clock.Now()
}

// StageStatusOf returns the recorded status of one stage.
func (r *Run) StageStatusOf(stageID string) StageStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.StageStatuses[stageID]
}

// SetGateStatus records the status of one gate.
func (r *Run) SetGateStatus(gateID string, status GateStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GateStatuses[gateID] = status
	r.UpdatedAt = clock.Now()
}

// GateStatusOf returns the recorded status of one gate.
func (r *Run) GateStatusOf(gateID string) GateStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.GateStatuses[gateID]
}

// SetAttempts records the number of invocations made for a stage.
func (r *Run) SetAttempts(stageID string, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Attempts[stageID] = attempts
	r.UpdatedAt = clock.Now()
}

// AttemptsOf returns the number of invocations made for a stage.
func (r *Run) AttemptsOf(stageID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Attempts[stageID]
}

// RecordArtifact stores the output path produced by a succeeded stage.
func (r *Run) RecordArtifact(stageID, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Artifacts[stageID] = output
	r.UpdatedAt = clock.Now()
}

// RecordError stores a diagnostic message under the failing stage or gate id.
func (r *Run) RecordError(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors[id] = message
	r.UpdatedAt = clock.Now()
}

// RequestCancel flags the run for cooperative cancellation; the orchestrator
// applies it at the next suspension point.
func (r *Run) RequestCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CancelRequested = true
	r.UpdatedAt = clock.Now()
}

// Cancelling reports whether cancellation has been requested.
func (r *Run) Cancelling() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.CancelRequested
}

// EnterGate moves the run from the stage half of the current pair to its
// gate half.
func (r *Run) EnterGate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phase = PhaseGate
	r.UpdatedAt = clock.Now()
}

// Advance moves the cursor to the next pair. It reports whether another pair
// remains; when none does the caller transitions the run to completed.
func (r *Run) Advance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cursor++
	r.Phase = PhaseStage
	r.UpdatedAt = clock.Now()
	return r.Cursor < len(r.Pipeline.Steps)
}

// Position returns the current cursor and phase under the run lock.
func (r *Run) Position() (int, Phase) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Cursor, r.Phase
}

// ActiveStage returns the stage at the cursor, or nil for an exhausted run.
func (r *Run) ActiveStage() *model.Stage {
	cursor, _ := r.Position()
	return r.Pipeline.StageAt(cursor)
}

// ActiveGate returns the gate at the cursor, or nil when the current step
// carries none.
func (r *Run) ActiveGate() *model.Gate {
	cursor, _ := r.Position()
	return r.Pipeline.GateAt(cursor)
}

// StageInput resolves the input artifact for the stage at the cursor: the
// stage's declared input, else the previous stage's recorded output, else
// the pipeline input.
func (r *Run) StageInput(stage *model.Stage) string {
	if stage.Input != "" {
		return stage.Input
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := r.Cursor - 1; i >= 0; i-- {
		if prev := r.Pipeline.StageAt(i); prev != nil {
			if output, ok := r.Artifacts[prev.ID]; ok && output != "" {
				return output
			}
		}
	}
	return r.Pipeline.Input
}

// CopyFrom updates exported fields from src. It intentionally skips the
// mutex as copying it would corrupt internal state.
func (r *Run) CopyFrom(src any) {
	other, ok := src.(*Run)
	if !ok || other == nil || r == other {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.State = other.State
	r.Cursor = other.Cursor
	r.Phase = other.Phase
	r.StageStatuses = other.StageStatuses
	r.GateStatuses = other.GateStatuses
	r.Attempts = other.Attempts
	r.Artifacts = other.Artifacts
	r.Errors = other.Errors
	r.CancelRequested = other.CancelRequested
	r.Policy = other.Policy
	r.StartedAt = other.StartedAt
	r.UpdatedAt = other.UpdatedAt
	r.FinishedAt = other.FinishedAt
	// Pipeline and CreatedAt are immutable after creation - no copy.
}

// Clone creates a deep copy of the run suitable for mutation outside the
// original store. The pipeline pointer is shared - definitions are immutable
// once a run has started.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &Run{
		ID:              r.ID,
		Pipeline:        r.Pipeline,
		State:           r.State,
		Cursor:          r.Cursor,
		Phase:           r.Phase,
		CancelRequested: r.CancelRequested,
		Policy:          r.Policy,
		CreatedAt:       r.CreatedAt,
		StartedAt:       r.StartedAt,
		UpdatedAt:       r.UpdatedAt,
		FinishedAt:      r.FinishedAt,
	}
	out.StageStatuses = make(map[string]StageStatus, len(r.StageStatuses))
	for k, v := range r.StageStatuses {
		out.StageStatuses[k] = v
	}
	out.GateStatuses = make(map[string]GateStatus, len(r.GateStatuses))
	for k, v := range r.GateStatuses {
		out.GateStatuses[k] = v
	}
	out.Attempts = make(map[string]int, len(r.Attempts))
	for k, v := range r.Attempts {
		out.Attempts[k] = v
	}
	out.Artifacts = make(map[string]string, len(r.Artifacts))
	for k, v := range r.Artifacts {
		out.Artifacts[k] = v
	}
	out.Errors = make(map[string]string, len(r.Errors))
	for k, v := range r.Errors {
		out.Errors[k] = v
	}
	return out
}

// Wait blocks until a run reaches a terminal state or the timeout elapses.
type Wait func(ctx context.Context, timeout time.Duration) (*RunOutput, error)

// RunOutput summarises a finished (or timed-out wait on a) run.
type RunOutput struct {
	RunID         string
	State         string
	StageStatuses map[string]StageStatus
	GateStatuses  map[string]GateStatus
	Errors        map[string]string
	TimeTaken     time.Duration
	Timeout       bool
}
