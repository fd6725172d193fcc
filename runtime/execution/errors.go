package execution

import (
	"fmt"
	"time"
)

// StageFailure reports a stage whose external invocation exhausted its retry
// budget. It carries enough detail to diagnose without inspecting logs.
type StageFailure struct {
	RunID     string
	StageID   string
	Attempts  int
	LastError string
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %s", e.StageID, e.Attempts, e.LastError)
}

// GateTimeout reports a gate whose approval was not granted within the
// allotted window.
type GateTimeout struct {
	RunID      string
	GateID     string
	Checkpoint string
	Waited     time.Duration
}

func (e *GateTimeout) Error() string {
	return fmt.Sprintf("gate %s timed out waiting %s for checkpoint %q", e.GateID, e.Waited, e.Checkpoint)
}

// CancellationRequested reports a run stopped at a suspension point after a
// cooperative cancel.
type CancellationRequested struct {
	RunID string
}

func (e *CancellationRequested) Error() string {
	return fmt.Sprintf("run %s cancelled on request", e.RunID)
}

// PersistenceFailure wraps a run-state write error. It is fatal to the
// current attempt - the engine never advances on un-persisted state.
type PersistenceFailure struct {
	RunID string
	Op    string
	Err   error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("failed to persist run %s (%s): %v", e.RunID, e.Op, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }
