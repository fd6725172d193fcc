// Package gate implements the approval gate sensor: the decision taken on
// every poll of a waiting gate. The sensor never blocks - it either lets the
// run through, times the gate out, or asks to be woken again later, so that
// no worker is held across human-timescale waits.
package gate

import (
	"context"
	"time"

	"github.com/pedalhq/pedal/internal/clock"
	"github.com/pedalhq/pedal/model"
	"github.com/pedalhq/pedal/policy"
	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/approval"
)

// Outcome of a single gate poll.
type Outcome string

const (
	// OutcomeApproved lets the orchestrator advance the cursor.
	OutcomeApproved Outcome = "approved"
	// OutcomeReschedule suspends the gate until ResumeAt.
	OutcomeReschedule Outcome = "reschedule"
	// OutcomeTimedOut is terminal for the run.
	OutcomeTimedOut Outcome = "timedOut"
)

// Decision is the result of one poll.
type Decision struct {
	Outcome  Outcome
	ResumeAt time.Time     // set for OutcomeReschedule
	Waited   time.Duration // elapsed wait, for diagnostics
}

// Sensor polls the approval registry for one checkpoint at a time.
type Sensor struct {
	registry            approval.Service
	defaultPollInterval time.Duration
}

// New creates a gate sensor backed by the supplied registry.
func New(registry approval.Service, defaultPollInterval time.Duration) *Sensor {
	if defaultPollInterval <= 0 {
		defaultPollInterval = time.Minute
	}
	return &Sensor{registry: registry, defaultPollInterval: defaultPollInterval}
}

// Check performs one poll for the gate execution. The approval entry is
// created implicitly on the first poll; an auto-approval policy carried by
// ctx may grant the checkpoint on entry. The deadline was fixed when the
// execution was created, so a missed wake-up can delay the timeout by at
// most one poll interval but never extend it silently.
func (s *Sensor) Check(ctx context.Context, gate *model.Gate, exec *execution.Execution) (*Decision, error) {
	if _, err := s.registry.Ensure(ctx, gate.Checkpoint); err != nil {
		return nil, err
	}

	if p := policy.FromContext(ctx); p.AutoApproves(gate.Checkpoint) {
		if _, err := s.registry.Grant(ctx, gate.Checkpoint); err != nil {
			return nil, err
		}
	}

	approved, err := s.registry.Query(ctx, gate.Checkpoint)
	if err != nil {
		return nil, err
	}

	now := clock.Now()
	waited := exec.Elapsed(now)
	if approved {
		return &Decision{Outcome: OutcomeApproved, Waited: waited}, nil
	}
	if exec.Deadline != nil && !now.Before(*exec.Deadline) {
		return &Decision{Outcome: OutcomeTimedOut, Waited: waited}, nil
	}
	return &Decision{
		Outcome:  OutcomeReschedule,
		ResumeAt: now.Add(gate.PollIntervalDuration(s.defaultPollInterval)),
		Waited:   waited,
	}, nil
}
