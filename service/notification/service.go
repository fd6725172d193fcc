// Package notification is the outbound failure-event boundary. The engine
// emits a structured event when a run reaches a terminal state; delivery is
// best-effort and a delivery failure never affects run state.
package notification

import (
	"context"
	"time"
)

// Event kinds emitted by the engine.
const (
	KindStageFailure = "stageFailure"
	KindGateTimeout  = "gateTimeout"
	KindCancelled    = "cancelled"
	KindCompleted    = "completed"
)

// Event describes one terminal run outcome with enough detail to diagnose
// without inspecting logs.
type Event struct {
	RunID    string `json:"runId"`
	Pipeline string `json:"pipeline,omitempty"`
	Kind     string `json:"kind"`
	// StageOrGateID identifies the chain element the event refers to; empty
	// for whole-run events such as completion.
	StageOrGateID string        `json:"stageOrGateId,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	Attempts      int           `json:"attempts,omitempty"`
	Waited        time.Duration `json:"waited,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Service delivers events to an external channel (email, chat, webhook).
type Service interface {
	Notify(ctx context.Context, event *Event) error
}
