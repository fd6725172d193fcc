package pedal

import (
	"context"
	"fmt"
	"time"

	"github.com/pedalhq/pedal/internal/idgen"
	"github.com/pedalhq/pedal/model"
	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/approval"
	"github.com/pedalhq/pedal/service/dao"
	"github.com/pedalhq/pedal/service/dao/pipeline"
	"github.com/pedalhq/pedal/service/messaging"
	"github.com/pedalhq/pedal/service/orchestrator"
	"github.com/pedalhq/pedal/service/processor"
)

// Runtime represents a running pipeline engine.
type Runtime struct {
	pipelineDAO     *pipeline.Service
	runDAO          dao.Service[string, execution.Run]
	executionDAO    dao.Service[string, execution.Execution]
	queue           messaging.Queue[execution.Execution]
	approvalService approval.Service
	orchestrator    *orchestrator.Service
	processor       *processor.Service
}

// LoadPipeline loads a pipeline definition from the configured source.
func (r *Runtime) LoadPipeline(ctx context.Context, location string) (*model.Pipeline, error) {
	return r.pipelineDAO.Load(ctx, location)
}

// DecodeYAMLPipeline decodes a pipeline definition from YAML bytes.
func (r *Runtime) DecodeYAMLPipeline(data []byte) (*model.Pipeline, error) {
	return r.pipelineDAO.DecodeYAML(data)
}

// RefreshPipeline discards any cached copy of the definition at the given
// location; the next LoadPipeline reloads it from source.
func (r *Runtime) RefreshPipeline(ctx context.Context, location string) (*model.Pipeline, error) {
	return r.pipelineDAO.Refresh(ctx, location)
}

// UpsertPipeline registers a programmatically built pipeline under its name.
func (r *Runtime) UpsertPipeline(p *model.Pipeline) error {
	return r.pipelineDAO.Upsert(p)
}

// StartRun launches a run of the supplied pipeline and returns it together
// with a wait function that blocks until the run reaches a terminal state.
// An approval policy carried by ctx (see the policy package) is recorded on
// the run.
func (r *Runtime) StartRun(ctx context.Context, p *model.Pipeline) (*execution.Run, execution.Wait, error) {
	if p == nil {
		return nil, nil, fmt.Errorf("pipeline was nil")
	}
	id := p.Name + "/" + idgen.New()
	run, err := r.orchestrator.StartRun(ctx, id, p)
	if err != nil {
		return nil, nil, err
	}
	wait := func(ctx context.Context, timeout time.Duration) (*execution.RunOutput, error) {
		return r.waitForRun(ctx, run.ID, timeout)
	}
	return run, wait, nil
}

// CancelRun flags a run for cooperative cancellation; see
// orchestrator.Service.CancelRun for the exact semantics.
func (r *Runtime) CancelRun(ctx context.Context, runID string) error {
	return r.orchestrator.CancelRun(ctx, runID)
}

// Grant approves a checkpoint, releasing any run currently gated on it at
// its next poll.
func (r *Runtime) Grant(ctx context.Context, checkpoint string) (*approval.Entry, error) {
	return r.approvalService.Grant(ctx, checkpoint)
}

// Approval exposes the approval registry.
func (r *Runtime) Approval() approval.Service {
	return r.approvalService
}

// Run returns a run by id.
func (r *Runtime) Run(ctx context.Context, id string) (*execution.Run, error) {
	return r.runDAO.Load(ctx, id)
}

// Runs lists runs, optionally filtered (e.g. dao.NewParameter("state",
// execution.StateRunning)).
func (r *Runtime) Runs(ctx context.Context, parameters ...*dao.Parameter) ([]*execution.Run, error) {
	return r.runDAO.List(ctx, parameters...)
}

// Execution returns the in-flight work item of a run slot, if any.
func (r *Runtime) Execution(ctx context.Context, id string) (*execution.Execution, error) {
	return r.executionDAO.Load(ctx, id)
}

// Start recovers interrupted work and launches the engine loops.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.orchestrator.Recover(ctx); err != nil {
		return err
	}
	r.processor.Start(ctx)
	r.orchestrator.Start(ctx)
	return nil
}

// Shutdown stops the engine loops.
func (r *Runtime) Shutdown(context.Context) error {
	r.orchestrator.Shutdown()
	r.processor.Shutdown()
	return nil
}

// waitForRun polls run state until it turns terminal or timeout elapses. On
// timeout the current snapshot is returned with Timeout set rather than an
// error, so callers can still inspect progress.
func (r *Runtime) waitForRun(ctx context.Context, runID string, timeout time.Duration) (*execution.RunOutput, error) {
	deadline := time.Now().Add(timeout)
	for {
		run, err := r.runDAO.Load(ctx, runID)
		if err != nil {
			return nil, err
		}
		if execution.IsTerminalRunState(run.GetState()) {
			return runOutput(run, false), nil
		}
		if time.Now().After(deadline) {
			return runOutput(run, true), nil
		}
		select {
		case <-ctx.Done():
			return runOutput(run, true), ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func runOutput(run *execution.Run, timedOut bool) *execution.RunOutput {
	snapshot := run.Clone()
	out := &execution.RunOutput{
		RunID:         snapshot.ID,
		State:         snapshot.State,
		StageStatuses: snapshot.StageStatuses,
		GateStatuses:  snapshot.GateStatuses,
		Errors:        snapshot.Errors,
		Timeout:       timedOut,
	}
	if snapshot.StartedAt != nil {
		until := time.Now()
		if snapshot.FinishedAt != nil {
			until = *snapshot.FinishedAt
		}
		out.TimeTaken = until.Sub(*snapshot.StartedAt)
	}
	return out
}
