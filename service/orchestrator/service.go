package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/pedalhq/pedal/internal/clock"
	"github.com/pedalhq/pedal/model"
	"github.com/pedalhq/pedal/policy"
	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/dao"
	"github.com/pedalhq/pedal/service/messaging"
	"github.com/pedalhq/pedal/service/notification"
	"github.com/pedalhq/pedal/tracing"
)

// Config holds orchestrator tuning knobs.
type Config struct {
	// TickInterval paces the scan over active runs.
	TickInterval time.Duration
	// DefaultGateTimeout bounds gate waits for gates that declare none.
	DefaultGateTimeout time.Duration
}

// Service drives runs forward. It is the sole writer of run state and the
// sole publisher of work: each tick it scans active runs, materialises the
// work item for the cursor slot when none exists, republishes suspended
// items whose eligibility time has passed, and folds finished items back
// into the run. Cancellation is applied here too, at suspension points only.
type Service struct {
	config       Config
	runDAO       dao.Service[string, execution.Run]
	executionDAO dao.Service[string, execution.Execution]
	queue        messaging.Queue[execution.Execution]
	notifier     notification.Service

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New creates a run orchestrator.
func New(config Config, runDAO dao.Service[string, execution.Run], executionDAO dao.Service[string, execution.Execution], queue messaging.Queue[execution.Execution], notifier notification.Service) *Service {
	if config.TickInterval <= 0 {
		config.TickInterval = 20 * time.Millisecond
	}
	if config.DefaultGateTimeout <= 0 {
		config.DefaultGateTimeout = time.Hour
	}
	if notifier == nil {
		notifier = notification.NewLog()
	}
	return &Service{
		config:       config,
		runDAO:       runDAO,
		executionDAO: executionDAO,
		queue:        queue,
		notifier:     notifier,
		shutdown:     make(chan struct{}),
	}
}

// StartRun validates the pipeline, creates its run in the running state and
// persists it. The first stage is picked up by the next tick. The approval
// policy carried by ctx, if any, is recorded on the run so gate checks keep
// honouring it across restarts.
func (s *Service) StartRun(ctx context.Context, id string, pipeline *model.Pipeline) (*execution.Run, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline was nil")
	}
	pipeline.Init()
	if errs := pipeline.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	ctx, span := tracing.StartSpan(ctx, "run.start")
	span.WithAttributes(map[string]string{
		tracing.AttrRunID:    id,
		tracing.AttrPipeline: pipeline.Name,
	})
	defer tracing.EndSpan(span, nil)

	run := execution.NewRun(id, pipeline)
	run.Policy = policy.ToConfig(policy.FromContext(ctx))
	run.SetState(execution.StateRunning)
	if err := s.runDAO.Save(ctx, run); err != nil {
		return nil, &execution.PersistenceFailure{RunID: id, Op: "create", Err: err}
	}
	return run, nil
}

// CancelRun flags a run for cooperative cancellation. The flag takes effect
// at the next suspension point; a run whose current stage attempt is in
// flight finishes that attempt first. Cancelling a finished run is a no-op.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	run, err := s.runDAO.Load(ctx, runID)
	if err != nil {
		return err
	}
	if execution.IsTerminalRunState(run.GetState()) {
		return nil
	}
	run.RequestCancel()
	if err := s.runDAO.Save(ctx, run); err != nil {
		return &execution.PersistenceFailure{RunID: runID, Op: "cancel", Err: err}
	}
	return nil
}

// Start launches the tick loop. It returns immediately; the loop stops when
// ctx is cancelled or Shutdown is called.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Shutdown stops the tick loop.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

// Recover re-arms interrupted work after a restart. Executions left queued
// or running by a previous incarnation have unknown outcomes; they are
// rescheduled for immediate re-attempt, which makes stage invocation
// at-least-once across restarts.
func (s *Service) Recover(ctx context.Context) error {
	runs, err := s.runDAO.List(ctx, dao.NewParameter("state", execution.StateRunning))
	if err != nil {
		return err
	}
	now := clock.Now()
	for _, run := range runs {
		exec, _, err := s.slotExecution(ctx, run)
		if err != nil {
			return err
		}
		if exec == nil {
			continue
		}
		if exec.State == execution.ExecStateQueued || exec.State == execution.ExecStateRunning {
			exec.Reschedule(now)
			if err := s.executionDAO.Save(ctx, exec); err != nil {
				return err
			}
		}
	}
	return nil
}

// tick advances every active run by at most one step.
func (s *Service) tick(ctx context.Context) {
	runs, err := s.runDAO.List(ctx, dao.NewParameter("state", execution.StateRunning))
	if err != nil {
		log.Printf("[orchestrator] failed to list active runs: %v", err)
		return
	}
	for _, run := range runs {
		if err := s.progress(ctx, run); err != nil {
			log.Printf("[orchestrator] run %s: %v", run.ID, err)
		}
	}
}

// progress inspects the work item at the run cursor and reacts to its state.
func (s *Service) progress(ctx context.Context, run *execution.Run) error {
	if execution.IsTerminalRunState(run.GetState()) {
		return nil
	}

	exec, slot, err := s.slotExecution(ctx, run)
	if err != nil {
		return err
	}
	if slot == nil {
		// Cursor past the last step; close the run out.
		return s.finalize(ctx, run, execution.StateCompleted, nil)
	}

	if exec == nil {
		if run.Cancelling() {
			return s.finalize(ctx, run, execution.StateCancelled, nil)
		}
		return s.materialize(ctx, run, slot)
	}

	switch exec.State {
	case execution.ExecStateScheduled:
		if run.Cancelling() {
			if err := s.executionDAO.Delete(ctx, exec.ID); err != nil {
				return err
			}
			return s.finalize(ctx, run, execution.StateCancelled, nil)
		}
		if exec.Kind == execution.KindStage && exec.Attempts > 0 && run.StageStatusOf(exec.StageID) != execution.StageRetrying {
			run.SetStageStatus(exec.StageID, execution.StageRetrying)
			if err := s.saveRun(ctx, run, "retry"); err != nil {
				return err
			}
		}
		if exec.Eligible(clock.Now()) {
			return s.publish(ctx, run, exec)
		}
		return nil
	case execution.ExecStateQueued, execution.ExecStateRunning:
		// In flight; cancellation waits for the attempt to finish.
		return nil
	case execution.ExecStateCompleted:
		return s.completed(ctx, run, exec)
	case execution.ExecStateFailed:
		return s.failed(ctx, run, exec)
	}
	return nil
}

// slot pairs the element at the run cursor with its phase.
type slot struct {
	stage *model.Stage
	gate  *model.Gate
}

// slotExecution loads the execution record for the current cursor slot,
// returning nil when none has been materialised yet.
func (s *Service) slotExecution(ctx context.Context, run *execution.Run) (*execution.Execution, *slot, error) {
	cursor, phase := run.Position()
	var id string
	var current slot
	switch phase {
	case execution.PhaseGate:
		current.gate = run.Pipeline.GateAt(cursor)
		if current.gate == nil {
			return nil, nil, nil
		}
		id = execution.GateExecutionID(run.ID, current.gate.ID)
	default:
		current.stage = run.Pipeline.StageAt(cursor)
		if current.stage == nil {
			return nil, nil, nil
		}
		id = execution.StageExecutionID(run.ID, current.stage.ID)
	}

	exec, err := s.executionDAO.Load(ctx, id)
	if err != nil && !errors.Is(err, dao.ErrNotFound) {
		return nil, &current, err
	}
	return exec, &current, nil
}

// materialize creates the work item for the cursor slot and publishes it.
// Run and execution state are persisted before the item hits the queue, so
// a crash in between re-creates the same deterministic identity.
func (s *Service) materialize(ctx context.Context, run *execution.Run, current *slot) error {
	var exec *execution.Execution
	if current.gate != nil {
		timeout := current.gate.TimeoutDuration(s.config.DefaultGateTimeout)
		exec = execution.NewGateExecution(run.ID, current.gate, timeout)
		run.SetGateStatus(current.gate.ID, execution.GateWaiting)
		if err := s.saveRun(ctx, run, "enter gate"); err != nil {
			return err
		}
	} else {
		input := run.StageInput(current.stage)
		exec = execution.NewStageExecution(run.ID, current.stage, input)
	}
	return s.publish(ctx, run, exec)
}

// publish hands a scheduled execution to the worker pool. The queued state
// guards against double-publish on subsequent ticks; workers receive a
// snapshot and write their own copies back, so the stored record is never
// mutated concurrently.
func (s *Service) publish(ctx context.Context, run *execution.Run, exec *execution.Execution) error {
	if exec.Kind == execution.KindStage && run.StageStatusOf(exec.StageID) != execution.StageRunning {
		run.SetStageStatus(exec.StageID, execution.StageRunning)
		if err := s.saveRun(ctx, run, "dispatch"); err != nil {
			return err
		}
	}
	exec.State = execution.ExecStateQueued
	if err := s.executionDAO.Save(ctx, exec); err != nil {
		return err
	}
	snapshot := *exec
	return s.queue.Publish(ctx, &snapshot)
}

// completed folds a finished work item into the run: records the stage
// outcome or gate approval, moves the cursor and closes the run out when
// the chain is exhausted.
func (s *Service) completed(ctx context.Context, run *execution.Run, exec *execution.Execution) error {
	last := false
	if exec.Kind == execution.KindStage {
		run.SetStageStatus(exec.StageID, execution.StageSucceeded)
		run.SetAttempts(exec.StageID, exec.Attempts)
		if exec.Output != "" {
			run.RecordArtifact(exec.StageID, exec.Output)
		}
		if run.ActiveGate() != nil {
			run.EnterGate()
		} else {
			last = !run.Advance()
		}
	} else {
		run.SetGateStatus(exec.GateID, execution.GateApproved)
		last = !run.Advance()
	}

	if last {
		run.SetState(execution.StateCompleted)
	}
	if err := s.saveRun(ctx, run, "advance"); err != nil {
		return err
	}
	if err := s.executionDAO.Delete(ctx, exec.ID); err != nil {
		return err
	}
	if last {
		s.notify(ctx, &notification.Event{
			RunID:     run.ID,
			Pipeline:  run.Pipeline.Name,
			Kind:      notification.KindCompleted,
			CreatedAt: clock.Now(),
		})
	}
	return nil
}

// failed transitions the run to its terminal failure state: failed for an
// exhausted stage, timedOut for an expired gate.
func (s *Service) failed(ctx context.Context, run *execution.Run, exec *execution.Execution) error {
	event := &notification.Event{
		RunID:     run.ID,
		Pipeline:  run.Pipeline.Name,
		Detail:    exec.Error,
		CreatedAt: clock.Now(),
	}
	if exec.Kind == execution.KindStage {
		run.SetStageStatus(exec.StageID, execution.StageFailed)
		run.SetAttempts(exec.StageID, exec.Attempts)
		run.RecordError(exec.StageID, exec.Error)
		run.SetState(execution.StateFailed)
		event.Kind = notification.KindStageFailure
		event.StageOrGateID = exec.StageID
		event.Attempts = exec.Attempts
	} else {
		run.SetGateStatus(exec.GateID, execution.GateTimedOut)
		run.RecordError(exec.GateID, exec.Error)
		run.SetState(execution.StateTimedOut)
		event.Kind = notification.KindGateTimeout
		event.StageOrGateID = exec.GateID
		waitedUntil := clock.Now()
		if exec.CompletedAt != nil {
			waitedUntil = *exec.CompletedAt
		}
		event.Waited = exec.Elapsed(waitedUntil)
	}

	if err := s.saveRun(ctx, run, "fail"); err != nil {
		return err
	}
	if err := s.executionDAO.Delete(ctx, exec.ID); err != nil {
		return err
	}
	s.notify(ctx, event)
	return nil
}

// finalize moves a run straight to a terminal state outside the normal
// completed/failed folding, i.e. cancellation and cursor exhaustion.
func (s *Service) finalize(ctx context.Context, run *execution.Run, state string, event *notification.Event) error {
	run.SetState(state)
	if err := s.saveRun(ctx, run, state); err != nil {
		return err
	}
	if state == execution.StateCancelled {
		event = &notification.Event{
			RunID:     run.ID,
			Pipeline:  run.Pipeline.Name,
			Kind:      notification.KindCancelled,
			Detail:    (&execution.CancellationRequested{RunID: run.ID}).Error(),
			CreatedAt: clock.Now(),
		}
	}
	if event != nil {
		s.notify(ctx, event)
	}
	return nil
}

// saveRun persists run state synchronously; the engine never advances on
// un-persisted state.
func (s *Service) saveRun(ctx context.Context, run *execution.Run, op string) error {
	if err := s.runDAO.Save(ctx, run); err != nil {
		return &execution.PersistenceFailure{RunID: run.ID, Op: op, Err: err}
	}
	return nil
}

// notify delivers an event best-effort; a delivery failure never affects
// run state.
func (s *Service) notify(ctx context.Context, event *notification.Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Printf("[orchestrator] failed to notify %s for run %s: %v", event.Kind, event.RunID, err)
	}
}
