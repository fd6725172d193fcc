// Package processor hosts the worker pool that consumes queued work items.
// A worker handles exactly one item per pickup: a single stage attempt or a
// single gate poll. Waits never hold a worker; anything that cannot finish
// now is written back as scheduled with an eligibility time and the worker
// returns to the pool.
package processor

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/pedalhq/pedal/internal/clock"
	"github.com/pedalhq/pedal/policy"
	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/dao"
	"github.com/pedalhq/pedal/service/gate"
	"github.com/pedalhq/pedal/service/messaging"
	"github.com/pedalhq/pedal/service/runner"
	"github.com/pedalhq/pedal/tracing"
)

// Config holds processor tuning knobs.
type Config struct {
	// WorkerCount sets the pool size; stage attempts of distinct runs
	// execute concurrently up to this bound.
	WorkerCount int
	// DefaultRetryDelay spaces re-attempts of stages that declare none.
	DefaultRetryDelay time.Duration
}

// Service consumes executions from the queue and applies their outcome to
// the execution record. The run itself is never written here; the
// orchestrator folds finished records into run state on its next tick.
type Service struct {
	config       Config
	runDAO       dao.Service[string, execution.Run]
	executionDAO dao.Service[string, execution.Execution]
	queue        messaging.Queue[execution.Execution]
	runner       runner.Service
	sensor       *gate.Sensor

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New creates a processor.
func New(config Config, runDAO dao.Service[string, execution.Run], executionDAO dao.Service[string, execution.Execution], queue messaging.Queue[execution.Execution], stageRunner runner.Service, sensor *gate.Sensor) *Service {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.DefaultRetryDelay <= 0 {
		config.DefaultRetryDelay = 5 * time.Minute
	}
	return &Service{
		config:       config,
		runDAO:       runDAO,
		executionDAO: executionDAO,
		queue:        queue,
		runner:       stageRunner,
		sensor:       sensor,
	}
}

// Start launches the worker pool. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.work(ctx)
	}
}

// Shutdown stops the workers and waits for in-flight items to finish.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Service) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		message, err := s.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[processor] failed to consume: %v", err)
			continue
		}
		if err := s.handle(ctx, message.T()); err != nil {
			if nackErr := message.Nack(err); nackErr != nil {
				log.Printf("[processor] failed to nack: %v", nackErr)
			}
			continue
		}
		if err := message.Ack(); err != nil {
			log.Printf("[processor] failed to ack: %v", err)
		}
	}
}

// handle processes one work item. A returned error nacks the message so the
// queue's redelivery policy applies; everything the engine can decide
// itself, including stage failure, ends in an ack with the outcome recorded
// on the execution.
func (s *Service) handle(ctx context.Context, exec *execution.Execution) error {
	run, err := s.runDAO.Load(ctx, exec.RunID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			// Run archived while the item was queued; drop it.
			return nil
		}
		return err
	}
	if execution.IsTerminalRunState(run.GetState()) {
		return nil
	}
	if run.Cancelling() {
		// Park the item instead of starting work; the orchestrator
		// applies the cancel at this suspension point.
		exec.Reschedule(clock.Now())
		return s.saveSnapshot(ctx, exec)
	}

	ctx = policy.WithPolicy(ctx, policy.FromConfig(run.Policy))

	switch exec.Kind {
	case execution.KindGate:
		return s.pollGate(ctx, run, exec)
	default:
		return s.runStage(ctx, run, exec)
	}
}

// runStage performs one attempt of the stage's external command and records
// success, a spaced re-attempt, or terminal failure once the retry budget
// is spent.
func (s *Service) runStage(ctx context.Context, run *execution.Run, exec *execution.Execution) error {
	stage := run.Pipeline.LookupStage(exec.StageID)
	if stage == nil {
		exec.Fail(errors.New("unknown stage " + exec.StageID))
		return s.saveSnapshot(ctx, exec)
	}

	exec.Attempts++
	exec.Start()
	if err := s.saveSnapshot(ctx, exec); err != nil {
		return err
	}

	spanCtx, span := tracing.StartSpan(ctx, "stage.attempt")
	span.WithAttributes(map[string]string{
		tracing.AttrRunID:   exec.RunID,
		tracing.AttrStageID: exec.StageID,
		tracing.AttrAttempt: strconv.Itoa(exec.Attempts),
	})
	output, err := s.runner.Execute(spanCtx, stage, exec.Input)
	tracing.EndSpan(span, err)
	if err == nil {
		if output != "" {
			exec.Output = output
		}
		exec.Complete()
		return s.saveSnapshot(ctx, exec)
	}

	log.Printf("[processor] run %s stage %s attempt %d failed: %v", exec.RunID, exec.StageID, exec.Attempts, err)
	if exec.Attempts <= stage.RetryLimit {
		exec.Error = err.Error()
		exec.Reschedule(clock.Now().Add(stage.RetryDelayDuration(s.config.DefaultRetryDelay)))
		return s.saveSnapshot(ctx, exec)
	}
	exec.Fail(&execution.StageFailure{
		RunID:     exec.RunID,
		StageID:   exec.StageID,
		Attempts:  exec.Attempts,
		LastError: err.Error(),
	})
	return s.saveSnapshot(ctx, exec)
}

// pollGate performs one approval check and records the decision. A
// reschedule releases the worker; the orchestrator republishes the item
// once its resume time has passed.
func (s *Service) pollGate(ctx context.Context, run *execution.Run, exec *execution.Execution) error {
	gateDef := run.Pipeline.LookupGate(exec.Checkpoint)
	if gateDef == nil {
		exec.Fail(errors.New("unknown checkpoint " + exec.Checkpoint))
		return s.saveSnapshot(ctx, exec)
	}

	spanCtx, span := tracing.StartSpan(ctx, "gate.poll")
	span.WithAttributes(map[string]string{
		tracing.AttrRunID:      exec.RunID,
		tracing.AttrCheckpoint: exec.Checkpoint,
	})
	decision, err := s.sensor.Check(spanCtx, gateDef, exec)
	tracing.EndSpan(span, err)
	if err != nil {
		return err
	}

	switch decision.Outcome {
	case gate.OutcomeApproved:
		exec.Complete()
	case gate.OutcomeTimedOut:
		exec.Fail(&execution.GateTimeout{
			RunID:      exec.RunID,
			GateID:     exec.GateID,
			Checkpoint: exec.Checkpoint,
			Waited:     decision.Waited,
		})
	default:
		exec.Reschedule(decision.ResumeAt)
	}
	return s.saveSnapshot(ctx, exec)
}

// saveSnapshot persists a copy of the execution so the stored record is
// never shared with a still-mutating worker.
func (s *Service) saveSnapshot(ctx context.Context, exec *execution.Execution) error {
	snapshot := *exec
	if err := s.executionDAO.Save(ctx, &snapshot); err != nil {
		return &execution.PersistenceFailure{RunID: exec.RunID, Op: "execution", Err: err}
	}
	return nil
}
