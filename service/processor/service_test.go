package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pedalhq/pedal/internal/clock"
	"github.com/pedalhq/pedal/model"
	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/approval"
	approvalmemory "github.com/pedalhq/pedal/service/approval/memory"
	execmemory "github.com/pedalhq/pedal/service/dao/execution/memory"
	runmemory "github.com/pedalhq/pedal/service/dao/run/memory"
	"github.com/pedalhq/pedal/service/gate"
	queuemem "github.com/pedalhq/pedal/service/messaging/memory"
	"github.com/pedalhq/pedal/service/runner"
)

func testPipeline() *model.Pipeline {
	pipeline := model.NewPipeline("demo")
	pipeline.Input = "in.json"
	pipeline.NewStage("a", "gen-a --input ${input} --output ${output}").
		WithIO("", "a.json").
		WithRetry(1, "5m").
		WithGate("a", "1h", "1m")
	pipeline.NewStage("b", "gen-b --input ${input} --output ${output}").
		WithIO("", "b.json")
	pipeline.Init()
	return pipeline
}

func newService(stage runner.Service) (*Service, *runmemory.Service, *execmemory.Service, approval.Service) {
	runDAO := runmemory.New()
	executionDAO := execmemory.New()
	queue := queuemem.NewQueue[execution.Execution](queuemem.DefaultConfig())
	registry := approvalmemory.New()
	sensor := gate.New(registry, time.Minute)
	return New(Config{}, runDAO, executionDAO, queue, stage, sensor), runDAO, executionDAO, registry
}

func runningRun(t *testing.T, runDAO *runmemory.Service) *execution.Run {
	run := execution.NewRun("demo/1", testPipeline())
	run.SetState(execution.StateRunning)
	assert.NoError(t, runDAO.Save(context.Background(), run))
	return run
}

func TestStageAttemptSucceeds(t *testing.T) {
	var gotStage, gotInput string
	stub := runner.Func(func(_ context.Context, stage *model.Stage, input string) (string, error) {
		gotStage, gotInput = stage.ID, input
		return stage.Output, nil
	})
	service, runDAO, executionDAO, _ := newService(stub)
	run := runningRun(t, runDAO)
	ctx := context.Background()

	exec := execution.NewStageExecution(run.ID, run.Pipeline.StageAt(0), "in.json")
	exec.State = execution.ExecStateQueued

	assert.NoError(t, service.handle(ctx, exec))
	assert.Equal(t, "a", gotStage)
	assert.Equal(t, "in.json", gotInput)

	stored, err := executionDAO.Load(ctx, exec.ID)
	assert.NoError(t, err)
	if assert.NotNil(t, stored) {
		assert.Equal(t, execution.ExecStateCompleted, stored.State)
		assert.Equal(t, "a.json", stored.Output)
		assert.Equal(t, 1, stored.Attempts)
	}
}

func TestStageRetryThenExhaustion(t *testing.T) {
	base := time.Date(2025, 4, 7, 10, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return base }
	defer func() { clock.NowFunc = time.Now }()

	stub := runner.Func(func(context.Context, *model.Stage, string) (string, error) {
		return "", errors.New("exit status 3")
	})
	service, runDAO, executionDAO, _ := newService(stub)
	run := runningRun(t, runDAO)
	ctx := context.Background()

	exec := execution.NewStageExecution(run.ID, run.Pipeline.StageAt(0), "in.json")
	exec.State = execution.ExecStateQueued

	// First failure stays within the retry budget: re-attempt after the
	// declared delay.
	assert.NoError(t, service.handle(ctx, exec))
	stored, err := executionDAO.Load(ctx, exec.ID)
	assert.NoError(t, err)
	if assert.NotNil(t, stored) {
		assert.Equal(t, execution.ExecStateScheduled, stored.State)
		assert.Equal(t, 1, stored.Attempts)
		assert.Equal(t, base.Add(5*time.Minute), *stored.RunAfter)
	}

	// Second failure exhausts the budget.
	exec.State = execution.ExecStateQueued
	assert.NoError(t, service.handle(ctx, exec))
	stored, err = executionDAO.Load(ctx, exec.ID)
	assert.NoError(t, err)
	if assert.NotNil(t, stored) {
		assert.Equal(t, execution.ExecStateFailed, stored.State)
		assert.Equal(t, 2, stored.Attempts)
		assert.True(t, strings.Contains(stored.Error, "after 2 attempt(s)"))
	}
}

func TestGatePollRescheduleThenApprove(t *testing.T) {
	base := time.Date(2025, 4, 7, 10, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return base }
	defer func() { clock.NowFunc = time.Now }()

	service, runDAO, executionDAO, registry := newService(runner.Func(nil))
	run := runningRun(t, runDAO)
	ctx := context.Background()

	gateDef := run.Pipeline.GateAt(0)
	exec := execution.NewGateExecution(run.ID, gateDef, time.Hour)
	exec.State = execution.ExecStateQueued

	// No grant yet: the poll parks the execution one interval out.
	assert.NoError(t, service.handle(ctx, exec))
	stored, err := executionDAO.Load(ctx, exec.ID)
	assert.NoError(t, err)
	if assert.NotNil(t, stored) {
		assert.Equal(t, execution.ExecStateScheduled, stored.State)
		assert.Equal(t, base.Add(time.Minute), *stored.RunAfter)
	}

	_, err = registry.Grant(ctx, gateDef.Checkpoint)
	assert.NoError(t, err)

	exec.State = execution.ExecStateQueued
	assert.NoError(t, service.handle(ctx, exec))
	stored, err = executionDAO.Load(ctx, exec.ID)
	assert.NoError(t, err)
	if assert.NotNil(t, stored) {
		assert.Equal(t, execution.ExecStateCompleted, stored.State)
	}
}

func TestCancelParksWorkWithoutRunning(t *testing.T) {
	invoked := false
	stub := runner.Func(func(context.Context, *model.Stage, string) (string, error) {
		invoked = true
		return "", nil
	})
	service, runDAO, executionDAO, _ := newService(stub)
	run := runningRun(t, runDAO)
	run.RequestCancel()
	ctx := context.Background()

	exec := execution.NewStageExecution(run.ID, run.Pipeline.StageAt(0), "in.json")
	exec.State = execution.ExecStateQueued

	assert.NoError(t, service.handle(ctx, exec))
	assert.False(t, invoked)

	stored, err := executionDAO.Load(ctx, exec.ID)
	assert.NoError(t, err)
	if assert.NotNil(t, stored) {
		assert.Equal(t, execution.ExecStateScheduled, stored.State)
		assert.Equal(t, 0, stored.Attempts)
	}
}

func TestStaleWorkForFinishedRunIsDropped(t *testing.T) {
	service, runDAO, executionDAO, _ := newService(runner.Func(nil))
	run := runningRun(t, runDAO)
	run.SetState(execution.StateFailed)
	ctx := context.Background()

	exec := execution.NewStageExecution(run.ID, run.Pipeline.StageAt(0), "in.json")
	exec.State = execution.ExecStateQueued

	assert.NoError(t, service.handle(ctx, exec))
	stored, err := executionDAO.Load(ctx, exec.ID)
	assert.NoError(t, err)
	assert.Nil(t, stored)
}
