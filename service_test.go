package pedal_test

import (
	"context"
	"embed"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	_ "github.com/viant/afs/embed"

	"github.com/pedalhq/pedal"
	"github.com/pedalhq/pedal/model"
	"github.com/pedalhq/pedal/policy"
	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/notification"
	"github.com/pedalhq/pedal/service/runner"
)

//go:embed testdata/*
var embedFS embed.FS

func TestServiceLoadsPipeline(t *testing.T) {
	srv := pedal.New(
		pedal.WithPipelineFsOptions(&embedFS),
		pedal.WithPipelineBaseURL("embed:///testdata"),
	)

	runtime := srv.Runtime()
	ctx := context.Background()
	pipeline, err := runtime.LoadPipeline(ctx, "artifact_chain.yaml")
	assert.Nil(t, err)
	if !assert.NotNil(t, pipeline) {
		return
	}
	assert.Equal(t, "artifact_chain", pipeline.Name)
	assert.Equal(t, 3, len(pipeline.Steps))
	assert.Equal(t, "manifest_build", pipeline.Steps[0].Gate.Checkpoint)
	assert.Nil(t, pipeline.Steps[2].Gate)
}

// fastPipeline is tuned for tests: short retry delays and poll intervals so
// the 20ms engine tick drives it to completion quickly.
func fastPipeline(name string) *model.Pipeline {
	p := model.NewPipeline(name)
	p.Input = "source.json"
	p.NewStage("manifest_build", "build --input ${input} --output ${output}").
		WithIO("", "manifest.json").
		WithRetry(1, "10ms").
		WithGate("manifest_build", "1h", "10ms")
	p.NewStage("artifact_persist", "persist --input ${input} --output ${output}").
		WithIO("", "persisted.json").
		WithRetry(1, "10ms")
	return p
}

func startEngine(t *testing.T, stub runner.Service, options ...pedal.Option) *pedal.Runtime {
	options = append(options, pedal.WithRunner(stub))
	runtime := pedal.New(options...).Runtime()
	assert.NoError(t, runtime.Start(context.Background()))
	t.Cleanup(func() { _ = runtime.Shutdown(context.Background()) })
	return runtime
}

func TestRunCompletesWithGrant(t *testing.T) {
	var invocations []string
	stub := runner.Func(func(_ context.Context, stage *model.Stage, input string) (string, error) {
		invocations = append(invocations, stage.ID+"<-"+input)
		return stage.Output, nil
	})
	runtime := startEngine(t, stub)
	ctx := context.Background()

	// Pre-granting is legal: the gate observes the grant on its first poll.
	_, err := runtime.Grant(ctx, "manifest_build")
	assert.NoError(t, err)

	run, wait, err := runtime.StartRun(ctx, fastPipeline("grant"))
	assert.NoError(t, err)

	output, err := wait(ctx, 5*time.Second)
	assert.NoError(t, err)
	assert.False(t, output.Timeout)
	assert.Equal(t, execution.StateCompleted, output.State)
	assert.Equal(t, execution.StageSucceeded, output.StageStatuses["manifest_build"])
	assert.Equal(t, execution.StageSucceeded, output.StageStatuses["artifact_persist"])
	assert.Equal(t, execution.GateApproved, output.GateStatuses["approve_manifest_build"])

	// Artifact chaining: the second stage consumed the first one's output.
	assert.Equal(t, []string{
		"manifest_build<-source.json",
		"artifact_persist<-manifest.json",
	}, invocations)

	stored, err := runtime.Run(ctx, run.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, stored.AttemptsOf("manifest_build"))
}

func TestRunFailsAfterRetryBudget(t *testing.T) {
	stub := runner.Func(func(_ context.Context, stage *model.Stage, _ string) (string, error) {
		if stage.ID == "artifact_persist" {
			return "", errors.New("exit status 3")
		}
		return stage.Output, nil
	})
	notifier := notification.NewMemory()
	runtime := startEngine(t, stub, pedal.WithNotificationService(notifier))
	ctx := context.Background()

	_, err := runtime.Grant(ctx, "manifest_build")
	assert.NoError(t, err)

	run, wait, err := runtime.StartRun(ctx, fastPipeline("retry"))
	assert.NoError(t, err)

	output, err := wait(ctx, 5*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, execution.StateFailed, output.State)
	assert.Equal(t, execution.StageSucceeded, output.StageStatuses["manifest_build"])
	assert.Equal(t, execution.StageFailed, output.StageStatuses["artifact_persist"])
	assert.Contains(t, output.Errors["artifact_persist"], "exit status 3")

	stored, err := runtime.Run(ctx, run.ID)
	assert.NoError(t, err)
	// One re-attempt after the first failure: two invocations in total.
	assert.Equal(t, 2, stored.AttemptsOf("artifact_persist"))

	events := notifier.Events()
	if assert.Len(t, events, 1) {
		assert.Equal(t, notification.KindStageFailure, events[0].Kind)
		assert.Equal(t, "artifact_persist", events[0].StageOrGateID)
		assert.Equal(t, 2, events[0].Attempts)
	}
}

func TestRunAutoPolicy(t *testing.T) {
	stub := runner.Func(func(_ context.Context, stage *model.Stage, _ string) (string, error) {
		return stage.Output, nil
	})
	runtime := startEngine(t, stub)
	ctx := policy.WithPolicy(context.Background(), &policy.Policy{Mode: policy.ModeAuto})

	_, wait, err := runtime.StartRun(ctx, fastPipeline("auto"))
	assert.NoError(t, err)

	output, err := wait(ctx, 5*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, execution.StateCompleted, output.State)
	assert.Equal(t, execution.GateApproved, output.GateStatuses["approve_manifest_build"])
}

func TestRunGateTimeout(t *testing.T) {
	stub := runner.Func(func(_ context.Context, stage *model.Stage, _ string) (string, error) {
		return stage.Output, nil
	})
	notifier := notification.NewMemory()
	runtime := startEngine(t, stub, pedal.WithNotificationService(notifier))
	ctx := context.Background()

	p := fastPipeline("timeout")
	p.Steps[0].Gate.Timeout = "50ms"

	_, wait, err := runtime.StartRun(ctx, p)
	assert.NoError(t, err)

	output, err := wait(ctx, 5*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, execution.StateTimedOut, output.State)
	assert.Equal(t, execution.GateTimedOut, output.GateStatuses["approve_manifest_build"])
	assert.Equal(t, execution.StagePending, output.StageStatuses["artifact_persist"])

	events := notifier.Events()
	if assert.Len(t, events, 1) {
		assert.Equal(t, notification.KindGateTimeout, events[0].Kind)
	}
}

func TestRunCancelWhileGated(t *testing.T) {
	stub := runner.Func(func(_ context.Context, stage *model.Stage, _ string) (string, error) {
		return stage.Output, nil
	})
	runtime := startEngine(t, stub)
	ctx := context.Background()

	run, wait, err := runtime.StartRun(ctx, fastPipeline("cancel"))
	assert.NoError(t, err)

	// Wait for the run to park at the gate, then cancel.
	deadline := time.Now().Add(5 * time.Second)
	for {
		stored, err := runtime.Run(ctx, run.ID)
		assert.NoError(t, err)
		if stored.GateStatusOf("approve_manifest_build") == execution.GateWaiting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never reached the gate")
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.NoError(t, runtime.CancelRun(ctx, run.ID))

	output, err := wait(ctx, 5*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, execution.StateCancelled, output.State)
	assert.Equal(t, execution.StageSucceeded, output.StageStatuses["manifest_build"])
	assert.Equal(t, execution.StagePending, output.StageStatuses["artifact_persist"])
}
