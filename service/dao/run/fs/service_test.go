package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pedalhq/pedal/model"
	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/dao"
)

func chainPipeline() *model.Pipeline {
	p := model.NewPipeline("chain")
	p.Input = "in.json"
	p.NewStage("a", "gen-a --input ${input} --output ${output}").
		WithIO("", "a.json").
		WithGate("a", "1h", "1m")
	p.NewStage("b", "gen-b --input ${input} --output ${output}").
		WithIO("", "b.json")
	p.Init()
	return p
}

func TestSaveLoadRoundTrip(t *testing.T) {
	service, err := New(t.TempDir())
	assert.NoError(t, err)
	ctx := context.Background()

	run := execution.NewRun("chain/1", chainPipeline())
	run.SetState(execution.StateRunning)
	assert.NoError(t, service.Save(ctx, run))

	loaded, err := service.Load(ctx, "chain/1")
	assert.NoError(t, err)
	assert.Equal(t, execution.StateRunning, loaded.State)
	assert.Equal(t, 2, len(loaded.Pipeline.Steps))

	_, err = service.Load(ctx, "chain/404")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	assert.NoError(t, service.Delete(ctx, "chain/1"))
	_, err = service.Load(ctx, "chain/1")
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

// A reload after a simulated crash resumes at the persisted cursor, never
// before it.
func TestCrashResumePosition(t *testing.T) {
	dir := t.TempDir()
	service, err := New(dir)
	assert.NoError(t, err)
	ctx := context.Background()

	run := execution.NewRun("chain/2", chainPipeline())
	run.SetState(execution.StateRunning)
	run.SetStageStatus("a", execution.StageSucceeded)
	run.RecordArtifact("a", "a.json")
	run.EnterGate()
	assert.NoError(t, service.Save(ctx, run))

	// New store instance over the same directory, as after a restart.
	reopened, err := New(dir)
	assert.NoError(t, err)
	loaded, err := reopened.Load(ctx, "chain/2")
	assert.NoError(t, err)

	cursor, phase := loaded.Position()
	assert.Equal(t, 0, cursor)
	assert.Equal(t, execution.PhaseGate, phase)
	assert.Equal(t, execution.StageSucceeded, loaded.StageStatusOf("a"))
	assert.Equal(t, "a.json", loaded.Artifacts["a"])
}

func TestListFiltersByState(t *testing.T) {
	service, err := New(t.TempDir())
	assert.NoError(t, err)
	ctx := context.Background()

	active := execution.NewRun("chain/3", chainPipeline())
	active.SetState(execution.StateRunning)
	assert.NoError(t, service.Save(ctx, active))

	done := execution.NewRun("chain/4", chainPipeline())
	done.SetState(execution.StateCompleted)
	assert.NoError(t, service.Save(ctx, done))

	runs, err := service.List(ctx, dao.NewParameter("state", execution.StateRunning))
	assert.NoError(t, err)
	if assert.Len(t, runs, 1) {
		assert.Equal(t, "chain/3", runs[0].ID)
	}

	all, err := service.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}
