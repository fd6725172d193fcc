package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pedalhq/pedal/internal/clock"
	"github.com/pedalhq/pedal/model"
)

func testPipeline() *model.Pipeline {
	p := model.NewPipeline("test")
	p.Input = "artifacts/seed.yaml"
	p.NewStage("a", "gen-a --input ${input} --output ${output}").
		WithIO("", "artifacts/a.json").
		WithGate("a", "1h", "1m")
	p.NewStage("b", "gen-b --input ${input} --output ${output}").
		WithIO("", "artifacts/b.json")
	p.Init()
	return p
}

func TestRunCursorAdvance(t *testing.T) {
	run := NewRun("r1", testPipeline())
	assert.Equal(t, StatePending, run.GetState())
	assert.Equal(t, StagePending, run.StageStatusOf("a"))

	cursor, phase := run.Position()
	assert.Equal(t, 0, cursor)
	assert.Equal(t, PhaseStage, phase)

	run.EnterGate()
	_, phase = run.Position()
	assert.Equal(t, PhaseGate, phase)

	assert.True(t, run.Advance())
	cursor, phase = run.Position()
	assert.Equal(t, 1, cursor)
	assert.Equal(t, PhaseStage, phase)

	assert.False(t, run.Advance())
	assert.Nil(t, run.ActiveStage())
}

func TestRunStageInput(t *testing.T) {
	run := NewRun("r1", testPipeline())
	// First stage falls back to the pipeline input.
	assert.Equal(t, "artifacts/seed.yaml", run.StageInput(run.ActiveStage()))

	run.RecordArtifact("a", "artifacts/a.json")
	run.EnterGate()
	run.Advance()
	// Second stage consumes the previous stage's output.
	assert.Equal(t, "artifacts/a.json", run.StageInput(run.ActiveStage()))
}

func TestRunTerminalState(t *testing.T) {
	run := NewRun("r1", testPipeline())
	run.SetState(StateRunning)
	assert.NotNil(t, run.StartedAt)
	assert.Nil(t, run.FinishedAt)
	run.SetState(StateTimedOut)
	assert.NotNil(t, run.FinishedAt)
	assert.True(t, IsTerminalRunState(run.GetState()))
}

func TestExecutionReschedule(t *testing.T) {
	base := time.Date(2025, 4, 7, 10, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return base }
	defer func() { clock.NowFunc = time.Now }()

	pipeline := testPipeline()
	exec := NewGateExecution("r1", pipeline.GateAt(0), time.Hour)
	assert.NotNil(t, exec.Deadline)
	assert.Equal(t, base.Add(time.Hour), *exec.Deadline)
	assert.True(t, exec.Eligible(base))

	exec.Reschedule(base.Add(time.Minute))
	assert.False(t, exec.Eligible(base))
	assert.True(t, exec.Eligible(base.Add(time.Minute)))
	assert.Equal(t, 30*time.Minute, exec.Elapsed(base.Add(30*time.Minute)))
}
