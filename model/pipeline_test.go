package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgrammaticPipelineCreation(t *testing.T) {
	pipeline := NewPipeline("pedal")
	pipeline.NewStage("requirements_ingest", "node ingest.ts --input ${input} --output ${output}").
		WithIO("artifacts/requirements.yaml", "artifacts/requirements.json").
		WithRetry(1, "5m").
		WithGate("requirements_ingest", "1h", "1m")
	pipeline.NewStage("artifact_persist", "node persist.ts --input ${input} --output ${output}").
		WithIO("", "dist")

	pipeline.Init()
	assert.Empty(t, pipeline.Validate())

	gate := pipeline.GateAt(0)
	if assert.NotNil(t, gate) {
		assert.Equal(t, "approve_requirements_ingest", gate.ID)
		assert.Equal(t, "requirements_ingest", gate.Checkpoint)
		assert.Equal(t, time.Hour, gate.TimeoutDuration(0))
		assert.Equal(t, time.Minute, gate.PollIntervalDuration(0))
	}
	assert.Nil(t, pipeline.GateAt(1))
	assert.Equal(t, 5*time.Minute, pipeline.StageAt(0).RetryDelayDuration(time.Second))
	assert.Equal(t, time.Second, pipeline.StageAt(1).RetryDelayDuration(time.Second))
}

func TestPipelineValidate(t *testing.T) {
	testCases := []struct {
		description string
		pipeline    func() *Pipeline
		expectIssue string
	}{
		{
			description: "empty pipeline",
			pipeline:    func() *Pipeline { return NewPipeline("empty") },
			expectIssue: "has no stages",
		},
		{
			description: "duplicate stage id",
			pipeline: func() *Pipeline {
				p := NewPipeline("dup")
				p.NewStage("a", "true").WithGate("a", "", "")
				p.NewStage("a", "true")
				return p
			},
			expectIssue: "duplicate stage id",
		},
		{
			description: "duplicate checkpoint",
			pipeline: func() *Pipeline {
				p := NewPipeline("dup")
				p.NewStage("a", "true").WithGate("shared", "", "")
				p.NewStage("b", "true").WithGate("shared", "", "")
				p.NewStage("c", "true")
				return p
			},
			expectIssue: "duplicate gate checkpoint",
		},
		{
			description: "missing gate on inner stage",
			pipeline: func() *Pipeline {
				p := NewPipeline("gap")
				p.NewStage("a", "true")
				p.NewStage("b", "true")
				return p
			},
			expectIssue: "no gate but is not the last stage",
		},
		{
			description: "missing command",
			pipeline: func() *Pipeline {
				p := NewPipeline("cmd")
				p.NewStage("a", "")
				return p
			},
			expectIssue: "empty command",
		},
	}

	for _, testCase := range testCases {
		p := testCase.pipeline()
		p.Init()
		issues := p.Validate()
		if !assert.NotEmpty(t, issues, testCase.description) {
			continue
		}
		var found bool
		for _, issue := range issues {
			if strings.Contains(issue.Error(), testCase.expectIssue) {
				found = true
			}
		}
		assert.True(t, found, testCase.description)
	}
}
