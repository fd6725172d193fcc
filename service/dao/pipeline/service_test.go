package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pedalhq/pedal/model"
)

const chainYAML = `
name: artifact_chain
input: source.json
stages:
  - stage:
      id: manifest_build
      command: node build-manifest.js --input ${input} --output ${output}
      output: manifest.json
      retryLimit: 1
      retryDelay: 5m
    gate:
      timeout: 1h
      pollInterval: 1m
  - stage:
      id: artifact_persist
      command: node persist.js --input ${input} --output ${output}
      output: persisted.json
`

func TestDecodeYAML(t *testing.T) {
	service := New("")
	pipeline, err := service.DecodeYAML([]byte(chainYAML))
	assert.NoError(t, err)
	assert.Equal(t, "artifact_chain", pipeline.Name)
	assert.Equal(t, 2, len(pipeline.Steps))

	// Derived gate identity: id and checkpoint come from the stage.
	first := pipeline.Steps[0]
	assert.Equal(t, "approve_manifest_build", first.Gate.ID)
	assert.Equal(t, "manifest_build", first.Gate.Checkpoint)

	// Last stage runs unguarded.
	assert.Nil(t, pipeline.Steps[1].Gate)
}

func TestDecodeYAMLInvalid(t *testing.T) {
	service := New("")
	_, err := service.DecodeYAML([]byte(`
stages:
  - stage:
      id: broken
      output: out.json
`))
	assert.Error(t, err)
}

func TestUpsertAndLoadByName(t *testing.T) {
	service := New("")
	built := model.NewPipeline("inline")
	built.Input = "in.json"
	built.NewStage("only", "generate --input ${input} --output ${output}").
		WithIO("", "out.json")
	assert.NoError(t, service.Upsert(built))

	loaded, err := service.Load(context.Background(), "inline")
	assert.NoError(t, err)
	assert.Equal(t, built, loaded)
}
