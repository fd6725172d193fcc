package model

import (
	"fmt"
	"time"
)

// Source describes where a pipeline definition was loaded from.
type Source struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Stage is one unit of artifact-generation work in the chain. Command is an
// invocation template; ${input} and ${output} are substituted with the
// resolved artifact paths before execution.
type Stage struct {
	ID      string `json:"id" yaml:"id"`
	Command string `json:"command" yaml:"command"`
	// Input is the artifact path consumed by the stage. When empty the
	// output of the preceding stage (or the run input) is used.
	Input  string `json:"input,omitempty" yaml:"input,omitempty"`
	Output string `json:"output" yaml:"output"`
	// RetryLimit is the number of re-attempts after the first failure;
	// a stage is invoked at most RetryLimit+1 times.
	RetryLimit int    `json:"retryLimit,omitempty" yaml:"retryLimit,omitempty"`
	RetryDelay string `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"`
	// Env holds extra environment variables passed to the external command.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// RetryDelayDuration parses RetryDelay, falling back to the supplied default
// when unset or malformed.
func (s *Stage) RetryDelayDuration(defaultDelay time.Duration) time.Duration {
	if s.RetryDelay == "" {
		return defaultDelay
	}
	if d, err := time.ParseDuration(s.RetryDelay); err == nil {
		return d
	}
	return defaultDelay
}

// Gate is the manual-approval barrier following a stage. Checkpoint names
// the approval registry entry the gate watches.
type Gate struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Checkpoint   string `json:"checkpoint" yaml:"checkpoint"`
	Timeout      string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	PollInterval string `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty"`
}

// TimeoutDuration parses Timeout, falling back to the supplied default.
func (g *Gate) TimeoutDuration(defaultTimeout time.Duration) time.Duration {
	if g.Timeout == "" {
		return defaultTimeout
	}
	if d, err := time.ParseDuration(g.Timeout); err == nil {
		return d
	}
	return defaultTimeout
}

// PollIntervalDuration parses PollInterval, falling back to the supplied
// default.
func (g *Gate) PollIntervalDuration(defaultInterval time.Duration) time.Duration {
	if g.PollInterval == "" {
		return defaultInterval
	}
	if d, err := time.ParseDuration(g.PollInterval); err == nil {
		return d
	}
	return defaultInterval
}

// Step pairs a stage with the gate that guards progression past it. Gate may
// be nil on the last step only - the chain then ends with an unguarded stage.
type Step struct {
	Stage *Stage `json:"stage" yaml:"stage"`
	Gate  *Gate  `json:"gate,omitempty" yaml:"gate,omitempty"`
}

// Pipeline is an ordered chain of steps. The slice order is the only
// topology - no branching, no fan-in/fan-out.
type Pipeline struct {
	Name   string  `json:"name,omitempty" yaml:"name,omitempty"`
	Source *Source `json:"source,omitempty" yaml:"source,omitempty"`
	// Input is the artifact path fed to the first stage when it declares
	// no input of its own.
	Input string  `json:"input,omitempty" yaml:"input,omitempty"`
	Steps []*Step `json:"stages" yaml:"stages"`
}

// Init assigns derived identifiers: a gate without an explicit ID inherits
// "approve_<stageID>" and a gate without a checkpoint watches its stage id.
func (p *Pipeline) Init() {
	for _, step := range p.Steps {
		if step == nil || step.Gate == nil || step.Stage == nil {
			continue
		}
		if step.Gate.Checkpoint == "" {
			step.Gate.Checkpoint = step.Stage.ID
		}
		if step.Gate.ID == "" {
			step.Gate.ID = "approve_" + step.Stage.ID
		}
	}
}

// Validate checks the chain invariants and returns all violations found.
func (p *Pipeline) Validate() []error {
	var issues []error
	if len(p.Steps) == 0 {
		return append(issues, fmt.Errorf("pipeline %q has no stages", p.Name))
	}
	stageIDs := map[string]bool{}
	checkpoints := map[string]bool{}
	for i, step := range p.Steps {
		if step == nil || step.Stage == nil {
			issues = append(issues, fmt.Errorf("pipeline %q: step %d has no stage", p.Name, i))
			continue
		}
		stage := step.Stage
		if stage.ID == "" {
			issues = append(issues, fmt.Errorf("pipeline %q: step %d stage has empty id", p.Name, i))
		}
		if stage.Command == "" {
			issues = append(issues, fmt.Errorf("stage %q has empty command", stage.ID))
		}
		if stage.RetryLimit < 0 {
			issues = append(issues, fmt.Errorf("stage %q has negative retryLimit", stage.ID))
		}
		if stageIDs[stage.ID] {
			issues = append(issues, fmt.Errorf("duplicate stage id %q", stage.ID))
		}
		stageIDs[stage.ID] = true

		gate := step.Gate
		if gate == nil {
			// Only the terminal stage may run unguarded.
			if i != len(p.Steps)-1 {
				issues = append(issues, fmt.Errorf("stage %q has no gate but is not the last stage", stage.ID))
			}
			continue
		}
		if gate.Checkpoint == "" {
			issues = append(issues, fmt.Errorf("gate %q has empty checkpoint", gate.ID))
		}
		if checkpoints[gate.Checkpoint] {
			issues = append(issues, fmt.Errorf("duplicate gate checkpoint %q", gate.Checkpoint))
		}
		checkpoints[gate.Checkpoint] = true
	}
	return issues
}

// StageAt returns the stage at the given cursor, or nil when out of range.
func (p *Pipeline) StageAt(cursor int) *Stage {
	if cursor < 0 || cursor >= len(p.Steps) {
		return nil
	}
	return p.Steps[cursor].Stage
}

// GateAt returns the gate at the given cursor, or nil when out of range or
// when the step carries no gate.
func (p *Pipeline) GateAt(cursor int) *Gate {
	if cursor < 0 || cursor >= len(p.Steps) {
		return nil
	}
	return p.Steps[cursor].Gate
}

// LookupStage returns the stage with the supplied id.
func (p *Pipeline) LookupStage(id string) *Stage {
	for _, step := range p.Steps {
		if step.Stage != nil && step.Stage.ID == id {
			return step.Stage
		}
	}
	return nil
}

// LookupGate returns the gate watching the supplied checkpoint.
func (p *Pipeline) LookupGate(checkpoint string) *Gate {
	for _, step := range p.Steps {
		if step.Gate != nil && step.Gate.Checkpoint == checkpoint {
			return step.Gate
		}
	}
	return nil
}
