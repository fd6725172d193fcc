package model

// NewPipeline creates an empty pipeline with the given name.
func NewPipeline(name string) *Pipeline {
	return &Pipeline{Name: name}
}

// NewStage appends a stage to the pipeline and returns its step so that a
// gate can be attached fluently.
func (p *Pipeline) NewStage(id, command string) *Step {
	step := &Step{Stage: &Stage{ID: id, Command: command}}
	p.Steps = append(p.Steps, step)
	return step
}

// WithIO sets the stage input and output artifact paths.
func (s *Step) WithIO(input, output string) *Step {
	s.Stage.Input = input
	s.Stage.Output = output
	return s
}

// WithRetry sets the stage retry policy.
func (s *Step) WithRetry(limit int, delay string) *Step {
	s.Stage.RetryLimit = limit
	s.Stage.RetryDelay = delay
	return s
}

// WithEnv adds an environment variable to the stage invocation.
func (s *Step) WithEnv(key, value string) *Step {
	if s.Stage.Env == nil {
		s.Stage.Env = map[string]string{}
	}
	s.Stage.Env[key] = value
	return s
}

// WithGate attaches an approval gate watching the given checkpoint.
func (s *Step) WithGate(checkpoint, timeout, pollInterval string) *Step {
	s.Gate = &Gate{
		Checkpoint:   checkpoint,
		Timeout:      timeout,
		PollInterval: pollInterval,
	}
	return s
}
