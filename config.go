package pedal

import (
	"fmt"
	"time"
)

// Config is a serialisable representation of the engine configuration. It
// can be populated from JSON or YAML; the zero value is useful since every
// nested field inherits its package default.
type Config struct {
	Processor    ProcessorConfig    `json:"processor" yaml:"processor"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Defaults     DefaultsConfig     `json:"defaults" yaml:"defaults"`
}

// ProcessorConfig tunes the worker pool.
type ProcessorConfig struct {
	WorkerCount int `json:"workers" yaml:"workers"`
}

// OrchestratorConfig tunes the run scan loop.
type OrchestratorConfig struct {
	TickInterval string `json:"tickInterval" yaml:"tickInterval"`
}

// DefaultsConfig supplies per-pipeline fallbacks for stages and gates that
// declare none. Durations use time.ParseDuration syntax.
type DefaultsConfig struct {
	RetryDelay   string `json:"retryDelay" yaml:"retryDelay"`
	GateTimeout  string `json:"gateTimeout" yaml:"gateTimeout"`
	PollInterval string `json:"pollInterval" yaml:"pollInterval"`
}

// DefaultConfig returns a Config populated with the engine defaults: four
// workers, a 20ms scan tick, one retry spacing of five minutes, hour-long
// gate windows polled every minute.
func DefaultConfig() *Config {
	return &Config{
		Processor:    ProcessorConfig{WorkerCount: 4},
		Orchestrator: OrchestratorConfig{TickInterval: "20ms"},
		Defaults: DefaultsConfig{
			RetryDelay:   "5m",
			GateTimeout:  "1h",
			PollInterval: "1m",
		},
	}
}

// Validate returns an error describing invalid settings, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Processor.WorkerCount < 0 {
		return fmt.Errorf("processor.workers must be >= 0")
	}
	for name, value := range map[string]string{
		"orchestrator.tickInterval": c.Orchestrator.TickInterval,
		"defaults.retryDelay":       c.Defaults.RetryDelay,
		"defaults.gateTimeout":      c.Defaults.GateTimeout,
		"defaults.pollInterval":     c.Defaults.PollInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func durationOrDefault(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return fallback
}
