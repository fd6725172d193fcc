// Package model contains the in-memory representation of pipeline
// definitions used by the Pedal engine.
//
// A pipeline is typically loaded from a YAML document into Pipeline, Stage
// and Gate structures, or assembled programmatically via NewPipeline and the
// fluent Step helpers. The definition is immutable once a run has started.
package model
