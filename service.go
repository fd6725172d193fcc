package pedal

import (
	"time"

	"github.com/viant/afs/storage"

	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/approval"
	approvalmemory "github.com/pedalhq/pedal/service/approval/memory"
	execmemory "github.com/pedalhq/pedal/service/dao/execution/memory"
	"github.com/pedalhq/pedal/service/dao/pipeline"
	runmemory "github.com/pedalhq/pedal/service/dao/run/memory"
	"github.com/pedalhq/pedal/service/gate"
	queuemem "github.com/pedalhq/pedal/service/messaging/memory"
	"github.com/pedalhq/pedal/service/notification"
	"github.com/pedalhq/pedal/service/orchestrator"
	"github.com/pedalhq/pedal/service/processor"
	"github.com/pedalhq/pedal/service/runner"
)

// Service is the engine facade: it wires the pipeline store, run and
// execution DAOs, the queue, the approval registry, the stage runner and
// the two engine loops into a Runtime.
type Service struct {
	runtime *Runtime
	config  *Config

	approvalService     approval.Service
	notificationService notification.Service
	stageRunner         runner.Service
	pipelineBaseURL     string
	pipelineFsOptions   []storage.Option
}

// New creates an engine service with the supplied options; anything not set
// falls back to in-memory defaults.
func New(options ...Option) *Service {
	ret := &Service{runtime: &Runtime{}, config: DefaultConfig()}
	ret.init(options)
	return ret
}

func (s *Service) init(options []Option) {
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()

	defaults := s.config.Defaults
	sensor := gate.New(s.approvalService, durationOrDefault(defaults.PollInterval, time.Minute))

	s.runtime.orchestrator = orchestrator.New(
		orchestrator.Config{
			TickInterval:       durationOrDefault(s.config.Orchestrator.TickInterval, 20*time.Millisecond),
			DefaultGateTimeout: durationOrDefault(defaults.GateTimeout, time.Hour),
		},
		s.runtime.runDAO,
		s.runtime.executionDAO,
		s.runtime.queue,
		s.notificationService,
	)
	s.runtime.processor = processor.New(
		processor.Config{
			WorkerCount:       s.config.Processor.WorkerCount,
			DefaultRetryDelay: durationOrDefault(defaults.RetryDelay, 5*time.Minute),
		},
		s.runtime.runDAO,
		s.runtime.executionDAO,
		s.runtime.queue,
		s.stageRunner,
		sensor,
	)
	s.runtime.approvalService = s.approvalService
}

func (s *Service) ensureBaseSetup() {
	if s.runtime.pipelineDAO == nil {
		s.runtime.pipelineDAO = pipeline.New(s.pipelineBaseURL, s.pipelineFsOptions...)
	}
	if s.runtime.runDAO == nil {
		s.runtime.runDAO = runmemory.New()
	}
	if s.runtime.executionDAO == nil {
		s.runtime.executionDAO = execmemory.New()
	}
	if s.runtime.queue == nil {
		s.runtime.queue = queuemem.NewQueue[execution.Execution](queuemem.DefaultConfig())
	}
	if s.approvalService == nil {
		s.approvalService = approvalmemory.New()
	}
	if s.notificationService == nil {
		s.notificationService = notification.NewLog()
	}
	if s.stageRunner == nil {
		s.stageRunner = runner.New()
	}
}

// Runtime returns the wired engine runtime.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// Approval exposes the approval registry, e.g. for an operator-facing grant
// surface.
func (s *Service) Approval() approval.Service {
	return s.approvalService
}
