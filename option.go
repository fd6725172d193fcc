package pedal

import (
	"github.com/viant/afs/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/approval"
	"github.com/pedalhq/pedal/service/dao"
	"github.com/pedalhq/pedal/service/messaging"
	"github.com/pedalhq/pedal/service/notification"
	"github.com/pedalhq/pedal/service/runner"
	"github.com/pedalhq/pedal/tracing"
)

// Option customises the engine service.
type Option func(s *Service)

// WithConfig replaces the whole engine configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithRunDAO sets the run store; use the fs implementation for durability
// across restarts.
func WithRunDAO(svc dao.Service[string, execution.Run]) Option {
	return func(s *Service) { s.runtime.runDAO = svc }
}

// WithExecutionDAO sets the execution store.
func WithExecutionDAO(svc dao.Service[string, execution.Execution]) Option {
	return func(s *Service) { s.runtime.executionDAO = svc }
}

// WithQueue sets the work queue.
func WithQueue(queue messaging.Queue[execution.Execution]) Option {
	return func(s *Service) { s.runtime.queue = queue }
}

// WithApprovalService sets the approval registry.
func WithApprovalService(svc approval.Service) Option {
	return func(s *Service) { s.approvalService = svc }
}

// WithNotificationService sets the outbound event sink.
func WithNotificationService(svc notification.Service) Option {
	return func(s *Service) { s.notificationService = svc }
}

// WithRunner sets the stage runner.
func WithRunner(svc runner.Service) Option {
	return func(s *Service) { s.stageRunner = svc }
}

// WithProcessorWorkers sets the worker pool size.
func WithProcessorWorkers(count int) Option {
	return func(s *Service) { s.config.Processor.WorkerCount = count }
}

// WithPipelineBaseURL anchors relative pipeline locations.
func WithPipelineBaseURL(url string) Option {
	return func(s *Service) { s.pipelineBaseURL = url }
}

// WithPipelineFsOptions passes storage options to pipeline loading, e.g. an
// embedded FS.
func WithPipelineFsOptions(options ...storage.Option) Option {
	return func(s *Service) { s.pipelineFsOptions = options }
}

// WithTracing configures OpenTelemetry tracing. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied
// file. Safe to call multiple times; the first successful initialisation
// wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing with a custom
// SpanExporter (OTLP, Jaeger, Zipkin).
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
