package memory

import (
	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/dao"
	"github.com/pedalhq/pedal/service/dao/store"
)

// Service stores in-flight executions. Executions are deliberately kept in
// memory only: after a restart the orchestrator finds no execution for an
// active run's cursor and recreates it from the persisted run, which yields
// the at-least-once re-attempt semantics for interrupted stage invocations.
type Service struct {
	*store.MemoryStore[string, execution.Execution]
}

var _ dao.Service[string, execution.Execution] = (*Service)(nil)

func New() *Service {
	return &Service{
		MemoryStore: store.NewMemoryStore[string, execution.Execution](
			func(e *execution.Execution) string { return e.ID }),
	}
}
