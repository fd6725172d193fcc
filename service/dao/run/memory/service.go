package memory

import (
	"context"
	"sync"

	"github.com/pedalhq/pedal/runtime/execution"
	"github.com/pedalhq/pedal/service/dao"
	"github.com/pedalhq/pedal/service/dao/criteria"
)

// Service implements an in-memory, thread-safe run store. Saving an already
// stored run merges mutable fields into the existing instance so that every
// holder of the pointer observes the same state.
type Service struct {
	runs map[string]*execution.Run
	mux  sync.RWMutex
}

var _ dao.Service[string, execution.Run] = (*Service)(nil)

func New() *Service {
	return &Service{runs: map[string]*execution.Run{}}
}

func (s *Service) Save(_ context.Context, run *execution.Run) error {
	if run == nil {
		return dao.ErrNilEntity
	}
	if run.ID == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if existing, ok := s.runs[run.ID]; ok && existing != nil {
		existing.CopyFrom(run)
	} else {
		s.runs[run.ID] = run
	}
	return nil
}

func (s *Service) Load(_ context.Context, id string) (*execution.Run, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mux.RLock()
	run, ok := s.runs[id]
	s.mux.RUnlock()

	if !ok {
		return nil, dao.ErrNotFound
	}
	return run, nil
}

func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.runs[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.runs, id)
	return nil
}

func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*execution.Run, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*execution.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if !criteria.FilterByState(run.GetState(), parameters) {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}
