package memory

import (
	"context"
	"log"
	"sync"

	"github.com/pedalhq/pedal/internal/clock"
	"github.com/pedalhq/pedal/service/approval"
	"github.com/pedalhq/pedal/service/dao"
)

// service is an in-memory approval registry. A single mutex serialises all
// entry mutations which gives the per-checkpoint linearizability the gate
// sensor relies on.
type service struct {
	entries map[string]*approval.Entry
	mux     sync.RWMutex
}

var _ approval.Service = (*service)(nil)

func New() approval.Service {
	return &service{entries: map[string]*approval.Entry{}}
}

func (s *service) Ensure(_ context.Context, checkpoint string) (*approval.Entry, error) {
	if checkpoint == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if entry, ok := s.entries[checkpoint]; ok {
		return entry.Clone(), nil
	}
	entry := &approval.Entry{Checkpoint: checkpoint, CreatedAt: clock.Now()}
	s.entries[checkpoint] = entry
	return entry.Clone(), nil
}

func (s *service) Grant(_ context.Context, checkpoint string) (*approval.Entry, error) {
	if checkpoint == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	entry, ok := s.entries[checkpoint]
	if !ok {
		entry = &approval.Entry{Checkpoint: checkpoint, CreatedAt: clock.Now()}
		s.entries[checkpoint] = entry
	}
	if !entry.Approved {
		now := clock.Now()
		entry.Approved = true
		entry.GrantedAt = &now
		log.Printf("approval granted for checkpoint %q at %s", checkpoint, now.Format("2006-01-02T15:04:05Z07:00"))
	}
	return entry.Clone(), nil
}

func (s *service) Query(_ context.Context, checkpoint string) (bool, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	entry, ok := s.entries[checkpoint]
	return ok && entry.Approved, nil
}

func (s *service) Entry(_ context.Context, checkpoint string) (*approval.Entry, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.entries[checkpoint].Clone(), nil
}

func (s *service) Pending(_ context.Context) ([]*approval.Entry, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	var pending []*approval.Entry
	for _, entry := range s.entries {
		if !entry.Approved {
			pending = append(pending, entry.Clone())
		}
	}
	return pending, nil
}
