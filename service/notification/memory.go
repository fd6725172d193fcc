package notification

import (
	"context"
	"sync"
)

// MemoryService records events in memory; used by tests and by callers that
// poll for outcomes instead of receiving pushes.
type MemoryService struct {
	mu     sync.RWMutex
	events []*Event
}

var _ Service = (*MemoryService)(nil)

func NewMemory() *MemoryService { return &MemoryService{} }

func (s *MemoryService) Notify(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of everything recorded so far.
func (s *MemoryService) Events() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}
