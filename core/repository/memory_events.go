package repository

import (
	"context"
	"sync"

	"foqus-orchestrator/core/models"
)

// MemoryEventStore is an in-process EventStore
type MemoryEventStore struct {
	mu     sync.Mutex
	events []models.EventRecord
}

// NewMemoryEventStore creates an empty memory event store
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

// AppendEvent stores one event and assigns its id
func (s *MemoryEventStore) AppendEvent(_ context.Context, ev models.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

// GetJobEvents returns the job's events newest first
func (s *MemoryEventStore) GetJobEvents(_ context.Context, jobID string, limit int) ([]models.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []models.EventRecord
	for i := len(s.events) - 1; i >= 0 && len(events) < limit; i-- {
		if s.events[i].JobID == jobID {
			events = append(events, s.events[i])
		}
	}
	return events, nil
}
