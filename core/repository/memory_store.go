package repository

import (
	"context"
	"sort"
	"sync"

	"foqus-orchestrator/core/models"
)

// MemoryStore is an in-process RecordStore used by the local backend and tests
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*models.Job
	consumers map[string]*models.Consumer
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*models.Job),
		consumers: make(map[string]*models.Consumer),
	}
}

// GetJob returns a copy of the job record
func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *job
	return &copied, nil
}

// PutJobs writes job records, replacing any existing record with the same id
func (s *MemoryStore) PutJobs(_ context.Context, jobs []*models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		copied := *job
		copied.Type = models.TypeJob
		s.jobs[job.ID] = &copied
	}
	return nil
}

// UpdateJob applies the update if the record exists and the condition holds
func (s *MemoryStore) UpdateJob(_ context.Context, id string, update JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrConditionFailed
	}
	if !update.Condition.Allows(job) {
		return ErrConditionFailed
	}
	applyJobUpdate(job, update)
	return nil
}

// QuerySessionJobs returns the session's jobs ordered by creation time
func (s *MemoryStore) QuerySessionJobs(_ context.Context, sessionID string, states ...models.JobState) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if job.SessionID != sessionID {
			continue
		}
		if len(states) > 0 && !containsState(states, job.State) {
			continue
		}
		copied := *job
		jobs = append(jobs, &copied)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Create == jobs[j].Create {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].Create < jobs[j].Create
	})
	return jobs, nil
}

// GetConsumer returns a copy of the consumer record
func (s *MemoryStore) GetConsumer(_ context.Context, id string) (*models.Consumer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consumer, ok := s.consumers[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *consumer
	copied.Events = make(map[string]string, len(consumer.Events))
	for k, v := range consumer.Events {
		copied.Events[k] = v
	}
	return &copied, nil
}

// UpdateConsumer upserts the consumer record
func (s *MemoryStore) UpdateConsumer(_ context.Context, id string, update ConsumerUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	consumer, ok := s.consumers[id]
	if !ok {
		consumer = &models.Consumer{ID: id, Type: models.TypeConsumer, Events: make(map[string]string)}
		s.consumers[id] = consumer
	}
	if update.Event != "" {
		consumer.Events[update.Event] = update.Stamp
	}
	if update.Instance != "" {
		consumer.Instance = update.Instance
	}
	if update.User != "" {
		consumer.User = update.User
	}
	if update.Job != "" {
		consumer.Job = update.Job
	}
	if update.Session != "" {
		consumer.Session = update.Session
	}
	if update.State != "" {
		consumer.State = update.State
	}
	if update.TTL != 0 {
		consumer.TTL = update.TTL
	}
	return nil
}

// DeleteConsumer removes a consumer record, as TTL expiry would
func (s *MemoryStore) DeleteConsumer(_ context.Context, id string) (*models.Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	consumer, ok := s.consumers[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.consumers, id)
	return consumer, nil
}

func applyJobUpdate(job *models.Job, update JobUpdate) {
	if update.State != "" {
		job.State = update.State
	}
	for name, ts := range update.Stamps {
		if name == FinishedAttribute {
			job.Finished = ts
			continue
		}
		job.SetStamp(models.JobState(name), ts)
	}
	if update.ConsumerID != "" {
		job.ConsumerID = update.ConsumerID
	}
	if update.Instance != "" {
		job.Instance = update.Instance
	}
	if update.Output != nil {
		job.Output = *update.Output
	}
	if update.Message != "" {
		job.Message = update.Message
	}
	if update.TTL != 0 {
		job.TTL = update.TTL
	}
}
