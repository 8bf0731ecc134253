package repository

import (
	"context"

	"foqus-orchestrator/core/models"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConditionFailed is returned when a conditional write is rejected
	ErrConditionFailed = errors.New("conditional update rejected")
)

// FinishedAttribute is the stamp written by every terminal transition
const FinishedAttribute = "Finished"

// Condition is a predicate on the existing record evaluated at write time.
// An empty condition only requires the record to exist.
type Condition struct {
	StateIn    []models.JobState
	StateNotIn []models.JobState
	// OutputAbsent requires that no output has been recorded yet
	OutputAbsent bool
}

// Allows reports whether the existing record satisfies the condition
func (c Condition) Allows(job *models.Job) bool {
	if len(c.StateIn) > 0 && !containsState(c.StateIn, job.State) {
		return false
	}
	if c.OutputAbsent && job.Output != "" {
		return false
	}
	return !containsState(c.StateNotIn, job.State)
}

// JobUpdate describes the attributes written by a single conditional update
type JobUpdate struct {
	// State is left unchanged when empty
	State models.JobState
	// Stamps maps attribute names (state names or "Finished") to timestamps
	Stamps     map[string]string
	ConsumerID string
	Instance   string
	Output     *string
	Message    string
	TTL        int64
	Condition  Condition
}

// ConsumerUpdate describes an unconditional consumer upsert
type ConsumerUpdate struct {
	// Event is the dynamic attribute name set to Stamp
	Event    string
	Stamp    string
	Instance string
	User     string
	Job      string
	Session  string
	State    models.JobState
	TTL      int64
}

// RecordStore is the durable store for Job and Consumer records
type RecordStore interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	PutJobs(ctx context.Context, jobs []*models.Job) error
	UpdateJob(ctx context.Context, id string, update JobUpdate) error
	// QuerySessionJobs returns the session's jobs, filtered to the given
	// states when any are passed
	QuerySessionJobs(ctx context.Context, sessionID string, states ...models.JobState) ([]*models.Job, error)
	GetConsumer(ctx context.Context, id string) (*models.Consumer, error)
	UpdateConsumer(ctx context.Context, id string, update ConsumerUpdate) error
}

func containsState(states []models.JobState, s models.JobState) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

// EventStore is the audit log of mirrored events
type EventStore interface {
	AppendEvent(ctx context.Context, ev models.EventRecord) error
	// GetJobEvents returns up to limit events of a job, newest first
	GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.EventRecord, error)
}
