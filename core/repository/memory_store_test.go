package repository

import (
	"context"
	"testing"

	"foqus-orchestrator/core/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionAllows(t *testing.T) {
	running := &models.Job{State: models.JobStateRunning}
	withOutput := &models.Job{State: models.JobStateRunning, Output: `{"y":1}`}

	assert.True(t, Condition{}.Allows(running))
	assert.True(t, Condition{StateIn: []models.JobState{models.JobStateRunning}}.Allows(running))
	assert.False(t, Condition{StateIn: []models.JobState{models.JobStateSubmit}}.Allows(running))
	assert.False(t, Condition{StateNotIn: []models.JobState{models.JobStateRunning}}.Allows(running))
	assert.True(t, Condition{OutputAbsent: true}.Allows(running))
	assert.False(t, Condition{OutputAbsent: true}.Allows(withOutput))
}

func TestMemoryStoreUpdateJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutJobs(ctx, []*models.Job{{ID: "job-1", SessionID: "sess-1", State: models.JobStateSubmit}}))

	err := s.UpdateJob(ctx, "job-1", JobUpdate{
		State:     models.JobStateSuccess,
		Stamps:    map[string]string{"success": "t1", FinishedAttribute: "t1"},
		Condition: Condition{StateNotIn: models.RecordTerminalStates},
	})
	require.NoError(t, err)

	err = s.UpdateJob(ctx, "job-1", JobUpdate{
		State:     models.JobStateError,
		Condition: Condition{StateNotIn: models.RecordTerminalStates},
	})
	assert.True(t, errors.Is(err, ErrConditionFailed))

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSuccess, job.State)
	assert.Equal(t, "t1", job.Success)
	assert.Equal(t, "t1", job.Finished)
	assert.Equal(t, models.TypeJob, job.Type)

	err = s.UpdateJob(ctx, "missing", JobUpdate{State: models.JobStateRunning})
	assert.True(t, errors.Is(err, ErrConditionFailed))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutJobs(ctx, []*models.Job{{ID: "job-1", State: models.JobStateCreate}}))

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	job.State = models.JobStateRunning

	again, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCreate, again.State)
}

func TestMemoryStoreQuerySessionJobs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutJobs(ctx, []*models.Job{
		{ID: "c", SessionID: "sess-1", State: models.JobStateSubmit, Create: 2},
		{ID: "b", SessionID: "sess-1", State: models.JobStateRunning, Create: 1},
		{ID: "a", SessionID: "sess-1", State: models.JobStateSubmit, Create: 2},
		{ID: "z", SessionID: "sess-2", State: models.JobStateSubmit, Create: 0},
	}))

	jobs, err := s.QuerySessionJobs(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})

	jobs, err = s.QuerySessionJobs(ctx, "sess-1", models.JobStateSubmit)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.QuerySessionJobs(ctx, "sess-3")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestMemoryStoreConsumers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetConsumer(ctx, "consumer-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.UpdateConsumer(ctx, "consumer-1", ConsumerUpdate{Event: "setup", Stamp: "t0", TTL: 10}))
	require.NoError(t, s.UpdateConsumer(ctx, "consumer-1", ConsumerUpdate{
		Job: "job-1", Session: "sess-1", State: models.JobStateRunning, Instance: "i-1",
	}))

	consumer, err := s.GetConsumer(ctx, "consumer-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", consumer.Job)
	assert.Equal(t, models.JobStateRunning, consumer.State)
	assert.Equal(t, "i-1", consumer.Instance)
	assert.Equal(t, int64(10), consumer.TTL)
	assert.Equal(t, map[string]string{"setup": "t0"}, consumer.Events)

	consumer.Events["mutated"] = "x"
	again, err := s.GetConsumer(ctx, "consumer-1")
	require.NoError(t, err)
	assert.NotContains(t, again.Events, "mutated")

	removed, err := s.DeleteConsumer(ctx, "consumer-1")
	require.NoError(t, err)
	assert.Equal(t, "consumer-1", removed.ID)
	_, err = s.DeleteConsumer(ctx, "consumer-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
