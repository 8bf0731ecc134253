package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStateClassification(t *testing.T) {
	for _, s := range AllJobStates {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, JobState("paused").IsValid())

	for _, s := range ActiveJobStates {
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range append(RecordTerminalStates, JobStateExpired) {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestJobStamps(t *testing.T) {
	job := &Job{}
	for _, s := range []JobState{JobStateSubmit, JobStateSetup, JobStateRunning, JobStateStop,
		JobStateSuccess, JobStateError, JobStateTerminate} {
		job.SetStamp(s, "ts-"+string(s))
		assert.Equal(t, "ts-"+string(s), job.Stamp(s))
	}
	job.SetStamp(JobStateCreate, "ignored")
	assert.Empty(t, job.Stamp(JobStateCreate))
}

func TestNewJob(t *testing.T) {
	created := time.UnixMilli(1700000000123)
	job := NewJob(JobDefinition{ID: "job-1", Simulation: "flowsheet", Reset: true,
		Input: map[string]interface{}{"x": 1.0}}, "alice", "sess-1", "foqus", created)

	assert.Equal(t, &Job{
		ID: "job-1", Type: TypeJob, SessionID: "sess-1", User: "alice", Application: "foqus",
		Simulation: "flowsheet", Reset: true, Input: map[string]interface{}{"x": 1.0},
		State: JobStateCreate, Create: 1700000000123,
	}, job)
}
