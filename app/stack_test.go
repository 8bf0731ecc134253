package app

import (
	"context"
	"testing"

	"foqus-orchestrator/config"
	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("FOQUS_BACKEND", config.BackendLocal)
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildLocalLoopsUpdatesIntoRouter(t *testing.T) {
	ctx := context.Background()
	stack, err := Build(ctx, localConfig(t))
	require.NoError(t, err)
	defer stack.Close()

	ids, err := stack.Sessions.Append(ctx, "alice", "sess-1", []models.JobDefinition{{Simulation: "flowsheet"}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	_, err = stack.Sessions.Start(ctx, "alice", "sess-1")
	require.NoError(t, err)

	jobID := ids[0]
	msg, err := notify.NewMessage(models.Notification{
		Resource: models.ResourceJob,
		Event:    models.EventStatus,
		Status:   string(models.JobStateSetup),
		JobID:    jobID,
		Consumer: "consumer-1",
	}, models.Attributes{Event: "job.setup", Username: "alice"})
	require.NoError(t, err)
	require.NoError(t, stack.Bus.Publish(ctx, notify.TopicUpdate, msg))

	job, err := stack.Records.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSetup, job.State)
	assert.Equal(t, "consumer-1", job.ConsumerID)

	consumer, err := stack.Records.GetConsumer(ctx, "consumer-1")
	require.NoError(t, err)
	assert.Equal(t, jobID, consumer.Job)

	recorded, err := stack.Events.GetJobEvents(ctx, jobID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, recorded)
	assert.Equal(t, "job.setup", recorded[0].Name)
	assert.Equal(t, "job.submit", recorded[len(recorded)-1].Name)
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := localConfig(t)
	cfg.Backend = "mainframe"
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}
