package monitoring

import (
	"context"
	"fmt"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/notify"
	"foqus-orchestrator/core/repository"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ExpiredConsumerMessage is recorded on jobs terminated because their consumer vanished
const ExpiredConsumerMessage = "consumer expired while job in active state"

// InstanceChecker reports the state of the host a consumer ran on
type InstanceChecker interface {
	InstanceState(ctx context.Context, instanceID string) (string, error)
}

// ConsumerReaper turns the expiry of a consumer record into a terminate
// notification for the job it was running
type ConsumerReaper struct {
	records   repository.RecordStore
	bus       notify.Publisher
	instances InstanceChecker
	metrics   *Collector
}

// NewConsumerReaper creates a consumer reaper. instances may be nil.
func NewConsumerReaper(
	records repository.RecordStore,
	bus notify.Publisher,
	instances InstanceChecker,
	metrics *Collector,
) *ConsumerReaper {
	return &ConsumerReaper{
		records:   records,
		bus:       bus,
		instances: instances,
		metrics:   metrics,
	}
}

// Reap handles a removed consumer record and reports whether a terminate
// notification was published
func (r *ConsumerReaper) Reap(ctx context.Context, consumer *models.Consumer) (bool, error) {
	logger := log.WithFields(log.Fields{"consumer": consumer.ID, "job": consumer.Job})
	if consumer.Job == "" || consumer.State.IsTerminal() {
		logger.Debug("Expired consumer holds no active job")
		return false, nil
	}

	job, err := r.records.GetJob(ctx, consumer.Job)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("Expired consumer references a missing job")
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read job %s", consumer.Job)
	}
	if job.State.IsTerminal() || job.ConsumerID != consumer.ID {
		logger.WithField("state", job.State).Debug("Job no longer held by expired consumer")
		return false, nil
	}

	message := ExpiredConsumerMessage
	if r.instances != nil && consumer.Instance != "" {
		state, err := r.instances.InstanceState(ctx, consumer.Instance)
		if err != nil {
			logger.WithError(err).Warn("Failed to look up consumer instance")
		} else {
			message = fmt.Sprintf("%s (instance %s %s)", message, consumer.Instance, state)
		}
	}

	// The consumer id is left out so the terminate does not recreate the
	// expired consumer record.
	msg, err := notify.NewMessage(models.Notification{
		Resource:  models.ResourceJob,
		Event:     models.EventStatus,
		Status:    string(models.JobStateTerminate),
		JobID:     job.ID,
		SessionID: job.SessionID,
		Message:   message,
	}, models.Attributes{
		Event:       "job.terminate",
		Username:    job.User,
		Application: job.Application,
	})
	if err != nil {
		return false, err
	}
	if err := r.bus.Publish(ctx, notify.TopicUpdate, msg); err != nil {
		return false, errors.Wrapf(err, "publish terminate of job %s", job.ID)
	}

	r.metrics.RecordConsumerExpiry()
	logger.WithFields(log.Fields{"session": job.SessionID, "state": job.State}).
		Warn("Consumer expired with active job, terminate requested")
	return true, nil
}
