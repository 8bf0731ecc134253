package monitoring

import (
	"context"
	"time"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/notify"
	"foqus-orchestrator/core/repository"

	"github.com/pkg/errors"
)

// EventLog records log-topic mirrors into an event store
type EventLog struct {
	store repository.EventStore
	now   func() time.Time
}

// NewEventLog creates an event log over store
func NewEventLog(store repository.EventStore) *EventLog {
	return &EventLog{store: store, now: time.Now}
}

// Record stores every envelope carried by msg
func (l *EventLog) Record(ctx context.Context, msg notify.Message) error {
	envelopes, err := models.ParseNotifications(msg.Body)
	if err != nil {
		return err
	}
	attrs := models.AttributesFromMap(msg.Attributes)
	at := l.now().UTC()
	for _, n := range envelopes {
		body, err := notify.NewMessage(n, attrs)
		if err != nil {
			return err
		}
		session := n.SessionID
		if session == "" && n.Resource == models.ResourceSession {
			session = n.ID
		}
		err = l.store.AppendEvent(ctx, models.EventRecord{
			JobID:   n.JobID,
			Session: session,
			User:    attrs.Username,
			Name:    attrs.Event,
			Body:    body.Body,
			At:      at,
		})
		if err != nil {
			return errors.Wrapf(err, "record %s", attrs.Event)
		}
	}
	return nil
}

// Handler returns the log as a bus handler
func (l *EventLog) Handler() notify.Handler {
	return l.Record
}
