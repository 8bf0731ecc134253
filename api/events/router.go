package events

import (
	"context"
	"time"

	"foqus-orchestrator/core/lifecycle"
	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/notify"
	"foqus-orchestrator/core/repository"
	"foqus-orchestrator/core/session"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Disposition tells the transport what to do with a delivery
type Disposition int

const (
	// Ack removes the delivery from the bus
	Ack Disposition = iota
	// Retry leaves the delivery for redelivery
	Retry
)

// Classify maps a processing error to a disposition. Rejected preconditions
// and malformed notifications are acknowledged; anything else is retried.
func Classify(err error) Disposition {
	if err == nil || errors.Is(err, repository.ErrConditionFailed) {
		return Ack
	}
	var schemaErr *models.SchemaError
	if errors.As(err, &schemaErr) {
		return Ack
	}
	return Retry
}

// Router dispatches bus deliveries to the lifecycle engine and the session orchestrator
type Router struct {
	engine   *lifecycle.Engine
	sessions *session.Orchestrator
}

// NewRouter creates an event router
func NewRouter(engine *lifecycle.Engine, sessions *session.Orchestrator) *Router {
	return &Router{engine: engine, sessions: sessions}
}

// Route processes one delivery. The returned error is nil for every
// delivery that must not be redelivered.
func (r *Router) Route(ctx context.Context, d lifecycle.Delivery) error {
	err := r.route(ctx, d)
	if err == nil {
		return nil
	}
	logger := log.WithFields(log.Fields{
		"resource": d.Notification.Resource,
		"event":    d.Notification.Event,
		"status":   d.Notification.Status,
		"job":      d.Notification.JobID,
	})
	if Classify(err) == Ack {
		logger.WithError(err).Warn("Dropping notification")
		return nil
	}
	logger.WithError(err).Error("Notification processing failed")
	return err
}

func (r *Router) route(ctx context.Context, d lifecycle.Delivery) error {
	ev, err := d.Notification.Decode()
	if err != nil {
		return err
	}
	r.engine.Mirror(ctx, d)

	switch ev := ev.(type) {
	case models.JobStatusEvent, models.JobOutputEvent, models.ConsumerEvent:
		return r.engine.Apply(ctx, ev, d)
	case models.SessionEvent:
		return r.session(ctx, ev, d.Attributes.Username)
	default:
		panic("events: unhandled event variant")
	}
}

func (r *Router) session(ctx context.Context, ev models.SessionEvent, user string) error {
	var err error
	switch ev.Action {
	case models.SessionStart:
		_, err = r.sessions.Start(ctx, user, ev.SessionID)
	case models.SessionStop:
		_, err = r.sessions.Stop(ctx, user, ev.SessionID)
	case models.SessionTerminate:
		_, err = r.sessions.Terminate(ctx, user, ev.SessionID)
	default:
		return &models.SchemaError{Resource: models.ResourceSession, Status: string(ev.Action), Reason: "unknown session action"}
	}
	return err
}

// RouteMessage parses a bus message body, which may hold several
// envelopes, and routes each of them. Every envelope is attempted; the first
// retryable error is returned.
func (r *Router) RouteMessage(ctx context.Context, msg notify.Message, ts time.Time) error {
	attrs := models.AttributesFromMap(msg.Attributes)
	notifications, err := models.ParseNotifications(msg.Body)
	if err != nil {
		log.WithError(err).WithField("event", attrs.Event).Warn("Dropping unparseable message")
		return nil
	}

	var first error
	for _, n := range notifications {
		err := r.Route(ctx, lifecycle.Delivery{Notification: n, Timestamp: ts, Attributes: attrs})
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Handler adapts the router to a memory bus subscription
func (r *Router) Handler() notify.Handler {
	return func(ctx context.Context, msg notify.Message) error {
		return r.RouteMessage(ctx, msg, time.Now())
	}
}
