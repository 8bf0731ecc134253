package lifecycle

import (
	"context"
	"fmt"
	"time"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/monitoring"
	"foqus-orchestrator/core/notify"
	"foqus-orchestrator/core/repository"
	"foqus-orchestrator/storage"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Options tunes record retention
type Options struct {
	// JobTTL is how long an active job record is retained after each touch
	JobTTL time.Duration
	// FinishedTTL is how long a terminal job record is retained
	FinishedTTL time.Duration
	// ConsumerTTL is how long a consumer record survives without a heartbeat
	ConsumerTTL time.Duration
}

// DefaultOptions returns the retention used when nothing is configured
func DefaultOptions() Options {
	return Options{
		JobTTL:      30 * 24 * time.Hour,
		FinishedTTL: 7 * 24 * time.Hour,
		ConsumerTTL: 10 * time.Minute,
	}
}

// Delivery is one notification as delivered by the bus
type Delivery struct {
	Notification models.Notification
	Timestamp    time.Time
	Attributes   models.Attributes
}

// Outcome tells the caller what a status request did
type Outcome int

const (
	// OutcomeApplied means the record was transitioned
	OutcomeApplied Outcome = iota
	// OutcomeRejected means the state predicate refused the write
	OutcomeRejected
	// OutcomeRecovered means the record already held the requested terminal
	// state and only the derived artifacts were re-driven
	OutcomeRecovered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRecovered:
		return "recovered"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// StatusRequest asks for one job state transition
type StatusRequest struct {
	JobID      string
	Status     models.JobState
	ConsumerID string
	InstanceID string
	SessionID  string
	Message    string
	User       string
	Timestamp  time.Time
}

// Engine applies job and consumer notifications to the stores
type Engine struct {
	records repository.RecordStore
	objects storage.ObjectStore
	bus     notify.Publisher
	metrics *monitoring.Collector
	opts    Options
}

// NewEngine creates a lifecycle engine
func NewEngine(
	records repository.RecordStore,
	objects storage.ObjectStore,
	bus notify.Publisher,
	metrics *monitoring.Collector,
	opts Options,
) *Engine {
	return &Engine{
		records: records,
		objects: objects,
		bus:     bus,
		metrics: metrics,
		opts:    opts,
	}
}

// Handle decodes a delivery, mirrors it to the log topic and applies it
func (e *Engine) Handle(ctx context.Context, d Delivery) error {
	ev, err := d.Notification.Decode()
	if err != nil {
		return err
	}
	e.Mirror(ctx, d)
	return e.Apply(ctx, ev, d)
}

// Apply dispatches a decoded job or consumer event
func (e *Engine) Apply(ctx context.Context, ev models.Event, d Delivery) error {
	switch ev := ev.(type) {
	case models.JobStatusEvent:
		_, err := e.ApplyStatus(ctx, StatusRequest{
			JobID:      ev.JobID,
			Status:     ev.Status,
			ConsumerID: ev.ConsumerID,
			InstanceID: ev.InstanceID,
			SessionID:  ev.SessionID,
			Message:    ev.Message,
			User:       d.Attributes.Username,
			Timestamp:  d.Timestamp,
		})
		return err
	case models.JobOutputEvent:
		return e.ApplyOutput(ctx, ev, d.Timestamp)
	case models.ConsumerEvent:
		return e.ApplyConsumer(ctx, ev, d.Attributes.Username, d.Timestamp)
	case models.SessionEvent:
		return &models.SchemaError{Resource: models.ResourceSession, Status: string(ev.Action),
			Reason: "session events are not job lifecycle events"}
	default:
		panic(fmt.Sprintf("lifecycle: unhandled event variant %T", ev))
	}
}

// Mirror republishes a delivery on the log topic. Failures are logged only.
func (e *Engine) Mirror(ctx context.Context, d Delivery) {
	attrs := d.Attributes
	if attrs.Event == "" {
		attrs.Event = EventName(d.Notification)
	}
	msg, err := notify.NewMessage(d.Notification, attrs)
	if err == nil {
		err = e.bus.Publish(ctx, notify.TopicLog, msg)
	}
	if err != nil {
		e.metrics.RecordPublishFailure(string(notify.TopicLog))
		log.WithError(err).WithField("event", attrs.Event).Warn("Failed to mirror event to log topic")
	}
}

// ApplyStatus performs one job status transition
func (e *Engine) ApplyStatus(ctx context.Context, req StatusRequest) (Outcome, error) {
	r, ok := ruleFor(req.Status)
	if !ok {
		return OutcomeRejected, &models.SchemaError{Resource: models.ResourceJob, Event: models.EventStatus,
			Status: string(req.Status), Reason: "no transition into this state"}
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	if r.recordless {
		return OutcomeApplied, e.recordExpired(ctx, req)
	}

	t := newTransition(req, r)
	if err := e.update(ctx, t); err != nil {
		return t.outcome, err
	}
	if t.outcome == OutcomeRejected {
		return t.outcome, nil
	}
	if !r.terminal {
		return t.outcome, e.linkConsumer(ctx, t)
	}

	stages := []func(context.Context, *transition) error{
		e.reload,
		e.linkConsumer,
		e.buildSnapshot,
		e.writeSnapshot,
	}
	for _, stage := range stages {
		if err := stage(ctx, t); err != nil {
			return t.outcome, err
		}
	}
	return t.outcome, nil
}

// ApplyOutput records a job's output without touching its state
func (e *Engine) ApplyOutput(ctx context.Context, ev models.JobOutputEvent, ts time.Time) error {
	output := string(ev.Value)
	logger := log.WithFields(log.Fields{"job": ev.JobID, "consumer": ev.ConsumerID, "bytes": len(output)})

	err := e.records.UpdateJob(ctx, ev.JobID, repository.JobUpdate{
		Output:     &output,
		ConsumerID: ev.ConsumerID,
		TTL:        expiry(ts, e.opts.JobTTL),
		Condition:  repository.Condition{OutputAbsent: true},
	})
	if errors.Is(err, repository.ErrConditionFailed) {
		e.metrics.RecordRejection(models.EventOutput)
		logger.Info("Output already recorded or job record missing, ignoring")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "record output of job %s", ev.JobID)
	}
	logger.Info("Output recorded")
	return nil
}

// ApplyConsumer records a consumer heartbeat; last write wins
func (e *Engine) ApplyConsumer(ctx context.Context, ev models.ConsumerEvent, user string, ts time.Time) error {
	err := e.records.UpdateConsumer(ctx, ev.ConsumerID, repository.ConsumerUpdate{
		Event:    ev.Name,
		Stamp:    models.FormatTimestamp(ts),
		Instance: ev.InstanceID,
		User:     user,
		TTL:      expiry(ts, e.opts.ConsumerTTL),
	})
	if err != nil {
		return errors.Wrapf(err, "update consumer %s", ev.ConsumerID)
	}
	log.WithFields(log.Fields{"consumer": ev.ConsumerID, "event": ev.Name}).Debug("Consumer updated")
	return nil
}

// EventName builds the dotted event attribute for an envelope
func EventName(n models.Notification) string {
	switch n.Resource {
	case models.ResourceJob:
		if n.Event == models.EventOutput {
			return "job.output"
		}
		return "job." + n.Status
	case models.ResourceConsumer:
		return "consumer." + n.Event
	case models.ResourceSession:
		id := n.SessionID
		if id == "" {
			id = n.ID
		}
		return fmt.Sprintf("session.%s.%s", n.Status, id)
	}
	return n.Resource
}

func expiry(ts time.Time, ttl time.Duration) int64 {
	return ts.Add(ttl).Unix()
}
