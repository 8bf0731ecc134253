package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// TeePublisher forwards every message and hands those published to one
// topic to a sink once the publish succeeded
type TeePublisher struct {
	next  Publisher
	topic Topic
	sink  Handler
}

// Tee wraps next so that messages on topic also reach sink. Sink failures
// are logged and never fail the publish.
func Tee(next Publisher, topic Topic, sink Handler) *TeePublisher {
	return &TeePublisher{next: next, topic: topic, sink: sink}
}

// Publish forwards msg, then feeds the sink
func (p *TeePublisher) Publish(ctx context.Context, topic Topic, msg Message) error {
	if err := p.next.Publish(ctx, topic, msg); err != nil {
		return err
	}
	if topic == p.topic {
		if err := p.sink(ctx, msg); err != nil {
			log.WithError(err).WithField("topic", topic).Warn("Failed to record published message")
		}
	}
	return nil
}

// Unwrap returns the wrapped publisher
func (p *TeePublisher) Unwrap() Publisher {
	return p.next
}
