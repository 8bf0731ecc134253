package notify

import (
	"context"
	"encoding/json"

	"foqus-orchestrator/core/models"

	"github.com/pkg/errors"
)

// Topic is a logical notification bus topic
type Topic string

const (
	// TopicUpdate carries status and output reports from consumers
	TopicUpdate Topic = "update"
	// TopicLog mirrors every processed event for observability
	TopicLog Topic = "log"
	// TopicJob carries submitted jobs to consumers
	TopicJob Topic = "job"
)

// Message is a bus payload plus its string attributes
type Message struct {
	Body       []byte
	Attributes map[string]string
}

// Publisher sends messages to a topic
type Publisher interface {
	Publish(ctx context.Context, topic Topic, msg Message) error
}

// NewMessage encodes an envelope with its attributes
func NewMessage(n models.Notification, attrs models.Attributes) (Message, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return Message{}, errors.Wrap(err, "encode notification")
	}
	return Message{Body: body, Attributes: attrs.Map()}, nil
}

// NewJSONMessage encodes an arbitrary payload with its attributes
func NewJSONMessage(v interface{}, attrs models.Attributes) (Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Message{}, errors.Wrap(err, "encode message")
	}
	return Message{Body: body, Attributes: attrs.Map()}, nil
}
