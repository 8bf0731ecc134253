package lambda

import (
	"context"
	"strconv"

	"foqus-orchestrator/api/events"
	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/monitoring"
	"foqus-orchestrator/core/notify"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Handler adapts lambda event sources to the router and the consumer reaper
type Handler struct {
	router *events.Router
	reaper *monitoring.ConsumerReaper
}

// NewHandler creates a lambda handler
func NewHandler(router *events.Router, reaper *monitoring.ConsumerReaper) *Handler {
	return &Handler{router: router, reaper: reaper}
}

// HandleSNS processes update-topic deliveries. A non-nil error makes the
// lambda service redeliver the event.
func (h *Handler) HandleSNS(ctx context.Context, event awsevents.SNSEvent) error {
	var first error
	for _, record := range event.Records {
		msg := notify.Message{
			Body:       []byte(record.SNS.Message),
			Attributes: snsAttributes(record.SNS.MessageAttributes),
		}
		if err := h.router.RouteMessage(ctx, msg, record.SNS.Timestamp); err != nil && first == nil {
			first = errors.Wrapf(err, "sns message %s", record.SNS.MessageID)
		}
	}
	return first
}

// snsAttributes flattens SNS message attributes, which arrive as {"Type", "Value"} objects
func snsAttributes(raw map[string]interface{}) map[string]string {
	attrs := make(map[string]string, len(raw))
	for name, value := range raw {
		switch v := value.(type) {
		case string:
			attrs[name] = v
		case map[string]interface{}:
			if s, ok := v["Value"].(string); ok {
				attrs[name] = s
			}
		}
	}
	return attrs
}

// HandleStream processes record-store stream batches, reaping consumers
// whose records were removed. Failed records are reported individually.
func (h *Handler) HandleStream(ctx context.Context, event awsevents.DynamoDBEvent) (awsevents.DynamoDBEventResponse, error) {
	var response awsevents.DynamoDBEventResponse
	for _, record := range event.Records {
		if record.EventName != string(awsevents.DynamoDBOperationTypeRemove) {
			continue
		}
		consumer, ok := consumerFromImage(record.Change.OldImage)
		if !ok {
			continue
		}
		if _, err := h.reaper.Reap(ctx, consumer); err != nil {
			log.WithError(err).WithField("consumer", consumer.ID).Error("Failed to reap consumer")
			response.BatchItemFailures = append(response.BatchItemFailures, awsevents.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
		}
	}
	return response, nil
}

// consumerFromImage decodes a stream image, reporting false for anything but a consumer
func consumerFromImage(image map[string]awsevents.DynamoDBAttributeValue) (*models.Consumer, bool) {
	typ, ok := image["Type"]
	if !ok || typ.DataType() != awsevents.DataTypeString || typ.String() != models.TypeConsumer {
		return nil, false
	}

	consumer := &models.Consumer{Type: models.TypeConsumer, Events: make(map[string]string)}
	for name, value := range image {
		switch value.DataType() {
		case awsevents.DataTypeNumber:
			if name == "TTL" {
				consumer.TTL, _ = strconv.ParseInt(value.Number(), 10, 64)
			}
		case awsevents.DataTypeString:
			str := value.String()
			switch name {
			case "Id":
				consumer.ID = str
			case "Type":
			case "instance":
				consumer.Instance = str
			case "User":
				consumer.User = str
			case "Job":
				consumer.Job = str
			case "Session":
				consumer.Session = str
			case "State":
				consumer.State = models.JobState(str)
			default:
				consumer.Events[name] = str
			}
		}
	}
	return consumer, consumer.ID != ""
}
