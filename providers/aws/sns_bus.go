package aws

import (
	"context"

	"foqus-orchestrator/core/notify"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
)

// snsAPI is the subset of the SNS client used by the bus
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSBus publishes notifications to SNS topics
type SNSBus struct {
	client snsAPI
	topics map[notify.Topic]string
}

// NewSNSBus creates an SNS bus. topics maps each logical topic to its ARN.
func NewSNSBus(client snsAPI, topics map[notify.Topic]string) *SNSBus {
	return &SNSBus{client: client, topics: topics}
}

// Publish sends msg to the topic's ARN with its attributes as String message attributes
func (b *SNSBus) Publish(ctx context.Context, topic notify.Topic, msg notify.Message) error {
	arn, ok := b.topics[topic]
	if !ok || arn == "" {
		return errors.Errorf("no topic ARN configured for %q", topic)
	}

	attrs := make(map[string]types.MessageAttributeValue, len(msg.Attributes))
	for name, value := range msg.Attributes {
		attrs[name] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}

	_, err := b.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(arn),
		Message:           aws.String(string(msg.Body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return errors.Wrapf(err, "publish to %s", topic)
	}
	return nil
}
