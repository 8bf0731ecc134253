package aws

import (
	"context"

	"foqus-orchestrator/core/notify"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Client is the AWS provider client
type Client struct {
	dynamoClient *dynamodb.Client
	s3Client     *s3.Client
	snsClient    *sns.Client
	ec2Client    *ec2.Client
	region       string
}

// NewClient creates a new AWS client for one region
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}

	return &Client{
		dynamoClient: dynamodb.NewFromConfig(cfg),
		s3Client:     s3.NewFromConfig(cfg),
		snsClient:    sns.NewFromConfig(cfg),
		ec2Client:    ec2.NewFromConfig(cfg),
		region:       region,
	}, nil
}

// Region returns the region the client was created for
func (c *Client) Region() string {
	return c.region
}

// RecordStore returns the DynamoDB record store backed by table
func (c *Client) RecordStore(table string) *DynamoStore {
	return NewDynamoStore(c.dynamoClient, table)
}

// ObjectStore returns the S3 object store backed by bucket
func (c *Client) ObjectStore(bucket string) *S3Store {
	return NewS3Store(c.s3Client, bucket)
}

// Bus returns the SNS bus publishing to the given topic ARNs
func (c *Client) Bus(topics map[notify.Topic]string) *SNSBus {
	return NewSNSBus(c.snsClient, topics)
}

// InstanceChecker returns the EC2 instance-state lookup
func (c *Client) InstanceChecker() *InstanceChecker {
	return NewInstanceChecker(c.ec2Client)
}
