package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
)

// batchWriteLimit is the DynamoDB cap on items per BatchWriteItem call
const batchWriteLimit = 25

// dynamoAPI is the subset of the DynamoDB client used by the record store
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore is the DynamoDB record store. Items are keyed by (Id, Type).
type DynamoStore struct {
	client dynamoAPI
	table  string
	// SessionIndex names a global secondary index keyed by SessionId; when
	// empty, session queries fall back to a filtered scan
	SessionIndex string
}

// NewDynamoStore creates a DynamoDB record store
func NewDynamoStore(client dynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func itemKey(id, recordType string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"Id":   &types.AttributeValueMemberS{Value: id},
		"Type": &types.AttributeValueMemberS{Value: recordType},
	}
}

// GetJob reads a job record with a strongly consistent read
func (s *DynamoStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(id, models.TypeJob),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get job %s", id)
	}
	if len(out.Item) == 0 {
		return nil, repository.ErrNotFound
	}
	var job models.Job
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, errors.Wrapf(err, "decode job %s", id)
	}
	return &job, nil
}

// PutJobs writes job records in batches
func (s *DynamoStore) PutJobs(ctx context.Context, jobs []*models.Job) error {
	for start := 0; start < len(jobs); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(jobs) {
			end = len(jobs)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, job := range jobs[start:end] {
			record := *job
			record.Type = models.TypeJob
			item, err := attributevalue.MarshalMap(record)
			if err != nil {
				return errors.Wrapf(err, "encode job %s", job.ID)
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		if err := s.batchWrite(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

// batchWrite sends one batch, resending unprocessed items with a short backoff
func (s *DynamoStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: requests}
	for attempt := 0; attempt < 5; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return errors.Wrap(err, "batch write jobs")
		}
		if len(out.UnprocessedItems[s.table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(50<<attempt) * time.Millisecond):
		}
	}
	return errors.Errorf("batch write left %d unprocessed jobs", len(pending[s.table]))
}

// UpdateJob performs a conditional update of a job record
func (s *DynamoStore) UpdateJob(ctx context.Context, id string, update repository.JobUpdate) error {
	expr, err := jobUpdateExpression(update)
	if err != nil {
		return errors.Wrapf(err, "build update of job %s", id)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(id, models.TypeJob),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return repository.ErrConditionFailed
	}
	if err != nil {
		return errors.Wrapf(err, "update job %s", id)
	}
	return nil
}

// jobUpdateExpression builds the update and its condition. Every condition
// requires the record to exist so an update never creates a partial job.
func jobUpdateExpression(update repository.JobUpdate) (expression.Expression, error) {
	var upd expression.UpdateBuilder
	set := func(name string, value interface{}) {
		upd = upd.Set(expression.Name(name), expression.Value(value))
	}
	if update.State != "" {
		set("State", string(update.State))
	}
	for name, ts := range update.Stamps {
		set(name, ts)
	}
	if update.ConsumerID != "" {
		set("ConsumerId", update.ConsumerID)
	}
	if update.Instance != "" {
		set("instance", update.Instance)
	}
	if update.Output != nil {
		set("Output", *update.Output)
	}
	if update.Message != "" {
		set("Message", update.Message)
	}
	if update.TTL != 0 {
		set("TTL", update.TTL)
	}

	cond := expression.AttributeExists(expression.Name("Id"))
	if in := stateOperands(update.Condition.StateIn); len(in) > 0 {
		cond = cond.And(expression.Name("State").In(in[0], in[1:]...))
	}
	if notIn := stateOperands(update.Condition.StateNotIn); len(notIn) > 0 {
		cond = cond.And(expression.Not(expression.Name("State").In(notIn[0], notIn[1:]...)))
	}
	if update.Condition.OutputAbsent {
		cond = cond.And(expression.AttributeNotExists(expression.Name("Output")))
	}

	return expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
}

func stateOperands(states []models.JobState) []expression.OperandBuilder {
	operands := make([]expression.OperandBuilder, len(states))
	for i, state := range states {
		operands[i] = expression.Value(string(state))
	}
	return operands
}

// QuerySessionJobs returns the session's jobs ordered by creation time
func (s *DynamoStore) QuerySessionJobs(ctx context.Context, sessionID string, states ...models.JobState) ([]*models.Job, error) {
	filter := expression.Name("Type").Equal(expression.Value(models.TypeJob))
	if operands := stateOperands(states); len(operands) > 0 {
		filter = filter.And(expression.Name("State").In(operands[0], operands[1:]...))
	}

	var items []map[string]types.AttributeValue
	if s.SessionIndex != "" {
		keyCond := expression.Key("SessionId").Equal(expression.Value(sessionID))
		expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
		if err != nil {
			return nil, errors.Wrap(err, "build session query")
		}
		paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			IndexName:                 aws.String(s.SessionIndex),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, errors.Wrapf(err, "query jobs of session %s", sessionID)
			}
			items = append(items, page.Items...)
		}
	} else {
		filter = filter.And(expression.Name("SessionId").Equal(expression.Value(sessionID)))
		expr, err := expression.NewBuilder().WithFilter(filter).Build()
		if err != nil {
			return nil, errors.Wrap(err, "build session scan")
		}
		paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ConsistentRead:            aws.Bool(true),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, errors.Wrapf(err, "scan jobs of session %s", sessionID)
			}
			items = append(items, page.Items...)
		}
	}

	var records []models.Job
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, errors.Wrapf(err, "decode jobs of session %s", sessionID)
	}
	jobs := make([]*models.Job, len(records))
	for i := range records {
		jobs[i] = &records[i]
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Create == jobs[j].Create {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].Create < jobs[j].Create
	})
	return jobs, nil
}

// GetConsumer reads a consumer record. Attributes outside the fixed set are
// the consumer's event timestamps.
func (s *DynamoStore) GetConsumer(ctx context.Context, id string) (*models.Consumer, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(id, models.TypeConsumer),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get consumer %s", id)
	}
	if len(out.Item) == 0 {
		return nil, repository.ErrNotFound
	}
	return ConsumerFromItem(out.Item)
}

// ConsumerFromItem decodes a consumer item read from the table. Stream images
// carry lambda event attribute values and are decoded by the lambda handler.
func ConsumerFromItem(item map[string]types.AttributeValue) (*models.Consumer, error) {
	var attrs map[string]interface{}
	if err := attributevalue.UnmarshalMap(item, &attrs); err != nil {
		return nil, errors.Wrap(err, "decode consumer")
	}

	consumer := &models.Consumer{Events: make(map[string]string)}
	for name, value := range attrs {
		if name == "TTL" {
			if ttl, ok := value.(float64); ok {
				consumer.TTL = int64(ttl)
			}
			continue
		}
		str, ok := value.(string)
		if !ok {
			continue
		}
		switch name {
		case "Id":
			consumer.ID = str
		case "Type":
			consumer.Type = str
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
	if consumer.ID == "" {
		return nil, fmt.Errorf("consumer item without Id")
	}
	return consumer, nil
}

// UpdateConsumer upserts a consumer record
func (s *DynamoStore) UpdateConsumer(ctx context.Context, id string, update repository.ConsumerUpdate) error {
	var upd expression.UpdateBuilder
	fields := 0
	set := func(name, value string) {
		if value == "" {
			return
		}
		upd = upd.Set(expression.Name(name), expression.Value(value))
		fields++
	}
	if update.Event != "" {
		set(update.Event, update.Stamp)
	}
	set("instance", update.Instance)
	set("User", update.User)
	set("Job", update.Job)
	set("Session", update.Session)
	set("State", string(update.State))
	if update.TTL != 0 {
		upd = upd.Set(expression.Name("TTL"), expression.Value(update.TTL))
		fields++
	}
	if fields == 0 {
		return nil
	}

	expr, err := expression.NewBuilder().WithUpdate(upd).Build()
	if err != nil {
		return errors.Wrapf(err, "build update of consumer %s", id)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(id, models.TypeConsumer),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return errors.Wrapf(err, "update consumer %s", id)
	}
	return nil
}
