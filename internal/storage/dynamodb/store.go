// Package dynamodb implements storage.Store on Amazon DynamoDB using the v1
// AWS SDK.
//
// Destinations are created with a single string hash key and on-demand
// (PAY_PER_REQUEST) billing. Batches go through BatchWriteItem; items the
// service hands back as unprocessed are retried with exponential backoff, and
// a batch rejected as a whole for validation reasons is replayed item by item
// so one malformed item cannot sink its siblings.
package dynamodb

import (
	"context"
	"fmt"
	"time"

	"lander/internal/records"
	"lander/internal/storage"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	ddb "github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// errCodeValidation is the error code DynamoDB returns for requests it
// refuses to process, e.g. an item exceeding the size limit.
const errCodeValidation = "ValidationException"

// DefaultMaxRetries bounds the attempts spent on unprocessed items.
const DefaultMaxRetries = 8

// ErrUnprocessed marks items the service still refused after all retries.
var ErrUnprocessed = errors.New("dynamodb: item left unprocessed after retries")

// Store is a DynamoDB-backed storage.Store.
type Store struct {
	client     dynamodbiface.DynamoDBAPI
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps client.
func NewStore(client dynamodbiface.DynamoDBAPI) *Store {
	return &Store{
		client:     client,
		maxRetries: DefaultMaxRetries,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// DescribeTable implements storage.Store.
func (s *Store) DescribeTable(ctx context.Context, name string) (storage.TableInfo, error) {
	out, err := s.client.DescribeTableWithContext(ctx, &ddb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		if isCode(err, ddb.ErrCodeResourceNotFoundException) {
			return storage.TableInfo{}, errors.Wrapf(storage.ErrTableNotFound, "dynamodb: describe %s", name)
		}
		return storage.TableInfo{}, errors.Wrapf(err, "dynamodb: describe %s", name)
	}

	info := storage.TableInfo{Name: name}
	if out.Table == nil {
		return info, nil
	}
	for _, k := range out.Table.KeySchema {
		if aws.StringValue(k.KeyType) == ddb.KeyTypeHash {
			info.KeyAttr = aws.StringValue(k.AttributeName)
			break
		}
	}
	info.Ready = aws.StringValue(out.Table.TableStatus) == ddb.TableStatusActive
	return info, nil
}

// CreateTable implements storage.Store.
func (s *Store) CreateTable(ctx context.Context, name, keyAttr string) error {
	_, err := s.client.CreateTableWithContext(ctx, &ddb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []*ddb.AttributeDefinition{{
			AttributeName: aws.String(keyAttr),
			AttributeType: aws.String(ddb.ScalarAttributeTypeS),
		}},
		KeySchema: []*ddb.KeySchemaElement{{
			AttributeName: aws.String(keyAttr),
			KeyType:       aws.String(ddb.KeyTypeHash),
		}},
		BillingMode: aws.String(ddb.BillingModePayPerRequest),
	})
	if err != nil {
		if isCode(err, ddb.ErrCodeResourceInUseException) {
			return errors.Wrapf(storage.ErrTableExists, "dynamodb: create %s", name)
		}
		return errors.Wrapf(err, "dynamodb: create %s", name)
	}
	return nil
}

// WaitUntilReady implements storage.Store. The SDK waiter polls until the
// table is ACTIVE; ctx bounds the total wait.
func (s *Store) WaitUntilReady(ctx context.Context, name string) error {
	err := s.client.WaitUntilTableExistsWithContext(ctx, &ddb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		return errors.Wrapf(err, "dynamodb: wait for %s", name)
	}
	return nil
}

// BatchPut implements storage.Store.
func (s *Store) BatchPut(ctx context.Context, name, keyAttr string, items []records.Record) ([]error, error) {
	if len(items) == 0 {
		return nil, nil
	}

	itemErrs := make([]error, len(items))
	failed := false

	// Keys are distinct within a batch, so the key value identifies the
	// item when the service hands it back as unprocessed.
	index := make(map[string]int, len(items))
	avs := make([]map[string]*ddb.AttributeValue, len(items))
	reqs := make([]*ddb.WriteRequest, 0, len(items))
	for i, it := range items {
		av, err := dynamodbattribute.MarshalMap(map[string]any(it))
		if err != nil {
			itemErrs[i] = errors.Wrap(err, "dynamodb: marshal item")
			failed = true
			continue
		}
		avs[i] = av
		index[keyOf(av, keyAttr)] = i
		reqs = append(reqs, &ddb.WriteRequest{PutRequest: &ddb.PutRequest{Item: av}})
	}

	if len(reqs) > 0 {
		pending, err := s.batchWrite(ctx, name, reqs)
		switch {
		case err == nil:
		case errors.Is(err, ErrUnprocessed):
			for _, r := range pending {
				if i, ok := index[keyOf(r.PutRequest.Item, keyAttr)]; ok {
					itemErrs[i] = ErrUnprocessed
					failed = true
				}
			}
		case isCode(err, errCodeValidation):
			for i, av := range avs {
				if av == nil {
					continue
				}
				if err := s.putItem(ctx, name, av); err != nil {
					itemErrs[i] = err
					failed = true
				}
			}
		case isCode(err, ddb.ErrCodeResourceNotFoundException):
			return nil, errors.Wrapf(storage.ErrTableNotFound, "dynamodb: batch write %s: %v", name, err)
		default:
			return nil, errors.Wrapf(err, "dynamodb: batch write %s", name)
		}
	}

	if !failed {
		return nil, nil
	}
	return itemErrs, nil
}

// batchWrite submits reqs and retries whatever the service returns as
// unprocessed. On ErrUnprocessed the returned slice holds the leftovers.
func (s *Store) batchWrite(ctx context.Context, name string, reqs []*ddb.WriteRequest) ([]*ddb.WriteRequest, error) {
	pending := reqs
	op := func() error {
		out, err := s.client.BatchWriteItemWithContext(ctx, &ddb.BatchWriteItemInput{
			RequestItems: map[string][]*ddb.WriteRequest{name: pending},
		})
		if err != nil {
			if isCode(err, errCodeValidation) || isCode(err, ddb.ErrCodeResourceNotFoundException) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		pending = out.UnprocessedItems[name]
		if len(pending) > 0 {
			return fmt.Errorf("%d unprocessed: %w", len(pending), ErrUnprocessed)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return pending, err
	}
	return nil, nil
}

func (s *Store) putItem(ctx context.Context, name string, av map[string]*ddb.AttributeValue) error {
	_, err := s.client.PutItemWithContext(ctx, &ddb.PutItemInput{
		TableName: aws.String(name),
		Item:      av,
	})
	if err != nil {
		return errors.Wrapf(err, "dynamodb: put item into %s", name)
	}
	return nil
}

// Close implements storage.Store. The SDK client holds no resources.
func (s *Store) Close() {}

func keyOf(av map[string]*ddb.AttributeValue, keyAttr string) string {
	v, ok := av[keyAttr]
	if !ok || v == nil {
		return ""
	}
	if v.S != nil {
		return *v.S
	}
	if v.N != nil {
		return *v.N
	}
	return v.String()
}

func isCode(err error, code string) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == code
	}
	return false
}
