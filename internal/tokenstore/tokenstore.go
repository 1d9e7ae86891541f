// Package tokenstore persists the single OAuth credential record in DynamoDB.
//
// The store is a plain key-value surface: get-by-user-id and unconditional
// overwrite. There is no locking; callers are expected to re-read before use
// and the scheduler is assumed to never overlap two runs.
package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dukerupert/fitsync/internal/model"
)

// ErrNotFound is returned when no token record exists for the user.
var ErrNotFound = errors.New("token record not found")

// dynamoClient is an interface for testability.
type dynamoClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Store reads and writes token records in a DynamoDB table keyed by user_id.
type Store struct {
	client dynamoClient
	table  string
}

// New creates a Store backed by the given DynamoDB client and table.
func New(client *dynamodb.Client, table string) *Store {
	return &Store{client: client, table: table}
}

// Get fetches the token record for userID. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, userID string) (*model.TokenRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get token record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var record model.TokenRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("unmarshal token record: %w", err)
	}
	return &record, nil
}

// Put overwrites the token record. The caller must only do this with a record
// obtained from a successful refresh exchange: the prior refresh token is
// invalid the moment the exchange returns 200, so a stale write would strand
// the credential lineage.
func (s *Store) Put(ctx context.Context, record *model.TokenRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put token record: %w", err)
	}
	return nil
}
