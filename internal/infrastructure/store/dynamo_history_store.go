package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/marketplace/internal/domain/payment"
)

// DynamoAPI is the part of the DynamoDB client the history store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoHistoryStore keeps the payment status log in a DynamoDB table
// partitioned by payment id and sorted by creation time.
type DynamoHistoryStore struct {
	client    DynamoAPI
	tableName string
}

type dynamoHistoryItem struct {
	PaymentID      string `dynamodbav:"payment_id"`
	SortKey        string `dynamodbav:"sk"`
	ID             string `dynamodbav:"id"`
	Status         string `dynamodbav:"status"`
	PreviousStatus string `dynamodbav:"previous_status,omitempty"`
	Reason         string `dynamodbav:"reason,omitempty"`
	Actor          string `dynamodbav:"actor"`
	CreatedAt      string `dynamodbav:"created_at"`
}

func NewDynamoHistoryStore(client DynamoAPI, tableName string) *DynamoHistoryStore {
	return &DynamoHistoryStore{client: client, tableName: tableName}
}

// Append writes entry. The conditional put makes a replayed entry fail
// instead of overwriting the row.
func (s *DynamoHistoryStore) Append(ctx context.Context, entry payment.HistoryEntry) error {
	created := entry.CreatedAt.UTC().Format(time.RFC3339Nano)
	item := dynamoHistoryItem{
		PaymentID:      entry.PaymentID,
		SortKey:        created + "#" + entry.ID,
		ID:             entry.ID,
		Status:         string(entry.Status),
		PreviousStatus: string(entry.PreviousStatus),
		Reason:         entry.Reason,
		Actor:          entry.Actor,
		CreatedAt:      created,
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(payment_id) AND attribute_not_exists(sk)"),
	})
	if err != nil {
		return fmt.Errorf("failed to put history entry: %w", err)
	}
	return nil
}

// List returns the history of a payment, oldest entry first.
func (s *DynamoHistoryStore) List(ctx context.Context, paymentID string) ([]payment.HistoryEntry, error) {
	var (
		entries []payment.HistoryEntry
		start   map[string]types.AttributeValue
	)
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("payment_id = :pid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pid": &types.AttributeValueMemberS{Value: paymentID},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query history: %w", err)
		}

		for _, raw := range result.Items {
			var item dynamoHistoryItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal history entry: %w", err)
			}
			created, _ := time.Parse(time.RFC3339Nano, item.CreatedAt)
			entries = append(entries, payment.HistoryEntry{
				ID:             item.ID,
				PaymentID:      item.PaymentID,
				Status:         payment.Status(item.Status),
				PreviousStatus: payment.Status(item.PreviousStatus),
				Reason:         item.Reason,
				Actor:          item.Actor,
				CreatedAt:      created,
			})
		}

		if len(result.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		start = result.LastEvaluatedKey
	}
}

// MirroredHistory writes to a primary log and copies every entry to a
// mirror. Reads come from the primary; mirror failures are only logged.
type MirroredHistory struct {
	primary payment.HistoryRepository
	mirror  payment.HistoryRepository
}

func NewMirroredHistory(primary, mirror payment.HistoryRepository) *MirroredHistory {
	return &MirroredHistory{primary: primary, mirror: mirror}
}

func (m *MirroredHistory) Append(ctx context.Context, entry payment.HistoryEntry) error {
	if err := m.primary.Append(ctx, entry); err != nil {
		return err
	}
	if err := m.mirror.Append(ctx, entry); err != nil {
		log.Printf("[HistoryMirror] Failed to mirror entry %s of payment %s: %v", entry.ID, entry.PaymentID, err)
	}
	return nil
}

func (m *MirroredHistory) List(ctx context.Context, paymentID string) ([]payment.HistoryEntry, error) {
	return m.primary.List(ctx, paymentID)
}
