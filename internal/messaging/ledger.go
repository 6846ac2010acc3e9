package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
)

const defaultLedgerTTL = 72 * time.Hour

// Ledger records which WhatsApp message ids were already accepted so
// redelivered webhooks are dropped.
type Ledger interface {
	// Claim returns true the first time a message id is seen.
	Claim(ctx context.Context, messageID string) (bool, error)
	// Release forgets a claim so a later redelivery is processed.
	Release(ctx context.Context, messageID string) error
}

// MemoryLedger keeps claims in process memory.
type MemoryLedger struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &MemoryLedger{ttl: ttl, claims: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLedger) Claim(_ context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, errors.New("messaging: message id required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, expires := range l.claims {
		if now.After(expires) {
			delete(l.claims, id)
		}
	}
	if _, ok := l.claims[messageID]; ok {
		return false, nil
	}
	l.claims[messageID] = now.Add(l.ttl)
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, messageID string) error {
	l.mu.Lock()
	delete(l.claims, messageID)
	l.mu.Unlock()
	return nil
}

// RedisLedger claims message ids with SETNX.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

const ledgerKeyPrefix = "clinicai:delivery:"

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if client == nil {
		panic("messaging: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, errors.New("messaging: message id required")
	}
	ok, err := l.client.SetNX(ctx, ledgerKeyPrefix+messageID, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("messaging: claim delivery: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Release(ctx context.Context, messageID string) error {
	if err := l.client.Del(ctx, ledgerKeyPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("messaging: release delivery: %w", err)
	}
	return nil
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type deliveryRecord struct {
	MessageID  string `dynamodbav:"messageId"`
	ReceivedAt string `dynamodbav:"receivedAt"`
	ExpiresAt  int64  `dynamodbav:"expiresAt"`
}

// DynamoLedger claims message ids with a conditional PutItem. The table's
// TTL attribute is expiresAt.
type DynamoLedger struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoLedger(client dynamoAPI, tableName string, ttl time.Duration) *DynamoLedger {
	if client == nil {
		panic("messaging: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("messaging: table name cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &DynamoLedger{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func (l *DynamoLedger) Claim(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, errors.New("messaging: message id required")
	}
	now := l.now().UTC()
	item, err := attributevalue.MarshalMap(deliveryRecord{
		MessageID:  messageID,
		ReceivedAt: now.Format(time.RFC3339Nano),
		ExpiresAt:  now.Add(l.ttl).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("messaging: marshal delivery: %w", err)
	}
	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(messageId)"),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return false, nil
		}
		return false, fmt.Errorf("messaging: claim delivery: %w", err)
	}
	return true, nil
}

func (l *DynamoLedger) Release(ctx context.Context, messageID string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"messageId": &types.AttributeValueMemberS{Value: messageID},
		},
	})
	if err != nil {
		return fmt.Errorf("messaging: release delivery: %w", err)
	}
	return nil
}
