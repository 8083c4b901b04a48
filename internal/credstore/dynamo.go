package credstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/docshare/internal/crypto"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// credentialItem is one stored credential. The table is keyed by (principal, key).
type credentialItem struct {
	Principal      string    `dynamodbav:"principal"`
	Key            string    `dynamodbav:"key"`
	EncryptedValue string    `dynamodbav:"encrypted_value"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
}

// DynamoStore implements Store on a DynamoDB table, encrypting values with KMS.
// It is the backend for functions whose filesystem does not outlive an invocation.
type DynamoStore struct {
	client    DynamoAPI
	table     string
	principal string
	enc       crypto.Encryptor
	now       func() time.Time
}

// NewDynamoStore creates a DynamoStore. principal scopes the rows to one client.
func NewDynamoStore(client DynamoAPI, table, principal string, enc crypto.Encryptor) *DynamoStore {
	return &DynamoStore{
		client:    client,
		table:     table,
		principal: principal,
		enc:       enc,
		now:       time.Now,
	}
}

func (s *DynamoStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"principal": &types.AttributeValueMemberS{Value: s.principal},
		"key":       &types.AttributeValueMemberS{Value: key},
	}
}

func (s *DynamoStore) Get(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get credential %q: %w", key, err)
	}
	if out.Item == nil {
		return "", ErrNotFound
	}

	var item credentialItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", fmt.Errorf("unmarshal credential %q: %w", key, err)
	}
	v, err := s.enc.Decrypt(ctx, item.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("decrypt credential %q: %w", key, err)
	}
	return v, nil
}

func (s *DynamoStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.enc.Encrypt(ctx, value)
	if err != nil {
		return fmt.Errorf("encrypt credential %q: %w", key, err)
	}

	item, err := attributevalue.MarshalMap(credentialItem{
		Principal:      s.principal,
		Key:            key,
		EncryptedValue: sealed,
		UpdatedAt:      s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal credential %q: %w", key, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put credential %q: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("delete credential %q: %w", key, err)
	}
	return nil
}
