package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/ashendes/payment-relay/internal/models"
)

// dynamoAPI is the slice of the DynamoDB client the store uses
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

type transactionItem struct {
	Reference    string         `dynamodbav:"reference"`
	Amount       string         `dynamodbav:"amount"`
	Email        string         `dynamodbav:"email"`
	FirstName    string         `dynamodbav:"first_name,omitempty"`
	LastName     string         `dynamodbav:"last_name,omitempty"`
	Phone        string         `dynamodbav:"phone,omitempty"`
	DonationType string         `dynamodbav:"donation_type,omitempty"`
	Metadata     map[string]any `dynamodbav:"metadata,omitempty"`
	Status       string         `dynamodbav:"status"`
	CreatedAt    time.Time      `dynamodbav:"created_at"`
	UpdatedAt    time.Time      `dynamodbav:"updated_at"`
	VerifiedAt   *time.Time     `dynamodbav:"verified_at,omitempty"`
}

func (i *transactionItem) toModel() *models.Transaction {
	amount, err := decimal.NewFromString(i.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	var meta models.Metadata
	if i.Metadata != nil {
		meta = models.Metadata(i.Metadata)
	}
	return &models.Transaction{
		Reference:    i.Reference,
		Amount:       amount,
		Email:        i.Email,
		FirstName:    i.FirstName,
		LastName:     i.LastName,
		Phone:        i.Phone,
		DonationType: i.DonationType,
		Metadata:     meta,
		Status:       models.Status(i.Status),
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
		VerifiedAt:   i.VerifiedAt,
	}
}

// DynamoStore persists transactions in a DynamoDB table whose partition key
// is the string attribute "reference"
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

// OpenDynamoStore builds a client from the default AWS credential chain
func OpenDynamoStore(ctx context.Context, opts Options) (*DynamoStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewDynamoStore(client, opts.Table), nil
}

// NewDynamoStore wraps an existing client
func NewDynamoStore(client dynamoAPI, tableName string) *DynamoStore {
	if tableName == "" {
		tableName = DefaultTable
	}
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func (s *DynamoStore) key(reference string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"reference": &dynamodbtypes.AttributeValueMemberS{Value: reference},
	}
}

// Create inserts a new item unless one with the same reference exists
func (s *DynamoStore) Create(ctx context.Context, tx *models.Transaction) error {
	if s.client == nil {
		return storageFault("create", tx.Reference, errors.New("DynamoDB client not initialized"))
	}

	now := s.now().UTC()
	item, err := attributevalue.MarshalMap(transactionItem{
		Reference:    tx.Reference,
		Amount:       tx.Amount.String(),
		Email:        tx.Email,
		FirstName:    tx.FirstName,
		LastName:     tx.LastName,
		Phone:        tx.Phone,
		DonationType: tx.DonationType,
		Metadata:     tx.Metadata.Clone(),
		Status:       string(models.StatusInitiated),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return storageFault("create", tx.Reference, fmt.Errorf("marshal: %w", err))
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#reference)"),
		ExpressionAttributeNames: map[string]string{
			"#reference": "reference",
		},
	})
	if isConditionFailed(err) {
		return duplicate(tx.Reference)
	}
	if err != nil {
		return storageFault("create", tx.Reference, err)
	}

	tx.Status = models.StatusInitiated
	tx.CreatedAt = now
	tx.UpdatedAt = now
	return nil
}

// Update merges patch into an existing item
func (s *DynamoStore) Update(ctx context.Context, reference string, patch models.Patch) (*models.Transaction, error) {
	input, err := s.updateInput(reference, patch, "attribute_exists(#reference)", nil)
	if err != nil {
		return nil, storageFault("update", reference, err)
	}
	input.ReturnValues = dynamodbtypes.ReturnValueAllNew

	out, err := s.client.UpdateItem(ctx, input)
	if isConditionFailed(err) {
		return nil, notFound(reference)
	}
	if err != nil {
		return nil, storageFault("update", reference, err)
	}

	var item transactionItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, storageFault("update", reference, fmt.Errorf("unmarshal: %w", err))
	}
	return item.toModel(), nil
}

// Get reads an item with a strongly consistent read
func (s *DynamoStore) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(reference),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, storageFault("get", reference, err)
	}
	if out.Item == nil {
		return nil, notFound(reference)
	}

	var item transactionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, storageFault("get", reference, fmt.Errorf("unmarshal: %w", err))
	}
	return item.toModel(), nil
}

// Transition is a conditional UpdateItem on #status = :from
func (s *DynamoStore) Transition(ctx context.Context, reference string, from models.Status, patch models.Patch) (bool, error) {
	input, err := s.updateInput(reference, patch, "#status = :from", map[string]dynamodbtypes.AttributeValue{
		":from": &dynamodbtypes.AttributeValueMemberS{Value: string(from)},
	})
	if err != nil {
		return false, storageFault("transition", reference, err)
	}

	_, err = s.client.UpdateItem(ctx, input)
	if isConditionFailed(err) {
		if _, getErr := s.Get(ctx, reference); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	if err != nil {
		return false, storageFault("transition", reference, err)
	}
	return true, nil
}

// updateInput renders patch as a SET expression guarded by condition
func (s *DynamoStore) updateInput(reference string, patch models.Patch, condition string, extra map[string]dynamodbtypes.AttributeValue) (*dynamodb.UpdateItemInput, error) {
	names := map[string]string{"#updated_at": "updated_at"}
	values := map[string]dynamodbtypes.AttributeValue{}
	sets := []string{"#updated_at = :updated_at"}

	add := func(attr string, v any) error {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", attr, err)
		}
		names["#"+attr] = attr
		values[":"+attr] = av
		if attr != "updated_at" {
			sets = append(sets, fmt.Sprintf("#%s = :%s", attr, attr))
		}
		return nil
	}

	if err := add("updated_at", s.now().UTC()); err != nil {
		return nil, err
	}
	if patch.Status != nil {
		if err := add("status", string(*patch.Status)); err != nil {
			return nil, err
		}
	}
	if patch.VerifiedAt != nil {
		if err := add("verified_at", patch.VerifiedAt.UTC()); err != nil {
			return nil, err
		}
	}
	if patch.Metadata != nil {
		if err := add("metadata", map[string]any(patch.Metadata.Clone())); err != nil {
			return nil, err
		}
	}

	for _, attr := range []string{"reference", "status"} {
		if strings.Contains(condition, "#"+attr) {
			names["#"+attr] = attr
		}
	}
	for k, v := range extra {
		values[k] = v
	}

	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.key(reference),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

func isConditionFailed(err error) bool {
	var ccf *dynamodbtypes.ConditionalCheckFailedException
	return err != nil && errors.As(err, &ccf)
}
