package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ashendes/payment-relay/internal/models"
)

// fakeDynamo is an in-memory stand-in for the DynamoDB client. It understands
// only the condition expressions the store issues.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]dynamodbtypes.AttributeValue
	failAll error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]dynamodbtypes.AttributeValue)}
}

func keyOf(key map[string]dynamodbtypes.AttributeValue) string {
	return key["reference"].(*dynamodbtypes.AttributeValueMemberS).Value
}

func copyItem(item map[string]dynamodbtypes.AttributeValue) map[string]dynamodbtypes.AttributeValue {
	c := make(map[string]dynamodbtypes.AttributeValue, len(item))
	for k, v := range item {
		c[k] = v
	}
	return c
}

func conditionFailed() error {
	return &dynamodbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}

	ref := keyOf(in.Item)
	if _, exists := f.items[ref]; exists && aws.ToString(in.ConditionExpression) == "attribute_not_exists(#reference)" {
		return nil, conditionFailed()
	}
	f.items[ref] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}

	item, exists := f.items[keyOf(in.Key)]
	if !exists {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}

	item, exists := f.items[keyOf(in.Key)]
	condition := aws.ToString(in.ConditionExpression)
	switch {
	case condition == "attribute_exists(#reference)" && !exists:
		return nil, conditionFailed()
	case condition == "#status = :from":
		if !exists {
			return nil, conditionFailed()
		}
		current := item["status"].(*dynamodbtypes.AttributeValueMemberS).Value
		from := in.ExpressionAttributeValues[":from"].(*dynamodbtypes.AttributeValueMemberS).Value
		if current != from {
			return nil, conditionFailed()
		}
	}

	for placeholder, attr := range in.ExpressionAttributeNames {
		if !strings.Contains(aws.ToString(in.UpdateExpression), placeholder+" = ") {
			continue
		}
		if v, ok := in.ExpressionAttributeValues[":"+attr]; ok {
			item[attr] = v
		}
	}

	out := &dynamodb.UpdateItemOutput{}
	if in.ReturnValues == dynamodbtypes.ReturnValueAllNew {
		out.Attributes = copyItem(item)
	}
	return out, nil
}

func TestDynamoStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) TransactionStore {
		return NewDynamoStore(newFakeDynamo(), "")
	})
}

func TestDynamoStoreWrapsClientErrors(t *testing.T) {
	fake := newFakeDynamo()
	fake.failAll = errors.New("throttled")
	s := NewDynamoStore(fake, "transactions")
	ctx := context.Background()

	if err := s.Create(ctx, makeTestTransaction("REF_x")); !errors.Is(err, models.ErrStorageFault) {
		t.Errorf("Create: expected ErrStorageFault, got %v", err)
	}
	if _, err := s.Get(ctx, "REF_x"); !errors.Is(err, models.ErrStorageFault) {
		t.Errorf("Get: expected ErrStorageFault, got %v", err)
	}
	if _, err := s.Transition(ctx, "REF_x", models.StatusInitiated, models.Patch{}); !errors.Is(err, models.ErrStorageFault) {
		t.Errorf("Transition: expected ErrStorageFault, got %v", err)
	}
}

func TestDynamoUpdateInputNamesOnlyUsedAttributes(t *testing.T) {
	s := NewDynamoStore(newFakeDynamo(), "transactions")
	status := models.StatusFailed

	in, err := s.updateInput("REF", models.Patch{Status: &status}, "#status = :from", map[string]dynamodbtypes.AttributeValue{
		":from": &dynamodbtypes.AttributeValueMemberS{Value: "initiated"},
	})
	if err != nil {
		t.Fatalf("updateInput failed: %v", err)
	}

	expr := aws.ToString(in.UpdateExpression)
	for placeholder := range in.ExpressionAttributeNames {
		if !strings.Contains(expr, placeholder) && !strings.Contains(aws.ToString(in.ConditionExpression), placeholder) {
			t.Errorf("Name %s is unused; DynamoDB rejects unused names", placeholder)
		}
	}
	if _, ok := in.ExpressionAttributeNames["#metadata"]; ok {
		t.Error("Expected no metadata name when patch has none")
	}
}
