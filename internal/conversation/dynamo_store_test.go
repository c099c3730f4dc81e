package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

type fakeDynamo struct {
	items     map[string]map[string]types.AttributeValue
	putInputs []*dynamodb.PutItemInput
	getInputs []*dynamodb.GetItemInput
	putErr    error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	id := in.Item["id"].(*types.AttributeValueMemberS).Value
	current, exists := f.items[id]
	if in.ExpressionAttributeValues == nil {
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	} else {
		want := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
		if !exists || current["revision"].(*types.AttributeValueMemberN).Value != want {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("stale")}
		}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInputs = append(f.getInputs, in)
	id := in.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

func TestDynamoStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := NewDynamoStore(fake, "chatbot_conversations", logging.Default())

	ts := time.Date(2024, 2, 2, 8, 30, 0, 0, time.UTC)
	doc := &Document{
		ID: "u1",
		Conversation: []Session{{
			SessionID: "s1",
			Timestamp: ts,
			Conversation: []Shift{
				{Speaker: SpeakerUser, Message: Parts("https://media/u1.ogg", "Hello"), Timestamp: ts},
				{Speaker: SpeakerChatbot, Message: Text("Hi!"), Timestamp: ts},
			},
		}},
		Features: map[string]any{"plan": "gold"},
	}
	require.NoError(t, store.Put(ctx, doc))
	assert.Equal(t, int64(1), doc.Revision)

	put := fake.putInputs[0]
	require.NotNil(t, put.ConditionExpression)
	assert.Equal(t, "attribute_not_exists(#id)", *put.ConditionExpression)
	assert.Equal(t, "chatbot_conversations", *put.TableName)
	_, flattened := put.Item["plan"]
	assert.True(t, flattened, "features must be top-level attributes")

	ok, err := store.Exists(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
	assert.Equal(t, "gold", got.Features["plan"])
	require.Len(t, got.Conversation, 1)
	shifts := got.Conversation[0].Conversation
	require.Len(t, shifts, 2)
	assert.Equal(t, []string{"https://media/u1.ogg", "Hello"}, shifts[0].Message.Strings())
	assert.True(t, shifts[0].Message.IsList())
	assert.False(t, shifts[1].Message.IsList())
	assert.True(t, shifts[0].Timestamp.Equal(ts))
}

func TestDynamoStore_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := NewDynamoStore(fake, "t", nil)

	doc := &Document{ID: "u1"}
	require.NoError(t, store.Put(ctx, doc))

	stale := &Document{ID: "u1", Revision: 5}
	assert.ErrorIs(t, store.Put(ctx, stale), ErrRevisionConflict)

	require.NoError(t, store.Put(ctx, doc))
	assert.Equal(t, int64(2), doc.Revision)
	last := fake.putInputs[len(fake.putInputs)-1]
	assert.Equal(t, "#rev = :expected", *last.ConditionExpression)
	assert.Equal(t, "revision", last.ExpressionAttributeNames["#rev"])
}

func TestDynamoStore_GetMissing(t *testing.T) {
	store := NewDynamoStore(newFakeDynamo(), "t", nil)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestDynamoStore_PutErrorWrapped(t *testing.T) {
	fake := newFakeDynamo()
	fake.putErr = errors.New("throttled")
	store := NewDynamoStore(fake, "t", nil)
	err := store.Put(context.Background(), &Document{ID: "u1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRevisionConflict)
	assert.Contains(t, err.Error(), "throttled")
}

func TestNewDynamoStorePanicsWithoutClient(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewDynamoStore(nil, "t", nil)
}
