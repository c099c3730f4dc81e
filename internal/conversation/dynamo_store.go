package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore persists conversation documents as DynamoDB items keyed by id.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{client: client, tableName: tableName, logger: logger}
}

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyID: &types.AttributeValueMemberS{Value: id},
	}
}

// Exists reports whether a document is stored under id.
func (s *DynamoStore) Exists(ctx context.Context, id string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      s.key(id),
		ProjectionExpression:     aws.String("#id"),
		ExpressionAttributeNames: map[string]string{"#id": keyID},
	})
	if err != nil {
		return false, fmt.Errorf("conversation: failed to probe document: %w", err)
	}
	return len(out.Item) > 0, nil
}

// Get fetches the full document.
func (s *DynamoStore) Get(ctx context.Context, id string) (*Document, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to fetch document: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrDocumentNotFound
	}
	return decodeDynamoDocument(out.Item)
}

// Put overwrites the document when the stored revision still matches.
func (s *DynamoStore) Put(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return errors.New("conversation: document id required")
	}
	next := doc.Revision + 1
	item, err := encodeDynamoDocument(doc, next)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if doc.Revision == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(#id)")
		input.ExpressionAttributeNames = map[string]string{"#id": keyID}
	} else {
		input.ConditionExpression = aws.String("#rev = :expected")
		input.ExpressionAttributeNames = map[string]string{"#rev": keyRevision}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(doc.Revision, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			s.logger.Debug("conversation: conditional put rejected", "id", doc.ID, "revision", doc.Revision)
			return ErrRevisionConflict
		}
		return fmt.Errorf("conversation: failed to persist document: %w", err)
	}
	doc.Revision = next
	return nil
}

func encodeDynamoDocument(doc *Document, revision int64) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, len(doc.Features)+3)
	for k, v := range doc.Features {
		if IsReservedKey(k) {
			continue
		}
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("conversation: failed to marshal feature %q: %w", k, err)
		}
		item[k] = av
	}
	sessions := doc.Conversation
	if sessions == nil {
		sessions = []Session{}
	}
	conv, err := attributevalue.Marshal(sessions)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to marshal sessions: %w", err)
	}
	item[keyID] = &types.AttributeValueMemberS{Value: doc.ID}
	item[keyConversation] = conv
	item[keyRevision] = &types.AttributeValueMemberN{Value: strconv.FormatInt(revision, 10)}
	return item, nil
}

func decodeDynamoDocument(item map[string]types.AttributeValue) (*Document, error) {
	var doc Document
	if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode document: %w", err)
	}
	for k, av := range item {
		if IsReservedKey(k) {
			continue
		}
		var val any
		if err := attributevalue.Unmarshal(av, &val); err != nil {
			return nil, fmt.Errorf("conversation: failed to decode feature %q: %w", k, err)
		}
		if doc.Features == nil {
			doc.Features = make(map[string]any)
		}
		doc.Features[k] = val
	}
	return &doc, nil
}
