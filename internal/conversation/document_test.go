package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUtteranceJSONShapes(t *testing.T) {
	single, err := json.Marshal(Text("hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(single))

	list, err := json.Marshal(Parts("https://media/a.ogg", "Hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `["https://media/a.ogg","Hello"]`, string(list))

	var u Utterance
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &u))
	assert.True(t, u.IsList())
	assert.Equal(t, []string{"a", "b"}, u.Strings())

	require.NoError(t, json.Unmarshal([]byte(`"plain"`), &u))
	assert.False(t, u.IsList())
	assert.Equal(t, "plain", u.String())
}

func TestUtteranceDynamoShapes(t *testing.T) {
	av, err := Text("hi").MarshalDynamoDBAttributeValue()
	require.NoError(t, err)
	assert.Equal(t, "hi", av.(*types.AttributeValueMemberS).Value)

	av, err = Parts("x", "y").MarshalDynamoDBAttributeValue()
	require.NoError(t, err)
	require.Len(t, av.(*types.AttributeValueMemberL).Value, 2)

	var u Utterance
	require.NoError(t, u.UnmarshalDynamoDBAttributeValue(av))
	assert.Equal(t, []string{"x", "y"}, u.Strings())

	err = u.UnmarshalDynamoDBAttributeValue(&types.AttributeValueMemberN{Value: "1"})
	assert.Error(t, err)
}

func TestDocumentJSONFlattensFeatures(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := Document{
		ID:       "user-1",
		Revision: 4,
		Conversation: []Session{{
			SessionID: "s1",
			Timestamp: ts,
			Conversation: []Shift{
				{Speaker: SpeakerUser, Message: Text("Hi"), Timestamp: ts},
			},
		}},
		Features: map[string]any{"city": "Recife", "id": "shadow"},
	}

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "user-1", raw["id"])
	assert.Equal(t, "Recife", raw["city"])
	assert.EqualValues(t, 4, raw["revision"])

	var back Document
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "user-1", back.ID)
	assert.Equal(t, int64(4), back.Revision)
	assert.Equal(t, map[string]any{"city": "Recife"}, back.Features)
	require.Len(t, back.Conversation, 1)
	assert.Equal(t, "Hi", back.Conversation[0].Conversation[0].Message.String())
}

func TestDocumentHelpers(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &Document{ID: "u", Conversation: []Session{
		{SessionID: "a", Timestamp: t0},
		{SessionID: "b", Timestamp: t0.Add(time.Minute), Conversation: []Shift{{Timestamp: t0.Add(time.Hour)}}},
	}}
	assert.Equal(t, "b", doc.LastSessionID())
	assert.Equal(t, t0.Add(time.Hour), doc.LastTimestamp())

	clone := doc.Clone()
	clone.Conversation[0].SessionID = "changed"
	assert.Equal(t, "a", doc.Conversation[0].SessionID)

	var empty *Document
	assert.Equal(t, "", empty.LastSessionID())
}
