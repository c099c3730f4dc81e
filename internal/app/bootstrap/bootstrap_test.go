package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/chatbot-relay/internal/config"
	"github.com/wolfman30/chatbot-relay/internal/conversation"
	"github.com/wolfman30/chatbot-relay/internal/dialogue"
	"github.com/wolfman30/chatbot-relay/internal/media"
	"github.com/wolfman30/chatbot-relay/internal/relay"
	"github.com/wolfman30/chatbot-relay/internal/session"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

func TestBuildRedisClient_DisabledWhenUnused(t *testing.T) {
	cfg := &appconfig.Config{SessionCache: "memory", DialogueBackend: "watson"}
	client, err := BuildRedisClient(context.Background(), cfg, logging.Default(), true)
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestBuildRedisClient_PingsWhenVerifying(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{SessionCache: "redis", RedisAddr: mr.Addr()}

	client, err := BuildRedisClient(context.Background(), cfg, logging.Default(), true)
	require.NoError(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()
	_, err = BuildRedisClient(context.Background(), cfg, logging.Default(), true)
	assert.Error(t, err)
}

func TestBuildSessionCache(t *testing.T) {
	cache, err := BuildSessionCache(&appconfig.Config{SessionCache: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryCache{}, cache)

	_, err = BuildSessionCache(&appconfig.Config{SessionCache: "redis"}, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{SessionCache: "redis", RedisAddr: mr.Addr(), SessionTTL: time.Hour}
	client, err := BuildRedisClient(context.Background(), cfg, nil, false)
	require.NoError(t, err)
	cache, err = BuildSessionCache(cfg, client)
	require.NoError(t, err)
	assert.IsType(t, &session.RedisCache{}, cache)

	_, err = BuildSessionCache(&appconfig.Config{SessionCache: "memcached"}, nil)
	assert.Error(t, err)
}

func TestBuildDocumentStore(t *testing.T) {
	logger := logging.Default()

	store, pool, err := BuildDocumentStore(context.Background(), &appconfig.Config{DocumentStore: "memory"}, aws.Config{}, logger)
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.IsType(t, &conversation.MemoryStore{}, store)

	store, _, err = BuildDocumentStore(context.Background(), &appconfig.Config{
		DocumentStore:      "dynamodb",
		ConversationsTable: "conversations",
	}, aws.Config{Region: "us-east-1"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &conversation.DynamoStore{}, store)

	_, _, err = BuildDocumentStore(context.Background(), &appconfig.Config{DocumentStore: "sqlite"}, aws.Config{}, logger)
	assert.Error(t, err)
}

func TestBuildDialogueBackend(t *testing.T) {
	logger := logging.Default()

	backend, err := BuildDialogueBackend(&appconfig.Config{
		DialogueBackend:     "watson",
		AssistantServiceURL: "https://assistant.example.com",
		AssistantID:         "asst-1",
		ExternalCallTimeout: time.Second,
	}, aws.Config{}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &dialogue.AssistantClient{}, backend)

	_, err = BuildDialogueBackend(&appconfig.Config{DialogueBackend: "watson"}, aws.Config{}, nil, logger)
	assert.Error(t, err)

	_, err = BuildDialogueBackend(&appconfig.Config{DialogueBackend: "bedrock", BedrockModelID: "m"}, aws.Config{}, nil, logger)
	assert.Error(t, err, "bedrock without redis")

	mr := miniredis.RunT(t)
	client, err := BuildRedisClient(context.Background(), &appconfig.Config{DialogueBackend: "bedrock", RedisAddr: mr.Addr()}, logger, false)
	require.NoError(t, err)
	backend, err = BuildDialogueBackend(&appconfig.Config{
		DialogueBackend:   "bedrock",
		BedrockModelID:    "anthropic.claude-3-haiku",
		BedrockSessionTTL: time.Minute,
	}, aws.Config{Region: "us-east-1"}, client, logger)
	require.NoError(t, err)
	assert.IsType(t, &dialogue.BedrockBackend{}, backend)

	_, err = BuildDialogueBackend(&appconfig.Config{DialogueBackend: "rasa"}, aws.Config{}, nil, logger)
	assert.Error(t, err)
}

func TestBuildBlobStore(t *testing.T) {
	store, err := BuildBlobStore(&appconfig.Config{}, aws.Config{}, logging.Default())
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = BuildBlobStore(&appconfig.Config{
		MediaBucket:    "relay-media",
		AWSRegion:      "us-east-1",
		S3UsePathStyle: true,
	}, aws.Config{Region: "us-east-1"}, logging.Default())
	require.NoError(t, err)
	assert.IsType(t, &media.S3Store{}, store)
}

func TestBuildSpeech(t *testing.T) {
	stt, tts, err := BuildSpeech(&appconfig.Config{}, logging.Default())
	require.NoError(t, err)
	assert.Nil(t, stt)
	assert.Nil(t, tts)

	stt, tts, err = BuildSpeech(&appconfig.Config{
		STTServiceURL: "https://stt.example.com",
		TTSServiceURL: "https://tts.example.com",
	}, logging.Default())
	require.NoError(t, err)
	assert.NotNil(t, stt)
	assert.NotNil(t, tts)
}

func TestChannelConfigAlwaysYieldsIngestableBlobStore(t *testing.T) {
	cfg := &appconfig.Config{
		DocumentStore:       "memory",
		SessionCache:        "memory",
		DialogueBackend:     "watson",
		AssistantServiceURL: "https://assistant.example.com",
		AssistantID:         "asst-1",
		ExternalCallTimeout: time.Second,
		TelegramBotToken:    "123:abc",
		AWSRegion:           "us-east-1",
	}
	require.Error(t, cfg.Validate(), "a channel without a media bucket must not start")

	cfg.MediaBucket = "relay-media"
	require.NoError(t, cfg.Validate())

	blobs, err := BuildBlobStore(cfg, aws.Config{Region: "us-east-1"}, logging.Default())
	require.NoError(t, err)
	require.NotNil(t, blobs)
	assert.NotPanics(t, func() {
		relay.NewIngestor(media.NewDownloader(time.Second, "", ""), blobs, nil, time.Second, logging.Default())
	})
}
