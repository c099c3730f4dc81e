package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/chatbot-relay/internal/config"
	"github.com/wolfman30/chatbot-relay/internal/conversation"
	"github.com/wolfman30/chatbot-relay/internal/session"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

// NeedsRedis reports whether any configured component is Redis-backed.
func NeedsRedis(cfg *appconfig.Config) bool {
	return cfg.SessionCache == "redis" || cfg.DialogueBackend == "bedrock"
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures are returned.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) (*redis.Client, error) {
	if cfg == nil || !NeedsRedis(cfg) {
		return nil, nil
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, fmt.Errorf("bootstrap: REDIS_ADDR required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client, nil
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bootstrap: redis ping: %w", err)
	}
	logger.Info("redis connected", "addr", cfg.RedisAddr)
	return client, nil
}

// BuildSessionCache picks the session cache named by SESSION_CACHE.
func BuildSessionCache(cfg *appconfig.Config, redisClient *redis.Client) (session.Cache, error) {
	switch cfg.SessionCache {
	case "", "memory":
		return session.NewMemoryCache(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: redis session cache needs a redis client")
		}
		return session.NewRedisCache(redisClient, cfg.SessionTTL), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown session cache %q", cfg.SessionCache)
}

// BuildDocumentStore picks the conversation document store named by
// DOCUMENT_STORE. The postgres pool is opened here and returned so the
// caller can close it.
func BuildDocumentStore(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.Store, *pgxpool.Pool, error) {
	switch cfg.DocumentStore {
	case "", "memory":
		logger.Warn("using in-memory conversation store; transcripts are lost on restart")
		return conversation.NewMemoryStore(), nil, nil
	case "dynamodb":
		client := dynamodb.NewFromConfig(awsCfg)
		return conversation.NewDynamoStore(client, cfg.ConversationsTable, logger), nil, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		return conversation.NewPostgresStore(pool), pool, nil
	}
	return nil, nil, fmt.Errorf("bootstrap: unknown document store %q", cfg.DocumentStore)
}
