// Package session tracks the active dialogue-backend session per user.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Cache maps a user token to its current session id.
type Cache interface {
	Get(ctx context.Context, userID string) (string, bool, error)
	Put(ctx context.Context, userID, sessionID string) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu       sync.RWMutex
	sessions map[string]string
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sessions: make(map[string]string)}
}

func (c *MemoryCache) Get(_ context.Context, userID string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.sessions[userID]
	return id, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, userID, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[userID] = sessionID
	return nil
}

// RedisCache shares session ids across relay replicas.
type RedisCache struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache builds a cache whose entries expire after ttl (0 keeps them).
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	return &RedisCache{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("chatbot-relay.internal.session"),
	}
}

func (c *RedisCache) Get(ctx context.Context, userID string) (string, bool, error) {
	ctx, span := c.tracer.Start(ctx, "session.cache_get")
	defer span.End()

	id, err := c.redis.Get(ctx, cacheKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		span.RecordError(err)
		return "", false, fmt.Errorf("session: failed to read cache: %w", err)
	}
	return id, true, nil
}

func (c *RedisCache) Put(ctx context.Context, userID, sessionID string) error {
	ctx, span := c.tracer.Start(ctx, "session.cache_put")
	defer span.End()

	if err := c.redis.Set(ctx, cacheKey(userID), sessionID, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to write cache: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("relay:session:%s", userID)
}
