package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"actionit/backend/conversation/models"
	"actionit/backend/pkg/cache"
	"actionit/backend/pkg/logger"
	"actionit/backend/shared/observability"
	"actionit/backend/shared/redis"
)

// ListCache holds the last listed messages per conversation. Every
// Invalidate moves the conversation's version, and Set only stores a list
// read at the current version, so a read that raced a write is never cached.
type ListCache interface {
	Get(ctx context.Context, conversationID string) ([]models.Message, bool)
	// Version returns the token to pass to Set; ok is false when the version
	// cannot be read and the list must not be cached.
	Version(ctx context.Context, conversationID string) (version int64, ok bool)
	Set(ctx context.Context, conversationID string, version int64, messages []models.Message)
	Invalidate(ctx context.Context, conversationID string)
}

func listKey(conversationID string) string {
	return "messages:" + conversationID
}

func versionKey(conversationID string) string {
	return "messages:" + conversationID + ":version"
}

type NoopListCache struct{}

func (NoopListCache) Get(context.Context, string) ([]models.Message, bool) { return nil, false }
func (NoopListCache) Version(context.Context, string) (int64, bool)         { return 0, false }
func (NoopListCache) Set(context.Context, string, int64, []models.Message) {}
func (NoopListCache) Invalidate(context.Context, string)                   {}

// MemoryListCache keeps lists in the process-local TTL cache
type MemoryListCache struct {
	cache *cache.Cache[[]models.Message]

	mu       sync.Mutex
	versions map[string]int64
}

func NewMemoryListCache(c *cache.Cache[[]models.Message]) *MemoryListCache {
	return &MemoryListCache{cache: c, versions: make(map[string]int64)}
}

func (m *MemoryListCache) Version(_ context.Context, conversationID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[conversationID], true
}

func (m *MemoryListCache) Get(_ context.Context, conversationID string) ([]models.Message, bool) {
	messages, ok := m.cache.Get(listKey(conversationID))
	if !ok {
		return nil, false
	}
	out := make([]models.Message, len(messages))
	copy(out, messages)
	return out, true
}

func (m *MemoryListCache) Set(_ context.Context, conversationID string, version int64, messages []models.Message) {
	stored := make([]models.Message, len(messages))
	copy(stored, messages)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[conversationID] != version {
		return
	}
	m.cache.Set(listKey(conversationID), stored)
}

func (m *MemoryListCache) Invalidate(_ context.Context, conversationID string) {
	m.mu.Lock()
	m.versions[conversationID]++
	m.cache.Delete(listKey(conversationID))
	m.mu.Unlock()
	observability.CacheInvalidations.WithLabelValues("backend_memory").Inc()
}

// RedisListCache stores lists as JSON in redis. Redis failures degrade to
// cache misses.
type RedisListCache struct {
	client *redis.RedisClient
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisListCache(client *redis.RedisClient, ttl time.Duration, log *logger.Logger) *RedisListCache {
	if log == nil {
		log = logger.Discard()
	}
	return &RedisListCache{client: client, ttl: ttl, log: log.WithComponent("redis_list_cache")}
}

func (r *RedisListCache) Get(ctx context.Context, conversationID string) ([]models.Message, bool) {
	var messages []models.Message
	err := r.client.GetJSON(ctx, listKey(conversationID), &messages)
	if errors.Is(err, redis.ErrMiss) {
		return nil, false
	}
	if err != nil {
		r.log.Warn("Redis list lookup failed", "conversation_id", conversationID, "error", err)
		return nil, false
	}
	return messages, true
}

func (r *RedisListCache) Version(ctx context.Context, conversationID string) (int64, bool) {
	v, err := r.client.Counter(ctx, versionKey(conversationID))
	if err != nil {
		r.log.Warn("Redis list version lookup failed", "conversation_id", conversationID, "error", err)
		return 0, false
	}
	return v, true
}

func (r *RedisListCache) Set(ctx context.Context, conversationID string, version int64, messages []models.Message) {
	err := r.client.SetJSONIfVersion(ctx, listKey(conversationID), messages, r.ttl, versionKey(conversationID), version)
	switch {
	case errors.Is(err, redis.ErrVersionMoved):
		r.log.Debug("List changed while reading, not cached", "conversation_id", conversationID)
	case err != nil:
		r.log.Warn("Redis list store failed", "conversation_id", conversationID, "error", err)
	}
}

// Invalidate bumps the version before deleting so a concurrent Set that read
// the old version is refused.
func (r *RedisListCache) Invalidate(ctx context.Context, conversationID string) {
	if _, err := r.client.Incr(ctx, versionKey(conversationID)); err != nil {
		r.log.Warn("Redis list version bump failed", "conversation_id", conversationID, "error", err)
	}
	if err := r.client.Del(ctx, listKey(conversationID)); err != nil {
		r.log.Warn("Redis list invalidation failed", "conversation_id", conversationID, "error", err)
		return
	}
	observability.CacheInvalidations.WithLabelValues("backend_redis").Inc()
}
