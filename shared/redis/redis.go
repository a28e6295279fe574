package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss is returned by Get when the key does not exist
	ErrMiss = errors.New("redis: key not found")
	// ErrVersionMoved is returned by SetJSONIfVersion when the version key
	// changed before the write
	ErrVersionMoved = errors.New("redis: version moved")
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key written through the client
	Prefix string
}

type RedisClient struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisClient(opts Options) *RedisClient {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisClient{client: client, prefix: opts.Prefix}
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(client redis.UniversalClient, prefix string) *RedisClient {
	return &RedisClient{client: client, prefix: prefix}
}

func (r *RedisClient) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (r *RedisClient) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// SetJSON stores v encoded as JSON
func (r *RedisClient) SetJSON(ctx context.Context, key string, v any, expiration time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.Set(ctx, key, data, expiration)
}

// GetJSON decodes the JSON stored at key into v
func (r *RedisClient) GetJSON(ctx context.Context, key string, v any) error {
	raw, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

// Incr bumps the counter at key and returns the new value
func (r *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, r.key(key)).Result()
}

// Counter reads the counter at key; a missing key reads as zero
func (r *RedisClient) Counter(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, r.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// SetJSONIfVersion stores v at key only while the counter at versionKey
// still equals version. The check and the write run in one WATCH
// transaction.
func (r *RedisClient) SetJSONIfVersion(ctx context.Context, key string, v any, expiration time.Duration, versionKey string, version int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	vk := r.key(versionKey)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return ErrVersionMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key(key), data, expiration)
			return nil
		})
		if errors.Is(err, redis.TxFailedErr) {
			return ErrVersionMoved
		}
		return err
	}, vk)
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
