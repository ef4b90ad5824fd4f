package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/clinical-notify/internal/apperr"
)

const defaultKeyPrefix = "clinical-notify:artifact"

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// RedisBlobs stores artifact bytes as plain Redis strings without expiry.
type RedisBlobs struct {
	store  cmdable
	raw    *redis.Client
	prefix string
}

// NewRedisBlobs parses a redis:// URL and verifies connectivity.
func NewRedisBlobs(ctx context.Context, url, prefix string) (*RedisBlobs, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisBlobs(raw, raw, prefix), nil
}

func newRedisBlobs(store cmdable, raw *redis.Client, prefix string) *RedisBlobs {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisBlobs{store: store, raw: raw, prefix: prefix}
}

func (r *RedisBlobs) key(id string) string {
	return r.prefix + ":" + id
}

func (r *RedisBlobs) Put(ctx context.Context, id string, content []byte) (string, error) {
	ok, err := r.store.SetNX(ctx, r.key(id), content, 0).Result()
	if err != nil {
		return "", apperr.StorageUnavailable(err, "redis setnx")
	}
	if !ok {
		return "", ErrArtifactExists
	}
	return "redis://" + r.key(id), nil
}

func (r *RedisBlobs) Get(ctx context.Context, id string) ([]byte, error) {
	content, err := r.store.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.NotFound("artifact content %s not found", id)
		}
		return nil, apperr.StorageUnavailable(err, "redis get")
	}
	return content, nil
}

func (r *RedisBlobs) Delete(ctx context.Context, id string) error {
	n, err := r.store.Del(ctx, r.key(id)).Result()
	if err != nil {
		return apperr.StorageUnavailable(err, "redis del")
	}
	if n == 0 {
		return apperr.NotFound("artifact content %s not found", id)
	}
	return nil
}

func (r *RedisBlobs) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx).Err(); err != nil {
		return apperr.StorageUnavailable(err, "redis ping")
	}
	return nil
}

func (r *RedisBlobs) Close() error {
	if r.raw == nil {
		return nil
	}
	return r.raw.Close()
}
