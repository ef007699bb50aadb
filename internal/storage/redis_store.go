package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RedisStore persists widget state in Redis. Every write refreshes the key TTL,
// so abandoned visitors age out on their own.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisStore wraps a redis client. A zero ttl keeps keys forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("storage: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("movement-intake.internal.storage.redis")
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		tracer: tracer,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "storage.get", trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	val, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		span.RecordError(err)
		return "", fmt.Errorf("storage: redis get: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	ctx, span := s.tracer.Start(ctx, "storage.set", trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	if err := s.redis.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storage: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "storage.remove", trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("storage: redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}
