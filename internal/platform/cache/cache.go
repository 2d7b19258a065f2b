package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss indicates the key is not present in the cache.
var ErrMiss = errors.New("cache miss")

// KV is the key/value store used for snapshot payload caching. It exists so
// tests can substitute an in-memory implementation for Redis.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// MonitoringKey returns the cache key for the latest monitoring snapshot at
// the given hours threshold.
func MonitoringKey(hoursThreshold int) string {
	return fmt.Sprintf("monitoring:latest:%d", hoursThreshold)
}

// DetailKey returns the cache key for the latest detail snapshot of a patient.
func DetailKey(patientID int64) string {
	return fmt.Sprintf("detail:latest:%d", patientID)
}

// Redis is a KV backed by go-redis.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the Redis instance described by url
// (redis://host:port/db) and verifies the connection with a ping.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Close releases the underlying client connections.
func (r *Redis) Close() error {
	return r.client.Close()
}
