package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
)

var client *redis.Client

// SetupCache initializes the connection to the Redis compatible cache server.
// It returns false when no host is configured or the server is unreachable.
func SetupCache(cfg config.CacheConfig) bool {
	if cfg.Host == "" {
		log.Info("[Cache] CACHE_HOST not set, running without cache")
		return false
	}

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache: %v", err)
		client = nil
		return false
	}
	log.Infof("[Cache] Successfully connected to cache: %s", pong)
	return true
}

// GetClient returns the Redis client instance, nil when SetupCache failed
func GetClient() *redis.Client {
	return client
}

// Store is the JSON cache consumed by read models.
type Store interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisStore keeps JSON documents in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(c *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: c, prefix: prefix}
}

// GetJSON decodes the cached value into dst; a miss returns false without error.
func (s *RedisStore) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, raw, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
