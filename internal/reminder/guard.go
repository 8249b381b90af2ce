package reminder

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/clinicops/platform/internal/shared/config"
)

// Guard hands out short-lived send claims so that overlapping dispatch
// runs do not push the same reminder concurrently. The send log remains
// the durable record; a claim only covers the gap between send and log write.
type Guard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// NewRedisClient opens the client used by RedisGuard.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisGuard implements Guard with SETNX.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a guard whose claims expire after ttl.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: "reminder:claim:", ttl: ttl}
}

// Claim takes key unless another dispatch holds it.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, time.Now().Unix(), g.ttl).Result()
}

// Release drops a claim so a failed send can be retried.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.prefix+key).Err()
}

// NopGuard always grants the claim. Used when Redis is not configured.
type NopGuard struct{}

func (NopGuard) Claim(context.Context, string) (bool, error) { return true, nil }
func (NopGuard) Release(context.Context, string) error { return nil }
