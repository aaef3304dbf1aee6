package infrastructure

import (
	"context"
	"time"

	"orderhub/internal/pkg/redis"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// RedisViewCache 是 port.ViewCache 的 Redis 实现，键直接使用视图键，不加前缀。
type RedisViewCache struct {
	client *redis.Client
}

func NewRedisViewCache(client *redis.Client) *RedisViewCache {
	return &RedisViewCache{client: client}
}

func (c *RedisViewCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.GetClient().Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

func (c *RedisViewCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return errors.Wrapf(c.client.GetClient().Set(ctx, key, value, ttl).Err(), "redis set %s", key)
}

// Replace 使用 SET XX KEEPTTL，键在读和写之间过期时不会被重新创建。
func (c *RedisViewCache) Replace(ctx context.Context, key string, value []byte) (bool, error) {
	err := c.client.GetClient().SetArgs(ctx, key, value, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "redis set xx %s", key)
	}
	return true, nil
}

func (c *RedisViewCache) Remove(ctx context.Context, key string) error {
	return errors.Wrapf(c.client.GetClient().Del(ctx, key).Err(), "redis del %s", key)
}
