package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores assembled order read models. Access checks are never cached;
// the service applies them to every hit.
type Cache interface {
	Get(ctx context.Context, id string) (*OrderWithItems, bool, error)
	Set(ctx context.Context, o *OrderWithItems) error
	Invalidate(ctx context.Context, id string) error
}

type RedisCache struct {
	client      redis.UniversalClient
	serviceName string
	ttl         time.Duration
}

func NewRedisCache(client redis.UniversalClient, serviceName string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, serviceName: serviceName, ttl: ttl}
}

func (c *RedisCache) key(id string) string {
	return fmt.Sprintf("%s:%s:%s", c.serviceName, "order", id)
}

func (c *RedisCache) Get(ctx context.Context, id string) (*OrderWithItems, bool, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var o OrderWithItems
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false, err
	}
	return &o, true, nil
}

func (c *RedisCache) Set(ctx context.Context, o *OrderWithItems) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(o.ID), data, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, c.key(id)).Err()
}
