package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// IDCache is a read-through cache for stable identifier lookups such as
// account code -> id. Values never include balances.
type IDCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewIDCache constructs an IDCache. A nil client turns it into a pass-through.
func NewIDCache(client *redis.Client, ttl time.Duration) *IDCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IDCache{client: client, ttl: ttl}
}

// Resolve returns the cached id for key, calling load on a miss. Concurrent
// misses for the same key share one load. Redis failures fall back to load.
func (c *IDCache) Resolve(ctx context.Context, key string, load func(context.Context) (int64, error)) (int64, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			return id, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return load(ctx)
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		id, err := load(ctx)
		if err != nil {
			return int64(0), err
		}
		_ = c.client.Set(ctx, key, strconv.FormatInt(id, 10), c.ttl).Err()
		return id, nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

// Forget drops key.
func (c *IDCache) Forget(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}
