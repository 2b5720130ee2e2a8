package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"entityid/pkg/platform/sentinel"
)

const redisKeyPrefix = "euid:seq:"

// raiseScript stores ARGV[1] only when it is higher than the current value and
// returns the value held before the call.
var raiseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) > current then
  redis.call('SET', KEYS[1], ARGV[1])
end
return current
`)

// RedisCounter keeps counters in Redis. Values never move backwards. An
// Advance that finds the value already taken fails with sentinel.ErrConflict,
// so a number issued by another writer is never handed out twice.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Load(ctx context.Context, key string) (int, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("redis sequence %s holds %q: %w", key, raw, sentinel.ErrInvalidState)
	}
	return v, nil
}

func (c *RedisCounter) Advance(ctx context.Context, key string, value int) error {
	prev, err := raiseScript.Run(ctx, c.client, []string{redisKeyPrefix + key}, value).Int()
	if err != nil {
		return fmt.Errorf("redis raise %s: %w", key, err)
	}
	if prev >= value {
		return fmt.Errorf("sequence %s is already at %d: %w", key, prev, sentinel.ErrConflict)
	}
	return nil
}
