// Package ratelimit gates the status endpoints per (actor, endpoint) pair.
//
// The limiter runs before any fetch, authorization check, or mutation; a
// denied request must produce zero side effects. Store failures deny the
// request (fail closed) rather than silently admitting it.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLimit  = 10
	DefaultWindow = 60 * time.Second
)

// Decision is the outcome of a limiter check. RetryAfter is only meaningful
// when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether an actor may call an endpoint right now.
type Limiter interface {
	Allow(ctx context.Context, actorID, endpoint string) (Decision, error)
}

func key(prefix, actorID, endpoint string) string {
	return prefix + ":" + actorID + ":" + endpoint
}

// RedisLimiter is a sliding-window limiter backed by a Redis sorted set,
// for deployments where several service instances run concurrently. The
// whole window check is one Lua script, so concurrent requests cannot
// sneak past the limit between a read and a write.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// Returns {1, 0} when admitted, {0, <oldest member score>} when over limit.
var slidingWindowScript = redis.NewScript(`
local cutoff = tonumber(ARGV[2]) - tonumber(ARGV[1])
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, cutoff)
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  return {0, oldest[2]}
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return {1, 0}
`)

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string) *RedisLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

func (rl *RedisLimiter) Allow(ctx context.Context, actorID, endpoint string) (Decision, error) {
	now := time.Now()
	res, err := slidingWindowScript.Run(ctx, rl.rdb,
		[]string{key(rl.prefix, actorID, endpoint)},
		rl.window.Milliseconds(),
		now.UnixMilli(),
		rl.limit,
		uuid.NewString(),
	).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected redis script result %T", res)
	}
	admitted, err := toInt64(values[0])
	if err != nil {
		return Decision{}, err
	}
	if admitted == 1 {
		return Decision{Allowed: true}, nil
	}

	oldest, err := toInt64(values[1])
	if err != nil {
		return Decision{}, err
	}
	retryAfter := time.UnixMilli(oldest).Add(rl.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		// Lua number-to-string conversions can carry a fractional part.
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), nil
		}
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis value type %T", v)
	}
}
