package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter shared by every API replica.
type Redis struct {
	rdb    redis.Cmdable
	rule   Rule
	prefix string
}

func NewRedis(rdb redis.Cmdable, prefix string, rule Rule) *Redis {
	return &Redis{rdb: rdb, rule: rule, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	k := r.prefix + ":" + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", r.prefix, err)
	}

	remaining := ttl.Val()

	// first hit of a window (or a key that lost its expiry): start the clock
	if remaining < 0 {
		err = r.rdb.PExpire(ctx, k, r.rule.Window).Err()
		if err != nil {
			return Decision{}, fmt.Errorf("rate limit %s expire: %w", r.prefix, err)
		}
		remaining = r.rule.Window
	}

	return decide(r.rule, incr.Val(), remaining), nil
}
