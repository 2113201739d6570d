package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// redis_limiter.go — Redis sliding-window limiter.
//
// Each identifier keeps a sorted set of request timestamps; a check counts
// members inside the rolling window, then trims and appends in one
// transaction. Redis provides the atomic semantics the contract requires
// across instances.
// ---------------------------------------------------------------------------

const (
	redisLimitKeyPrefix   = "aegis:ratelimit:"
	redisBlockKeyPrefix   = "aegis:blocked:"
	redisAppliedKeyPrefix = "aegis:applied:"
)

// RedisLimiter is a Redis-backed RateLimiter.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter wraps a Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func (l *RedisLimiter) limitKey(identifier string, rule Rule) string {
	return redisLimitKeyPrefix + rule.Name + ":" + identifier
}

// CheckLimit counts the window, and consumes one slot when allowed.
func (l *RedisLimiter) CheckLimit(ctx context.Context, identifier string, rule Rule, _ CheckContext) (Result, error) {
	blocked, err := l.IsBlocked(ctx, identifier)
	if err != nil {
		return Result{}, err
	}
	now := l.now()
	if blocked {
		ttl, err := l.client.TTL(ctx, redisBlockKeyPrefix+identifier).Result()
		if err != nil {
			return Result{}, fmt.Errorf("reading block ttl for %s: %w", identifier, err)
		}
		return Result{
			Allowed:    false,
			Limit:      rule.MaxRequests,
			Remaining:  0,
			ResetTime:  now.Add(ttl),
			RetryAfter: ttl,
		}, nil
	}

	if applied, ok, err := l.appliedLimit(ctx, identifier); err != nil {
		return Result{}, err
	} else if ok && applied.MaxRequests < rule.MaxRequests {
		rule = applied
	}

	key := l.limitKey(identifier, rule)
	windowStart := now.Add(-rule.Window).Unix()

	count, err := l.client.ZCount(ctx, key,
		strconv.FormatInt(windowStart, 10),
		strconv.FormatInt(now.Unix(), 10)).Result()
	if err != nil {
		return Result{}, fmt.Errorf("counting window for %s: %w", identifier, err)
	}

	reset := now.Add(rule.Window)
	if count >= int64(rule.MaxRequests) {
		return Result{
			Allowed:    false,
			Limit:      rule.MaxRequests,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: rule.Window,
		}, nil
	}

	member := fmt.Sprintf("%d:%s", now.Unix(), uuid.New().String())
	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.Unix()), Member: member})
	pipe.Expire(ctx, key, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("recording request for %s: %w", identifier, err)
	}

	return Result{
		Allowed:   true,
		Limit:     rule.MaxRequests,
		Remaining: rule.MaxRequests - int(count) - 1,
		ResetTime: reset,
	}, nil
}

func (l *RedisLimiter) IncrementCounter(ctx context.Context, identifier string, rule Rule) error {
	now := l.now()
	key := l.limitKey(identifier, rule)
	member := fmt.Sprintf("%d:%s", now.Unix(), uuid.New().String())
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.Unix()), Member: member})
	pipe.Expire(ctx, key, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incrementing counter for %s: %w", identifier, err)
	}
	return nil
}

func (l *RedisLimiter) GetRemainingRequests(ctx context.Context, identifier string, rule Rule) (int, error) {
	now := l.now()
	count, err := l.client.ZCount(ctx, l.limitKey(identifier, rule),
		strconv.FormatInt(now.Add(-rule.Window).Unix(), 10),
		strconv.FormatInt(now.Unix(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting window for %s: %w", identifier, err)
	}
	remaining := rule.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *RedisLimiter) ResetCounter(ctx context.Context, identifier string, rule Rule) error {
	if err := l.client.Del(ctx, l.limitKey(identifier, rule)).Err(); err != nil {
		return fmt.Errorf("resetting counter for %s: %w", identifier, err)
	}
	return nil
}

func (l *RedisLimiter) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	n, err := l.client.Exists(ctx, redisBlockKeyPrefix+identifier).Result()
	if err != nil {
		return false, fmt.Errorf("checking block for %s: %w", identifier, err)
	}
	return n > 0, nil
}

func (l *RedisLimiter) Block(ctx context.Context, identifier string, d time.Duration) error {
	if err := l.client.Set(ctx, redisBlockKeyPrefix+identifier, "1", d).Err(); err != nil {
		return fmt.Errorf("blocking %s: %w", identifier, err)
	}
	return nil
}

func (l *RedisLimiter) Unblock(ctx context.Context, identifier string) error {
	if err := l.client.Del(ctx, redisBlockKeyPrefix+identifier).Err(); err != nil {
		return fmt.Errorf("unblocking %s: %w", identifier, err)
	}
	return nil
}

func (l *RedisLimiter) ApplyLimit(ctx context.Context, subject string, maxRequests int, window, d time.Duration) error {
	rule := Rule{Name: "applied:" + subject, MaxRequests: maxRequests, Window: window}
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encoding applied limit for %s: %w", subject, err)
	}
	if err := l.client.Set(ctx, redisAppliedKeyPrefix+subject, data, d).Err(); err != nil {
		return fmt.Errorf("applying limit for %s: %w", subject, err)
	}
	return nil
}

func (l *RedisLimiter) RemoveLimit(ctx context.Context, subject string) error {
	if err := l.client.Del(ctx, redisAppliedKeyPrefix+subject).Err(); err != nil {
		return fmt.Errorf("removing limit for %s: %w", subject, err)
	}
	return nil
}

func (l *RedisLimiter) appliedLimit(ctx context.Context, identifier string) (Rule, bool, error) {
	data, err := l.client.Get(ctx, redisAppliedKeyPrefix+identifier).Bytes()
	if err == redis.Nil {
		return Rule{}, false, nil
	}
	if err != nil {
		return Rule{}, false, fmt.Errorf("reading applied limit for %s: %w", identifier, err)
	}
	var rule Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return Rule{}, false, fmt.Errorf("decoding applied limit for %s: %w", identifier, err)
	}
	return rule, true, nil
}
