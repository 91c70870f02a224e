package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var _ Limiter = (*Redis)(nil)

// checkAndRecordScript returns {allowed, previous}; previous is -1 when absent.
var checkAndRecordScript = redis.NewScript(`
local last = redis.call("GET", KEYS[1])
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
if last then
  local prev = tonumber(last)
  if now < prev + cooldown then
    return {0, prev}
  end
  redis.call("SET", KEYS[1], ARGV[1])
  return {1, prev}
end
redis.call("SET", KEYS[1], ARGV[1])
return {1, -1}
`)

// restoreScript undoes a record only if nobody overwrote it since.
var restoreScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[2]) < 0 then
  redis.call("DEL", KEYS[1])
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// Redis shares cooldown entries between coordinator replicas.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to addr. Keys are namespaced with prefix.
func NewRedis(addr, password string, db int, prefix string) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisWithClient(client, prefix), nil
}

func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "relay:cooldown:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(caller common.Address) string {
	return r.prefix + caller.Hex()
}

func (r *Redis) CheckAndRecord(
	ctx context.Context,
	caller common.Address,
	cooldown time.Duration,
	now time.Time,
) (*Reservation, error) {
	key := r.key(caller)
	nowMs := now.UnixMilli()

	res, err := checkAndRecordScript.Run(ctx, r.client, []string{key}, nowMs, cooldown.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cooldown check: %w", err)
	}
	values, ok := res.([]any)
	if !ok || len(values) < 2 {
		return nil, errors.New("unexpected redis cooldown response")
	}
	allowed, _ := values[0].(int64)
	prev, _ := values[1].(int64)

	if allowed == 0 {
		return nil, &LimitedError{Caller: caller, RetryAt: time.UnixMilli(prev).Add(cooldown)}
	}

	return newReservation(func(ctx context.Context) error {
		if err := restoreScript.Run(ctx, r.client, []string{key}, nowMs, prev).Err(); err != nil {
			return fmt.Errorf("redis cooldown restore: %w", err)
		}
		return nil
	}), nil
}

func (r *Redis) Last(ctx context.Context, caller common.Address) (time.Time, bool, error) {
	ms, err := r.client.Get(ctx, r.key(caller)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
