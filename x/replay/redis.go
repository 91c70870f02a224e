package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var _ Guard = (*Redis)(nil)

// Redis stores fingerprints as keys. With a bounded window each key expires
// once its message could no longer be admitted, so Prune has nothing to do.
type Redis struct {
	client *redis.Client
	prefix string
	window Window
	now    func() time.Time
}

func NewRedis(addr, password string, db int, prefix string, window time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisWithClient(client, prefix, window), nil
}

func NewRedisWithClient(client *redis.Client, prefix string, window time.Duration) *Redis {
	if prefix == "" {
		prefix = "relay:seen:"
	}
	return &Redis{client: client, prefix: prefix, window: Window(window), now: time.Now}
}

func (r *Redis) key(fp common.Hash) string {
	return r.prefix + fp.Hex()
}

func (r *Redis) AdmitOnce(ctx context.Context, fp common.Hash, sentAt time.Time) (Verdict, error) {
	now := r.now()
	if !r.window.accepts(sentAt, now) {
		return Expired, nil
	}

	var ttl time.Duration
	if r.window.bounded() {
		// keep the key until sentAt leaves the window
		ttl = sentAt.Add(time.Duration(r.window)).Sub(now)
		if ttl < time.Millisecond {
			ttl = time.Millisecond
		}
	}

	ok, err := r.client.SetNX(ctx, r.key(fp), sentAt.Unix(), ttl).Result()
	if err != nil {
		return Admitted, fmt.Errorf("redis admit: %w", err)
	}
	if !ok {
		return Duplicate, nil
	}
	return Admitted, nil
}

func (r *Redis) Forget(ctx context.Context, fp common.Hash) error {
	if err := r.client.Del(ctx, r.key(fp)).Err(); err != nil {
		return fmt.Errorf("redis forget: %w", err)
	}
	return nil
}

func (r *Redis) Prune(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Len is not tracked for Redis; it reports -1.
func (r *Redis) Len() int {
	return -1
}

func (r *Redis) Close() error {
	return r.client.Close()
}
