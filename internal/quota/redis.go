package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tubescriber:quota:"

// RedisLedger stores per-window consumption under tubescriber:quota:<date>.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger connects to rawURL (redis://...) and verifies the connection.
func NewRedisLedger(ctx context.Context, rawURL string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisLedger{client: client}, nil
}

func (r *RedisLedger) Load(ctx context.Context, window string) (int64, error) {
	n, err := r.client.Get(ctx, keyPrefix+window).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading quota window %q: %w", window, err)
	}
	return n, nil
}

func (r *RedisLedger) Add(ctx context.Context, window string, n int64, expireAt time.Time) error {
	key := keyPrefix + window
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, n)
		pipe.ExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("adding to quota window %q: %w", window, err)
	}
	return nil
}

// Reset removes the consumption recorded for window.
func (r *RedisLedger) Reset(ctx context.Context, window string) error {
	return r.client.Del(ctx, keyPrefix+window).Err()
}

func (r *RedisLedger) Close() error {
	return r.client.Close()
}
