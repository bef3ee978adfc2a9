package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReporter publishes events as JSON on a Redis pub/sub channel.
type RedisReporter struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisReporter connects to addr and verifies the connection with PING.
func NewRedisReporter(ctx context.Context, addr, channel string, logger *slog.Logger) (*RedisReporter, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis progress: address is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("redis progress: channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisReporter{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With("component", "redis-progress"),
	}, nil
}

func (r *RedisReporter) Report(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode progress event: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Subscribe delivers events published on the channel to fn until ctx is
// cancelled. It returns once the subscription is confirmed.
func (r *RedisReporter) Subscribe(ctx context.Context, fn func(Event)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					r.logger.Warn("bad progress payload", "error", err)
					continue
				}
				fn(ev)
			}
		}
	}()

	return nil
}

// Close releases the Redis connection.
func (r *RedisReporter) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
