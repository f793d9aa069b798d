package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appLog "muezzin/internal/log"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "muezzin:schedule"

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// NewRedisClient returns a connected client, or nil when Addr is empty.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Redis invalidates on every message published to a channel. Payloads are
// informational only; pushes may be duplicated or reordered.
type Redis struct {
	client  redis.UniversalClient
	channel string
	backoff time.Duration
}

func NewRedis(client redis.UniversalClient, channel string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel, backoff: 2 * time.Second}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Run(ctx context.Context, notify func(reason string)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			appLog.Warn("redis subscriber error", "channel", r.channel, "cause", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.backoff):
			}
			continue
		}
		notify(msg.Payload)
	}
}

// Publish asks every engine subscribed to channel to refetch.
func Publish(ctx context.Context, client redis.UniversalClient, channel, reason string) error {
	if client == nil {
		return errors.New("redis client is nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return client.Publish(ctx, channel, reason).Err()
}
