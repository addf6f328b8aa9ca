// Package lease provides per-record mutual exclusion across pipeline invocations.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"BlogPublisher/internal/config"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/ports"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements ports.Lease with SET NX PX.
type RedisLease struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

var _ ports.Lease = (*RedisLease)(nil)

// NewRedisLease wraps an existing client. cfg.TTL must outlive one record's
// publish; config.Config.LeaseTTL computes a safe value.
func NewRedisLease(client *redis.Client, cfg config.LeaseConfig, logger *slog.Logger) *RedisLease {
	if logger == nil {
		logger = logging.Discard()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLease{client: client, ttl: ttl, prefix: cfg.Prefix, logger: logger}
}

// NewClient opens a Redis client from configuration.
func NewClient(cfg config.LeaseConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Acquire takes the lease for key. acquired is false when another holder has it.
func (l *RedisLease) Acquire(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("lease release failed", "key", fullKey, "error", err)
			return fmt.Errorf("release lease %s: %w", fullKey, err)
		}
		return nil
	}
	return release, true, nil
}
