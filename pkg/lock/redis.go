package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fileferry/fileferry/internal/logger"
	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// RedisConfig contains redis lock backend configuration.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`

	// PollInterval is how often a blocked Acquire re-attempts SET NX.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

func (c *RedisConfig) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 50 * time.Millisecond
	}
}

const redisKeyPrefix = "fileferry:lock:"

// releaseScript deletes the lock only if the caller still holds it, so a
// stale token can never release another holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisManager implements Manager on Redis SET NX PX. TTL expiry is enforced
// by Redis itself, so no reaper is needed.
//
// This backend serializes fingerprint operations across multiple fileferry
// instances sharing one Redis.
type RedisManager struct {
	client       *redis.Client
	pollInterval time.Duration
}

// NewRedisManager creates a Redis-backed lock manager.
func NewRedisManager(cfg RedisConfig) *RedisManager {
	cfg.applyDefaults()

	return &RedisManager{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		pollInterval: cfg.PollInterval,
	}
}

// Acquire implements Manager.
func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	token := uuid.New().String()
	redisKey := redisKeyPrefix + key

	for {
		ok, err := m.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return "", ferrors.NewLockTimeoutError(key)
			}
			return "", ferrors.NewInternalError(fmt.Sprintf("redis lock acquire for %s", key), err)
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", ferrors.NewLockTimeoutError(key)
		case <-time.After(m.pollInterval):
		}
	}
}

// Release implements Manager.
func (m *RedisManager) Release(key, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deleted, err := releaseScript.Run(ctx, m.client, []string{redisKeyPrefix + key}, token).Int()
	if err != nil {
		return ferrors.NewInternalError(fmt.Sprintf("redis lock release for %s", key), err)
	}
	if deleted == 0 {
		logger.Warn("release with stale lock token",
			logger.KeyLockKey, key,
			logger.KeyLockToken, token,
		)
	}
	return nil
}

// Close closes the redis connection.
func (m *RedisManager) Close() error {
	return m.client.Close()
}
