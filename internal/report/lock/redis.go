package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stpericial/stpericial-backend/pkg/config"
	"github.com/stpericial/stpericial-backend/pkg/logger"
)

const keyPrefix = "stpericial:report-run:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key only while it still holds our token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker shared by every instance connected to the same server.
// A held lock is extended every third of ttl until released, so only a
// crashed holder lets it expire.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedis creates a Redis-backed locker
func NewRedis(client *redis.Client, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Redis{client: client, ttl: ttl, log: log}
}

// Acquire takes key with SET NX or fails with ErrHeld
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	stop := make(chan struct{})
	go r.keepAlive(key, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{keyPrefix + key}, token).Err(); err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("Failed to release run lock")
			}
		})
	}, nil
}

func (r *Redis) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			n, err := refreshScript.Run(ctx, r.client, []string{keyPrefix + key}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("Failed to extend run lock")
				continue
			}
			if n == 0 {
				r.log.Warn().Str("key", key).Msg("Run lock expired while held")
				return
			}
		}
	}
}

// Backend names the lock implementation
func (r *Redis) Backend() string {
	return "redis"
}

// Health pings the server
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// New returns a Redis locker when cfg.URL is set and an in-process one
// otherwise. The returned close function releases the connection.
func New(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, log *logger.Logger) (Locker, func() error, error) {
	if cfg.URL == "" {
		return NewMemory(), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedis(client, ttl, log), client.Close, nil
}
