// Package redis provides a job lock shared between processes through Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Config selects the Redis instance and key prefix.
type Config struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Locker implements crawler.JobLocker with SET NX and a token-checked release.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// New connects to the Redis instance named by cfg.URL.
func New(cfg Config) (*Locker, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = "kblock"
	}
	return &Locker{client: client, prefix: prefix}
}

// Close releases the client.
func (l *Locker) Close() error {
	return l.client.Close()
}

// Acquire takes the lock for jobID for at most ttl. It returns
// crawler.ErrLocked when another holder owns it. The returned release only
// deletes the key while it still carries this holder's token.
func (l *Locker) Acquire(ctx context.Context, jobID string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.key(jobID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", jobID, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s: %w", jobID, crawler.ErrLocked)
	}
	release := func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", jobID, err)
		}
		return nil
	}
	return release, nil
}

func (l *Locker) key(jobID string) string {
	return l.prefix + ":job:" + jobID
}
