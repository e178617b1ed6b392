// Package redislock serializes credential refreshes across processes with
// Redis SET NX leases.
package redislock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-apps/core"
)

const (
	DefaultKeyPrefix    = "go-apps::lock::"
	DefaultPollInterval = 50 * time.Millisecond
)

// releaseScript deletes the lease only when it is still owned by the caller.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of go-redis the locker needs. *redis.Client,
// *redis.ClusterClient and redis.UniversalClient satisfy it.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type Option func(*Locker)

func WithKeyPrefix(prefix string) Option {
	return func(l *Locker) {
		if strings.TrimSpace(prefix) != "" {
			l.prefix = prefix
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(l *Locker) {
		if interval > 0 {
			l.poll = interval
		}
	}
}

type Locker struct {
	client Client
	prefix string
	poll   time.Duration
	newID  func() string
}

func New(client Client, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redislock: redis client is required")
	}
	l := &Locker{
		client: client,
		prefix: DefaultKeyPrefix,
		poll:   DefaultPollInterval,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Acquire blocks until the lease for key is obtained or ctx is done. The
// lease expires after ttl so a crashed holder never blocks refreshes
// forever.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("redislock: lock key is required")
	}
	if ttl <= 0 {
		ttl = core.DefaultRefreshLockTTL
	}
	fullKey := l.prefix + key
	token := l.newID()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
		}
		if ok {
			return &handle{client: l.client, key: fullKey, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redislock: acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

type handle struct {
	client Client
	key    string
	token  string
}

func (h *handle) Unlock(ctx context.Context) error {
	if h == nil || h.client == nil {
		return nil
	}
	if err := h.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redislock: release %s: %w", h.key, err)
	}
	return nil
}

var _ core.ConnectionLocker = (*Locker)(nil)
