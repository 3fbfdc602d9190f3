// Package redis provides a store.Locker backed by Redis, for fleets where
// several migrator hosts share one database but the database offers no
// session-scoped locks (or a lock must span more than one database).
//
// Locks are SET NX keys with a TTL. Leases implement store.Refresher and the
// runner extends them before every step, so the TTL must exceed the longest
// single step. A holder that crashes leaves the key until the TTL expires.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "migrator:lock:"
	DefaultTTL    = 10 * time.Minute
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key only if it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var errHeld = errors.New("lock held")

// Config holds configuration for the Redis Locker.
type Config struct {
	// Client is the Redis client (required).
	Client redis.UniversalClient

	// Prefix is prepended to namespace names to form keys (default: "migrator:lock:").
	Prefix string

	// TTL bounds how long a lock outlives a crashed holder and how long a
	// single step may run between refreshes (default: 10m).
	TTL time.Duration

	// MaxWait bounds how long LockWait retries. Zero waits until the context ends.
	MaxWait time.Duration
}

// Locker implements store.Locker on Redis.
type Locker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	maxWait time.Duration
}

// New creates a Redis Locker.
func New(cfg Config) *Locker {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	return &Locker{
		client:  cfg.Client,
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
		maxWait: cfg.MaxWait,
	}
}

// Key returns the Redis key guarding ns.
func (l *Locker) Key(ns string) string {
	return l.prefix + ns
}

func (l *Locker) waitBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = l.maxWait
	return bo
}

// Acquire implements store.Locker.
func (l *Locker) Acquire(ctx context.Context, ns string, mode migrator.LockMode) (store.Lease, error) {
	key := l.Key(ns)
	token := uuid.NewString()

	try := func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to set lock key: %w", err))
		}
		if !ok {
			return errHeld
		}
		return nil
	}

	var err error
	if mode == migrator.LockWait {
		err = backoff.Retry(try, backoff.WithContext(l.waitBackOff(), ctx))
	} else {
		err = try()
	}

	switch {
	case err == nil:
		return &lease{client: l.client, namespace: ns, key: key, token: token, ttl: l.ttl}, nil
	case errors.Is(err, errHeld):
		return nil, &migrator.MigrationInProgressError{Namespace: ns}
	default:
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}
}

type lease struct {
	once      sync.Once
	client    redis.UniversalClient
	namespace string
	key       string
	token     string
	ttl       time.Duration
	err       error
}

// Refresh implements store.Refresher.
func (l *lease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh lock key: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: key %s of namespace %s expired or changed hands", migrator.ErrLockLost, l.key, l.namespace)
	}
	return nil
}

func (l *lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
			l.err = fmt.Errorf("failed to release lock key: %w", err)
		}
	})
	return l.err
}
