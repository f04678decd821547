package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired before the timeout
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing a lock that expired or was taken over
	ErrLockNotHeld = errors.New("lock not held")
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker is a SET NX based distributed lock. It satisfies keylock.Locker so
// several fern instances can serialize crossings for the same pair.
type Locker struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
	timeout   time.Duration
}

func NewLocker(client *Client, keyPrefix string, ttl, timeout time.Duration) *Locker {
	if keyPrefix == "" {
		keyPrefix = "fern:lock:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		timeout:   timeout,
	}
}

// Lock waits up to the locker timeout for key and returns its release func.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.keyPrefix + key
	token, err := l.tryAcquire(ctx, lockKey)
	if err != nil {
		return nil, err
	}

	return func() {
		// release must run even when the caller's context is done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := l.release(releaseCtx, lockKey, token); err != nil {
			l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock %s", lockKey)
		}
	}, nil
}

func (l *Locker) acquire(ctx context.Context, lockKey, token string) error {
	ok, err := l.client.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockNotAcquired
	}
	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", lockKey)
	return nil
}

func (l *Locker) tryAcquire(ctx context.Context, lockKey string) (string, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(l.timeout)
	backoff := 10 * time.Millisecond

	for time.Now().Before(deadline) {
		err := l.acquire(ctx, lockKey, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, 500*time.Millisecond)
		}
	}

	return "", ErrLockNotAcquired
}

func (l *Locker) release(ctx context.Context, lockKey, token string) error {
	result, err := releaseScript.Run(ctx, l.client.rdb, []string{lockKey}, token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	l.client.logger.WithContext(ctx).Debugf("Released lock: %s", lockKey)
	return nil
}
