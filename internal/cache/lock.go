package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicedesk/internal/config"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const keyDispatchLock = "invoicedesk:dispatch:lock:"

var ErrLockNotConfigured = errors.New("lock client not configured")

type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

// NewLocker returns nil without redis. A nil *Locker grants every lock.
func NewLocker(client *redis.Client, cfg config.Config) *Locker {
	if client == nil {
		return nil
	}
	ttl := cfg.Dispatch.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockNotConfigured
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes key only if it still holds token.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// LockDispatch guards one invoice against concurrent sends. The returned
// release func is always safe to call.
func (l *Locker) LockDispatch(ctx context.Context, invoiceID string) (func(), bool, error) {
	if l == nil {
		return func() {}, true, nil
	}
	key := keyDispatchLock + invoiceID
	token, ok, err := l.TryLock(ctx, key, l.ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		// the send context may already be done
		_ = l.Release(context.WithoutCancel(ctx), key, token)
	}, true, nil
}
