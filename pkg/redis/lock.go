package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLockHeld is returned when another writer currently owns the lock.
var ErrLockHeld = errors.New("advisory lock held by another writer")

// releaseScript deletes the lock only when the caller still owns it, so a
// writer that outlived its TTL cannot release a successor's lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Lock is a single-holder advisory lock keyed on one entity id. It serializes
// racing writers (cancel vs renew on the same subscription) without holding a
// database lock across a gateway round trip.
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLock prepares a lock for the given scope ("subscription") and entity id.
func (c *Client) NewLock(scope, id string, ttl time.Duration) *Lock {
	return &Lock{
		client: c,
		key:    c.LockKey(scope, id),
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock once. It does not block: contended
// callers get ErrLockHeld and surface a conflict to retry with fresh state.
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if l.client.store == nil {
		return errors.New("redis client not initialized")
	}
	return l.client.store.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
}
