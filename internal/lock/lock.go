// Package lock serializes refresh token issuance per user across service
// instances.  The database row lock taken by the ledger is authoritative;
// this lock keeps instances from piling up on that row under login storms.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive leases keyed by an arbitrary string.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Nop is a Locker that never blocks.  It is used when Redis is not configured.
type Nop struct{}

func (Nop) Lock(context.Context, string) (func(), error) { return func() {}, nil }

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// Redis is a lease lock built on SET NX PX.  A lease expires after TTL even
// if the holder dies, so a crashed instance never wedges a user.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	retry  time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: "lock", retry: 25 * time.Millisecond}
}

// Lock blocks until the lease for key is acquired or ctx is done.
func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	full := l.prefix + ":" + key
	owner, err := ownerID()
	if err != nil {
		return nil, err
	}
	for {
		ok, err := l.rdb.SetNX(ctx, full, owner, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrNotAcquired
			}
			return nil, err
		}
		if ok {
			return func() {
				// Released with a fresh context: the caller's may already be done.
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.rdb, []string{full}, owner).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrNotAcquired
		case <-time.After(l.retry):
		}
	}
}

func ownerID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
