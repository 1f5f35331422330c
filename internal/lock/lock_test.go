package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, time.Second), mr
}

func TestRedisLockIsExclusive(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "issue:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:issue:1"))

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "issue:1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	// Different keys do not contend.
	unlockOther, err := l.Lock(ctx, "issue:2")
	require.NoError(t, err)
	unlockOther()

	unlock()
	assert.False(t, mr.Exists("lock:issue:1"))

	unlock, err = l.Lock(ctx, "issue:1")
	require.NoError(t, err)
	unlock()
}

func TestRedisLockWaitsForRelease(t *testing.T) {
	l, _ := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "issue:1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "issue:1")
		if err == nil {
			u()
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock was never acquired")
	}
}

func TestRedisUnlockKeepsForeignLease(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "issue:1")
	require.NoError(t, err)

	// Simulate the lease expiring and another instance taking it.
	require.NoError(t, mr.Set("lock:issue:1", "someone-else"))
	unlock()

	v, err := mr.Get("lock:issue:1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestNopLock(t *testing.T) {
	unlock, err := Nop{}.Lock(context.Background(), "anything")
	require.NoError(t, err)
	unlock()
}
