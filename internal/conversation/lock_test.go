package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_ReleasesAfterRun(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Minute, 0)

	err := locker.WithLock(context.Background(), "a", func(ctx context.Context) error {
		assert.True(t, mr.Exists("clinicai:lock:a"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("clinicai:lock:a"))
}

func TestRedisLocker_ContentionTimesOut(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set("clinicai:lock:busy", "someone-else"))
	locker := NewRedisLocker(client, time.Minute, 120*time.Millisecond)

	called := false
	err := locker.WithLock(context.Background(), "busy", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	got, _ := mr.Get("clinicai:lock:busy")
	assert.Equal(t, "someone-else", got, "foreign lock must survive")
}

func TestRedisLocker_PropagatesError(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Minute, 0)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestMemoryLocker_Serialises(t *testing.T) {
	locker := NewMemoryLocker(time.Second)
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), "same", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.slots)
}

func TestMemoryLocker_WaitExpires(t *testing.T) {
	locker := NewMemoryLocker(20 * time.Millisecond)
	hold := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(hold)
			<-done
			return nil
		})
	}()
	<-hold

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	close(done)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}
