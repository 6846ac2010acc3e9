package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when a lock stays held past the wait budget.
var ErrLockNotAcquired = errors.New("conversation: lock not acquired")

// Locker serialises critical sections per key: one conversation, or one
// appointment slot.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const defaultLockPoll = 50 * time.Millisecond

// RedisLocker is a SETNX lock with a random token, polled until wait elapses.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if client == nil {
		panic("conversation: redis client required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait < 0 {
		wait = 0
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, poll: defaultLockPoll}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := "clinicai:lock:" + key
	token := uuid.NewString()

	if err := l.acquire(ctx, lockKey, token); err != nil {
		return err
	}
	defer func() {
		_ = l.release(context.WithoutCancel(ctx), lockKey, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockCtx)
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("conversation: acquire lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *RedisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("conversation: release lock: %w", err)
	}
	return nil
}

// MemoryLocker is an in-process keyed mutex.
type MemoryLocker struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*memorySlot
}

type memorySlot struct {
	sem  chan struct{}
	refs int
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{wait: wait, slots: make(map[string]*memorySlot)}
}

func (l *MemoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	slot := l.ref(key)
	defer l.unref(key)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return ErrLockNotAcquired
	}
	defer func() { <-slot.sem }()
	return fn(ctx)
}

func (l *MemoryLocker) ref(key string) *memorySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &memorySlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot := l.slots[key]
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}
