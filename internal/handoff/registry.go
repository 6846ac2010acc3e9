// Package handoff tracks senders whose conversation has been taken over by a
// human agent. While a sender is paused the bot mirrors their messages but
// never answers.
package handoff

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
)

// Registry is the pause set keyed by sender phone.
type Registry interface {
	IsPaused(ctx context.Context, phone string) (bool, error)
	Pause(ctx context.Context, phone string) error
	Resume(ctx context.Context, phone string) error
}

// MemoryRegistry keeps the pause set in process memory.
type MemoryRegistry struct {
	mu     sync.RWMutex
	paused map[string]time.Time
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{paused: make(map[string]time.Time)}
}

func (r *MemoryRegistry) IsPaused(_ context.Context, phone string) (bool, error) {
	key := clinic.NormalizePhone(phone)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.paused[key]
	return ok, nil
}

func (r *MemoryRegistry) Pause(_ context.Context, phone string) error {
	key := clinic.NormalizePhone(phone)
	if key == "" {
		return fmt.Errorf("handoff: pause: empty phone")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.paused[key]; !ok {
		r.paused[key] = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRegistry) Resume(_ context.Context, phone string) error {
	key := clinic.NormalizePhone(phone)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paused, key)
	return nil
}

const redisKeyPrefix = "clinicai:paused:"

// RedisRegistry shares the pause set across API and worker processes.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistry wraps a go-redis client.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	if client == nil {
		panic("handoff: redis client required")
	}
	return &RedisRegistry{client: client, prefix: redisKeyPrefix}
}

func (r *RedisRegistry) key(phone string) string {
	return r.prefix + clinic.NormalizePhone(phone)
}

func (r *RedisRegistry) IsPaused(ctx context.Context, phone string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(phone)).Result()
	if err != nil {
		return false, fmt.Errorf("handoff: is paused: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Pause(ctx context.Context, phone string) error {
	if strings.TrimSpace(clinic.NormalizePhone(phone)) == "" {
		return fmt.Errorf("handoff: pause: empty phone")
	}
	if err := r.client.SetNX(ctx, r.key(phone), time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("handoff: pause: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Resume(ctx context.Context, phone string) error {
	if err := r.client.Del(ctx, r.key(phone)).Err(); err != nil {
		return fmt.Errorf("handoff: resume: %w", err)
	}
	return nil
}
