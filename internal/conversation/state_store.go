package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
)

var stateTracer = otel.Tracer("clinicai.internal.conversation")

const defaultStateTTL = 24 * time.Hour

// ConversationKey identifies one sender on one inbound number. Every inbound
// number belongs to a single tenant, so the key is per sender per tenant.
func ConversationKey(inboundNumber, phone string) string {
	return clinic.NormalizePhone(inboundNumber) + ":" + clinic.NormalizePhone(phone)
}

// StateStore persists conversation state between messages. Load returns an
// idle state when nothing is stored.
type StateStore interface {
	Load(ctx context.Context, key string) (*State, error)
	Save(ctx context.Context, key string, state *State) error
	Clear(ctx context.Context, key string) error
}

// RedisStateStore keeps state as JSON with a sliding TTL.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if client == nil {
		panic("conversation: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &RedisStateStore{client: client, ttl: ttl, prefix: "clinicai:conversation:"}
}

func (s *RedisStateStore) Load(ctx context.Context, key string) (*State, error) {
	ctx, span := stateTracer.Start(ctx, "conversation.state.load")
	defer span.End()

	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewState(), nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load state: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("conversation: decode state: %w", err)
	}
	if state.Tenant != nil {
		span.SetAttributes(attribute.String("clinicai.tenant_id", state.Tenant.ID))
	}
	return &state, nil
}

func (s *RedisStateStore) Save(ctx context.Context, key string, state *State) error {
	ctx, span := stateTracer.Start(ctx, "conversation.state.save")
	defer span.End()

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("conversation: encode state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: save state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("conversation: clear state: %w", err)
	}
	return nil
}

// MemoryStateStore is an in-process store for single-instance deployments and tests.
// Entries are stored encoded so callers never share pointers.
type MemoryStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryStateEntry
}

type memoryStateEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &MemoryStateStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryStateEntry)}
}

func (s *MemoryStateStore) Load(_ context.Context, key string) (*State, error) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	if ok && s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return NewState(), nil
	}
	var state State
	if err := json.Unmarshal(entry.payload, &state); err != nil {
		return nil, fmt.Errorf("conversation: decode state: %w", err)
	}
	return &state, nil
}

func (s *MemoryStateStore) Save(_ context.Context, key string, state *State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("conversation: encode state: %w", err)
	}
	s.mu.Lock()
	s.entries[key] = memoryStateEntry{payload: payload, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
