// Package dedupe suppresses duplicate classifier events. Upstream classifiers
// deliver at-least-once; an event ID seen within the TTL window is dropped
// before it reaches the orchestrator.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store tracks classifier event IDs that have already been processed.
// The key format is "triage:evt:{eventId}".
type Store interface {
	// Seen atomically marks an event ID and reports whether it was already
	// present. The first caller for an ID gets false and owns processing;
	// every later caller within the TTL gets true.
	Seen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// HealthCheck verifies the store is reachable. Used by readiness.
	HealthCheck(ctx context.Context) error
}

// FormatKey builds the standard dedupe key for an event ID.
func FormatKey(eventID string) string {
	return fmt.Sprintf("triage:evt:%s", eventID)
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support. Suitable for testing
// and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
}

// NewMemoryStore creates a new in-memory dedupe store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

// Seen marks an event ID and reports whether it was already present.
func (s *MemoryStore) Seen(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	key := FormatKey(eventID)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, exists := s.entries[key]; exists && now.Before(expiry) {
		return true, nil
	}
	s.entries[key] = now.Add(ttl)
	return false, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore is a Redis-backed Store with TTL.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a new Redis-backed dedupe store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Seen marks an event ID via SET NX, which is atomic across instances.
func (s *RedisStore) Seen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	key := FormatKey(eventID)
	set, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return !set, nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
