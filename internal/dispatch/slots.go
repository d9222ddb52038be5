package dispatch

import (
	"context"
	"sync"
	"time"

	"callbilling/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// SlotLimiter caps concurrent outbound calls per organization.
type SlotLimiter interface {
	Acquire(ctx context.Context, organizationID string) (bool, error)
	Release(ctx context.Context, organizationID string) error
}

func slotKey(organizationID string) string {
	return "dispatch:slots:" + organizationID
}

// RedisSlots shares the cap across API replicas. ttl bounds slots leaked by
// calls whose terminal callback never arrives.
type RedisSlots struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
}

func NewRedisSlots(rdb redis.Scripter, limit int, ttl time.Duration) *RedisSlots {
	return &RedisSlots{rdb: rdb, limit: limit, ttl: ttl}
}

func (s *RedisSlots) Acquire(ctx context.Context, organizationID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, s.rdb, slotKey(organizationID), s.limit, s.ttl)
}

func (s *RedisSlots) Release(ctx context.Context, organizationID string) error {
	return utils.ReleaseConcurrencyCap(ctx, s.rdb, slotKey(organizationID))
}

// MemorySlots is the single-process limiter used in tests and local runs.
type MemorySlots struct {
	mu    sync.Mutex
	limit int
	inUse map[string]int
}

func NewMemorySlots(limit int) *MemorySlots {
	return &MemorySlots{limit: limit, inUse: map[string]int{}}
}

func (m *MemorySlots) Acquire(_ context.Context, organizationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inUse[organizationID] >= m.limit {
		return false, nil
	}
	m.inUse[organizationID]++
	return true, nil
}

func (m *MemorySlots) Release(_ context.Context, organizationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inUse[organizationID] > 0 {
		m.inUse[organizationID]--
	}
	if m.inUse[organizationID] == 0 {
		delete(m.inUse, organizationID)
	}
	return nil
}

// InUse reports the slots currently held by organizationID.
func (m *MemorySlots) InUse(organizationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse[organizationID]
}
