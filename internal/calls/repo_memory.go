package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]Call
	byProvider map[string]string
	clock      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       map[string]Call{},
		byProvider: map[string]string{},
		clock:      time.Now,
	}
}

func (m *MemoryStore) Insert(ctx context.Context, c Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		return ErrInvalidArgument
	}
	if _, ok := m.byID[c.ID]; ok {
		return ErrInvalidArgument
	}
	if c.ProviderCallID != "" {
		if _, ok := m.byProvider[c.ProviderCallID]; ok {
			return ErrProviderCallIDAlreadySet
		}
		m.byProvider[c.ProviderCallID] = c.ID
	}
	m.byID[c.ID] = clone(c)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return clone(c), nil
}

func (m *MemoryStore) FindByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProvider[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return clone(m.byID[id]), nil
}

func (m *MemoryStore) FindMostRecentOutbound(ctx context.Context) (Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best Call
	found := false
	for _, c := range m.byID {
		if c.Direction != DirectionOutbound {
			continue
		}
		if c.Status != CallStatusInitiated && c.Status != CallStatusInProgress {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) {
			best = c
			found = true
		}
	}
	if !found {
		return Call{}, ErrNotFound
	}
	return clone(best), nil
}

func (m *MemoryStore) Update(ctx context.Context, c Call) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.byID[c.ID]
	if !ok {
		return Call{}, ErrNotFound
	}
	if cur.Version != c.Version {
		return Call{}, ErrConcurrencyConflict
	}
	if cur.ProviderCallID != "" && c.ProviderCallID != cur.ProviderCallID {
		return Call{}, ErrProviderCallIDAlreadySet
	}
	if cur.ProviderCallID == "" && c.ProviderCallID != "" {
		if owner, taken := m.byProvider[c.ProviderCallID]; taken && owner != c.ID {
			return Call{}, ErrProviderCallIDAlreadySet
		}
		m.byProvider[c.ProviderCallID] = c.ID
	}
	// Write-once fields survive a stale writer that cleared them.
	if cur.CostMinor != nil {
		c.CostMinor = cur.CostMinor
	}
	if cur.EndTime != nil {
		c.EndTime = cur.EndTime
	}

	c.Version = cur.Version + 1
	c.UpdatedAt = m.clock().UTC()
	m.byID[c.ID] = clone(c)
	return clone(c), nil
}

func (m *MemoryStore) ListUnbilled(ctx context.Context, limit int) ([]Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Call
	for _, c := range m.byID {
		if c.NeedsBilling() {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByOrganization(ctx context.Context, organizationID string, f ListFilter) ([]Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Call
	for _, c := range m.byID {
		if c.OrganizationID != organizationID {
			continue
		}
		if !f.From.IsZero() && c.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !c.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func clone(c Call) Call {
	if c.CostMinor != nil {
		v := *c.CostMinor
		c.CostMinor = &v
	}
	if c.StartTime != nil {
		v := *c.StartTime
		c.StartTime = &v
	}
	if c.EndTime != nil {
		v := *c.EndTime
		c.EndTime = &v
	}
	return c
}
