package credits

import (
	"context"
	"sync"
)

type MemoryRepository struct {
	mu      sync.Mutex
	credits map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{credits: map[string]int64{}}
}

func (r *MemoryRepository) Available(ctx context.Context, organizationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.credits[organizationID], nil
}

func (r *MemoryRepository) SpendIfAvailable(ctx context.Context, organizationID string, n int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.credits[organizationID]
	if cur < n {
		return cur, false, nil
	}
	r.credits[organizationID] = cur - n
	return cur - n, true, nil
}

func (r *MemoryRepository) Grant(ctx context.Context, organizationID string, n int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credits[organizationID] += n
	return r.credits[organizationID], nil
}
