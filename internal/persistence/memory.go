package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is a bounded in-process FitRepo used when no database is
// configured. The oldest fit is evicted once capacity is reached.
type MemoryRepo struct {
	mu       sync.RWMutex
	capacity int
	order    []string // ring of ids in insertion order once full
	oldest   int      // index of the oldest id in order when full
	recs     map[string]FitRecord
}

// NewMemoryRepo creates a repo holding at most capacity fits (minimum 1).
func NewMemoryRepo(capacity int) *MemoryRepo {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryRepo{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		recs:     make(map[string]FitRecord),
	}
}

func (r *MemoryRepo) Save(_ context.Context, rec FitRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[rec.ID]; ok {
		return nil
	}
	rec.Snapshot = append([]byte(nil), rec.Snapshot...)
	r.recs[rec.ID] = rec
	if len(r.order) < r.capacity {
		r.order = append(r.order, rec.ID)
		return nil
	}
	delete(r.recs, r.order[r.oldest])
	r.order[r.oldest] = rec.ID
	r.oldest = (r.oldest + 1) % r.capacity
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (*FitRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, nil
	}
	rec.Snapshot = append([]byte(nil), rec.Snapshot...)
	return &rec, nil
}

func (r *MemoryRepo) List(_ context.Context, limit int) ([]FitRecord, error) {
	r.mu.RLock()
	out := make([]FitRecord, 0, len(r.recs))
	for _, rec := range r.recs {
		rec.Snapshot = nil
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
