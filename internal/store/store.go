package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hussain-mohammed/kirana-store/internal/domain"
)

// ErrNotFound indicates a bake was not located.
var ErrNotFound = errors.New("store: bake not found")

// Store persists bake records.
type Store interface {
	Save(ctx context.Context, bake domain.Bake) error
	Get(ctx context.Context, id string) (domain.Bake, error)
	// List returns the most recently created bakes first.
	List(ctx context.Context, limit int) ([]domain.Bake, error)
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	bakes map[string]domain.Bake
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{bakes: make(map[string]domain.Bake)}
}

func (m *Memory) Save(_ context.Context, bake domain.Bake) error {
	if bake.ID == "" {
		return errors.New("store: bake id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bakes[bake.ID] = bake
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Bake, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bake, ok := m.bakes[id]
	if !ok {
		return domain.Bake{}, ErrNotFound
	}
	return bake, nil
}

func (m *Memory) List(_ context.Context, limit int) ([]domain.Bake, error) {
	m.mu.RLock()
	out := make([]domain.Bake, 0, len(m.bakes))
	for _, b := range m.bakes {
		out = append(out, b)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
