package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"klinikcare/internal/database"
	"klinikcare/internal/models"
)

// MemoryEntityStore keeps entities in a map. Used in tests and as the
// store for deployments without a sqlite file or Redis.
type MemoryEntityStore struct {
	mu       sync.Mutex
	entities map[int64]*models.Entity
	nextID   int64
}

func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{
		entities: make(map[int64]*models.Entity),
		nextID:   1,
	}
}

func (s *MemoryEntityStore) GetEntity(ctx context.Context, id int64) (*models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok {
		return nil, database.ErrEntityNotFound
	}
	snapshot := *entity
	return &snapshot, nil
}

func (s *MemoryEntityStore) CreateEntity(ctx context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	entity.ID = s.nextID
	s.nextID++
	entity.CreatedAt = now
	entity.UpdatedAt = now
	entity.Version = 1
	stored := *entity
	s.entities[entity.ID] = &stored
	return nil
}

// UpdateStatusWithVersion applies the write only when the stored version
// matches; the version check and the mutation happen under one lock, so
// the update is atomic with respect to other calls.
func (s *MemoryEntityStore) UpdateStatusWithVersion(ctx context.Context, id, version int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok {
		return database.ErrEntityNotFound
	}
	if entity.Version != version {
		return database.ErrConcurrentModification
	}
	entity.Status = status
	entity.Version++
	entity.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryEntityStore) UpdatePaymentStatus(ctx context.Context, id int64, paymentStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok {
		return database.ErrEntityNotFound
	}
	entity.PaymentStatus = paymentStatus
	entity.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryEntityStore) ListEntities(ctx context.Context, kind, status string, limit int) ([]*models.Entity, error) {
	if limit <= 0 {
		limit = models.DefaultListLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Entity
	for _, entity := range s.entities {
		if kind != "" && entity.Kind != kind {
			continue
		}
		if status != "" && entity.Status != status {
			continue
		}
		snapshot := *entity
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
