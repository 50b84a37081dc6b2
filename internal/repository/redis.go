package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"klinikcare/internal/config"
	"klinikcare/internal/database"
	"klinikcare/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	entityKeyPrefix = "entity:"
	entitySeqKey    = "entity:seq"
	entityIndexKey  = "entities"
)

// RedisEntityStore persists entities as JSON values. Versioned updates use
// WATCH/MULTI so the compare-and-swap is enforced by Redis itself.
type RedisEntityStore struct {
	client *redis.Client
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisEntityStore(client *redis.Client) *RedisEntityStore {
	return &RedisEntityStore{client: client}
}

func entityKey(id int64) string {
	return fmt.Sprintf("%s%d", entityKeyPrefix, id)
}

func (s *RedisEntityStore) GetEntity(ctx context.Context, id int64) (*models.Entity, error) {
	raw, err := s.client.Get(ctx, entityKey(id)).Result()
	if err == redis.Nil {
		return nil, database.ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity from redis: %w", err)
	}

	var entity models.Entity
	if err := json.Unmarshal([]byte(raw), &entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return &entity, nil
}

func (s *RedisEntityStore) CreateEntity(ctx context.Context, entity *models.Entity) error {
	id, err := s.client.Incr(ctx, entitySeqKey).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate entity id: %w", err)
	}

	now := time.Now()
	entity.ID = id
	entity.CreatedAt = now
	entity.UpdatedAt = now
	entity.Version = 1

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entityKey(id), data, 0)
	pipe.SAdd(ctx, entityIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store entity in redis: %w", err)
	}
	return nil
}

func (s *RedisEntityStore) UpdateStatusWithVersion(ctx context.Context, id, version int64, status string) error {
	key := entityKey(id)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return database.ErrEntityNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read entity for update: %w", err)
		}

		var entity models.Entity
		if err := json.Unmarshal([]byte(raw), &entity); err != nil {
			return fmt.Errorf("failed to unmarshal entity: %w", err)
		}
		if entity.Version != version {
			return database.ErrConcurrentModification
		}

		entity.Status = status
		entity.Version++
		entity.UpdatedAt = time.Now()

		data, err := json.Marshal(&entity)
		if err != nil {
			return fmt.Errorf("failed to marshal entity: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	// The key changed between WATCH and EXEC: someone else won the race.
	if errors.Is(err, redis.TxFailedErr) {
		return database.ErrConcurrentModification
	}
	return err
}

func (s *RedisEntityStore) UpdatePaymentStatus(ctx context.Context, id int64, paymentStatus string) error {
	key := entityKey(id)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return database.ErrEntityNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read entity for update: %w", err)
		}

		var entity models.Entity
		if err := json.Unmarshal([]byte(raw), &entity); err != nil {
			return fmt.Errorf("failed to unmarshal entity: %w", err)
		}

		entity.PaymentStatus = paymentStatus
		entity.UpdatedAt = time.Now()

		data, err := json.Marshal(&entity)
		if err != nil {
			return fmt.Errorf("failed to marshal entity: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return database.ErrConcurrentModification
	}
	return err
}

func (s *RedisEntityStore) ListEntities(ctx context.Context, kind, status string, limit int) ([]*models.Entity, error) {
	if limit <= 0 {
		limit = models.DefaultListLimit
	}

	ids, err := s.client.SMembers(ctx, entityIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entity ids: %w", err)
	}

	var out []*models.Entity
	for _, rawID := range ids {
		raw, err := s.client.Get(ctx, entityKeyPrefix+rawID).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get entity %s: %w", rawID, err)
		}
		var entity models.Entity
		if err := json.Unmarshal([]byte(raw), &entity); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity %s: %w", rawID, err)
		}
		if kind != "" && entity.Kind != kind {
			continue
		}
		if status != "" && entity.Status != status {
			continue
		}
		out = append(out, &entity)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
