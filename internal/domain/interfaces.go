package domain

import (
	"context"

	"klinikcare/internal/models"
)

// EntityStore is keyed storage for lifecycle entities with a
// compare-and-swap status update. Implementations must make
// UpdateStatusWithVersion atomic: the write commits only if the stored
// version still matches, otherwise database.ErrConcurrentModification
// is returned and the caller retries from a fresh read.
type EntityStore interface {
	GetEntity(ctx context.Context, id int64) (*models.Entity, error)
	CreateEntity(ctx context.Context, entity *models.Entity) error
	UpdateStatusWithVersion(ctx context.Context, id, version int64, status string) error
	UpdatePaymentStatus(ctx context.Context, id int64, paymentStatus string) error
	ListEntities(ctx context.Context, kind, status string, limit int) ([]*models.Entity, error)
}

// EventPublisher is the in-process notification hook fired after
// successful mutations. Publish failures are logged, never propagated.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// NotifyEnqueuer queues an outbound notification about a lifecycle
// change for asynchronous delivery.
type NotifyEnqueuer interface {
	EnqueueStatusChange(ctx context.Context, entity *models.Entity, fromStatus string) error
}

// Notifier delivers one queued notification to an external channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, task *models.NotifyTask) error
}

// LifecycleService is the single authorized entry point for changing an
// entity's status.
type LifecycleService interface {
	AttemptTransition(ctx context.Context, entityID int64, requestedStatus string) (*models.Entity, error)
	AllowedTransitions(kind, fromStatus string) []string
}

// EntityService covers the administrative operations around the engine:
// creation, listing and payment-status updates.
type EntityService interface {
	CreateEntity(ctx context.Context, entity *models.Entity) error
	GetEntity(ctx context.Context, id int64) (*models.Entity, error)
	ListEntities(ctx context.Context, kind, status string, limit int) ([]*models.Entity, error)
	UpdatePaymentStatus(ctx context.Context, id int64, paymentStatus string) (*models.Entity, error)
}
