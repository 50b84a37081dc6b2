package service

import (
	"context"
	"fmt"
	"time"

	"klinikcare/internal/domain"
	"klinikcare/internal/events"
	"klinikcare/internal/lifecycle"
	"klinikcare/internal/models"

	"github.com/rs/zerolog"
)

// EntityService handles creation, lookup, listing and payment-status
// updates. Status transitions belong to LifecycleService.
type EntityService struct {
	store    domain.EntityStore
	table    *lifecycle.Table
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewEntityService(store domain.EntityStore, table *lifecycle.Table, eventBus domain.EventPublisher, logger *zerolog.Logger) *EntityService {
	return &EntityService{
		store:    store,
		table:    table,
		eventBus: eventBus,
		logger:   logger,
	}
}

// CreateEntity stores a new record in its kind's initial state.
// The caller cannot pick an arbitrary starting status.
func (s *EntityService) CreateEntity(ctx context.Context, entity *models.Entity) error {
	initial, ok := s.table.InitialStatus(entity.Kind)
	if !ok {
		return &lifecycle.InvalidStateError{Kind: entity.Kind, Status: entity.Status}
	}
	entity.Status = initial

	if entity.PaymentStatus == "" {
		entity.PaymentStatus = models.PaymentUnpaid
	}
	if !models.IsValidPaymentStatus(entity.PaymentStatus) {
		return fmt.Errorf("unknown payment status %q", entity.PaymentStatus)
	}
	if entity.PatientName == "" {
		return fmt.Errorf("patient name is required")
	}

	if err := s.store.CreateEntity(ctx, entity); err != nil {
		return err
	}

	s.publish(events.EventEntityCreated, entity, "")
	return nil
}

func (s *EntityService) GetEntity(ctx context.Context, id int64) (*models.Entity, error) {
	return s.store.GetEntity(ctx, id)
}

func (s *EntityService) ListEntities(ctx context.Context, kind, status string, limit int) ([]*models.Entity, error) {
	return s.store.ListEntities(ctx, kind, status, limit)
}

// UpdatePaymentStatus moves the entity along the independent payment axis.
func (s *EntityService) UpdatePaymentStatus(ctx context.Context, id int64, paymentStatus string) (*models.Entity, error) {
	if !models.IsValidPaymentStatus(paymentStatus) {
		return nil, fmt.Errorf("unknown payment status %q", paymentStatus)
	}

	if err := s.store.UpdatePaymentStatus(ctx, id, paymentStatus); err != nil {
		return nil, err
	}

	entity, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(events.EventPaymentChanged, entity, "")
	return entity, nil
}

func (s *EntityService) publish(eventType string, entity *models.Entity, fromStatus string) {
	if s.eventBus == nil {
		return
	}

	payload := events.TransitionEventPayload{
		EntityID:      entity.ID,
		Kind:          entity.Kind,
		FromStatus:    fromStatus,
		ToStatus:      entity.Status,
		PaymentStatus: entity.PaymentStatus,
		PatientName:   entity.PatientName,
		OccurredAt:    time.Now(),
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Int64("entity_id", entity.ID).Str("event_type", eventType).Msg("publish event error")
	}
}
