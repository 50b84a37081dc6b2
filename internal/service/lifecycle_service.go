package service

import (
	"context"
	"errors"
	"time"

	"klinikcare/internal/database"
	"klinikcare/internal/domain"
	"klinikcare/internal/events"
	"klinikcare/internal/lifecycle"
	"klinikcare/internal/metrics"
	"klinikcare/internal/models"

	"github.com/rs/zerolog"
)

// LifecycleService is the only writer of entity statuses. Every change
// goes through AttemptTransition: table check, guard chain, then a
// versioned store write with bounded retry on conflict.
type LifecycleService struct {
	store       domain.EntityStore
	table       *lifecycle.Table
	guards      *lifecycle.Evaluator
	eventBus    domain.EventPublisher
	notify      domain.NotifyEnqueuer
	maxAttempts int
	logger      *zerolog.Logger
}

func NewLifecycleService(store domain.EntityStore, table *lifecycle.Table, guards *lifecycle.Evaluator,
	eventBus domain.EventPublisher, notify domain.NotifyEnqueuer, maxAttempts int, logger *zerolog.Logger) *LifecycleService {
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxTransitionAttempts
	}
	if guards == nil {
		guards = lifecycle.DefaultEvaluator()
	}
	return &LifecycleService{
		store:       store,
		table:       table,
		guards:      guards,
		eventBus:    eventBus,
		notify:      notify,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// AttemptTransition moves the entity to requestedStatus.
// Requesting the current status is an idempotent no-op: the entity is
// returned unchanged and updated_at is not bumped.
func (s *LifecycleService) AttemptTransition(ctx context.Context, entityID int64, requestedStatus string) (*models.Entity, error) {
	var lastErr error

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		entity, err := s.store.GetEntity(ctx, entityID)
		if err != nil {
			if errors.Is(err, database.ErrEntityNotFound) {
				metrics.IncTransition("unknown", metrics.OutcomeNotFound)
			}
			return nil, err
		}

		if !s.table.IsValidStatus(entity.Kind, requestedStatus) {
			metrics.IncTransition(entity.Kind, metrics.OutcomeInvalid)
			return nil, &lifecycle.InvalidStateError{Kind: entity.Kind, Status: requestedStatus}
		}

		if requestedStatus == entity.Status {
			metrics.IncTransition(entity.Kind, metrics.OutcomeNoop)
			return entity, nil
		}

		if !s.table.CanTransition(entity.Kind, entity.Status, requestedStatus) {
			metrics.IncTransition(entity.Kind, metrics.OutcomeIllegal)
			return nil, &lifecycle.IllegalTransitionError{Kind: entity.Kind, From: entity.Status, To: requestedStatus}
		}

		if decision := s.guards.Evaluate(entity, entity.Status, requestedStatus); !decision.Allowed {
			metrics.IncTransition(entity.Kind, metrics.OutcomeGuard)
			return nil, &lifecycle.GuardRejectedError{Reason: decision.Reason}
		}

		err = s.store.UpdateStatusWithVersion(ctx, entityID, entity.Version, requestedStatus)
		if errors.Is(err, database.ErrConcurrentModification) {
			// Someone changed the entity between our read and write.
			// Re-read and re-validate against the fresh state.
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		updated, err := s.store.GetEntity(ctx, entityID)
		if err != nil {
			return nil, err
		}

		metrics.IncTransition(updated.Kind, metrics.OutcomeSuccess)
		s.publishTransition(updated, entity.Status)
		s.enqueueNotify(ctx, updated, entity.Status)
		return updated, nil
	}

	s.logger.Warn().Int64("entity_id", entityID).Str("requested", requestedStatus).
		Int("attempts", s.maxAttempts).Msg("transition retries exhausted")
	if lastErr == nil {
		lastErr = database.ErrConcurrentModification
	}
	metrics.IncTransition("unknown", metrics.OutcomeConflict)
	return nil, lastErr
}

// AllowedTransitions exposes the table lookup so callers can render only
// legal next states.
func (s *LifecycleService) AllowedTransitions(kind, fromStatus string) []string {
	return s.table.AllowedTransitions(kind, fromStatus)
}

func (s *LifecycleService) publishTransition(entity *models.Entity, fromStatus string) {
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

	if err := s.eventBus.PublishJSON(events.EventStatusChanged, payload); err != nil {
		s.logger.Error().Err(err).Int64("entity_id", entity.ID).Msg("publish event error")
	}
}

func (s *LifecycleService) enqueueNotify(ctx context.Context, entity *models.Entity, fromStatus string) {
	if s.notify == nil {
		return
	}

	if err := s.notify.EnqueueStatusChange(ctx, entity, fromStatus); err != nil {
		s.logger.Error().Err(err).Int64("entity_id", entity.ID).Msg("notify enqueue error")
	}
}
