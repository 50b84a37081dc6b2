package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"klinikcare/internal/database"
	"klinikcare/internal/domain"
	"klinikcare/internal/events"
	"klinikcare/internal/lifecycle"
	"klinikcare/internal/models"
	"klinikcare/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLifecycleService(t *testing.T, store domain.EntityStore) *LifecycleService {
	t.Helper()
	logger := zerolog.Nop()
	return NewLifecycleService(store, lifecycle.NewTable(), lifecycle.DefaultEvaluator(),
		events.NewEventBus(), nil, 3, &logger)
}

func createTestEntity(t *testing.T, store domain.EntityStore, kind, status, payment string) *models.Entity {
	t.Helper()
	entity := &models.Entity{
		Kind:          kind,
		Status:        status,
		PaymentStatus: payment,
		PatientName:   "Анна Петрова",
		Phone:         "+79001234567",
	}
	require.NoError(t, store.CreateEntity(context.Background(), entity))
	return entity
}

func TestAttemptTransitionHappyPath(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, store, models.KindBooking, models.StatusPending, models.PaymentUnpaid)

	updated, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)
	assert.Equal(t, int64(2), updated.Version)
	assert.True(t, updated.UpdatedAt.After(entity.UpdatedAt) || updated.UpdatedAt.Equal(entity.UpdatedAt))
}

func TestAttemptTransitionOrderFullPath(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, store, models.KindOrder, models.StatusPending, models.PaymentPaid)

	path := []string{models.StatusProcessing, models.StatusShipped, models.StatusDelivered, models.StatusCompleted}
	for _, next := range path {
		updated, err := svc.AttemptTransition(context.Background(), entity.ID, next)
		require.NoError(t, err, "transition to %s", next)
		assert.Equal(t, next, updated.Status)
	}

	// completed is terminal
	_, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusProcessing)
	var illegal *lifecycle.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, models.StatusCompleted, illegal.From)
	assert.Equal(t, models.StatusProcessing, illegal.To)
}

func TestAttemptTransitionIdempotentNoop(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, store, models.KindBooking, models.StatusPending, models.PaymentUnpaid)

	before, err := store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)

	same, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, same.Status)
	assert.Equal(t, before.Version, same.Version, "no-op must not bump version")
	assert.Equal(t, before.UpdatedAt, same.UpdatedAt, "no-op must not bump updated_at")
}

func TestAttemptTransitionIllegalEdge(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, store, models.KindBooking, models.StatusPending, models.PaymentUnpaid)

	_, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusCompleted)
	var illegal *lifecycle.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, models.KindBooking, illegal.Kind)

	// entity is untouched
	after, err := store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, after.Status)
	assert.Equal(t, int64(1), after.Version)
}

func TestAttemptTransitionInvalidState(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, store, models.KindBooking, models.StatusPending, models.PaymentUnpaid)

	_, err := svc.AttemptTransition(context.Background(), entity.ID, "archived")
	var invalid *lifecycle.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "archived", invalid.Status)
}

func TestAttemptTransitionGuardRejected(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, store, models.KindOrder, models.StatusPending, models.PaymentUnpaid)

	_, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusProcessing)
	var guard *lifecycle.GuardRejectedError
	require.ErrorAs(t, err, &guard)
	assert.Equal(t, lifecycle.GuardReasonPaymentNotConfirmed, guard.Reason)

	// cancellation of an unpaid order is exempt
	updated, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, updated.Status)
}

func TestAttemptTransitionAfterPayment(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, store, models.KindOrder, models.StatusPending, models.PaymentUnpaid)

	_, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusProcessing)
	require.Error(t, err)

	require.NoError(t, store.UpdatePaymentStatus(context.Background(), entity.ID, models.PaymentPaid))

	updated, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, updated.Status)
}

func TestAttemptTransitionBookingReactivation(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, store, models.KindBooking, models.StatusPending, models.PaymentUnpaid)

	_, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusCancelled)
	require.NoError(t, err)

	reactivated, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reactivated.Status)
	assert.Equal(t, int64(3), reactivated.Version)
}

func TestAttemptTransitionNotFound(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)

	_, err := svc.AttemptTransition(context.Background(), 404, models.StatusConfirmed)
	assert.ErrorIs(t, err, database.ErrEntityNotFound)
}

// conflictingStore forces version conflicts for the first N update calls.
type conflictingStore struct {
	domain.EntityStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (s *conflictingStore) UpdateStatusWithVersion(ctx context.Context, id, version int64, status string) error {
	s.mu.Lock()
	s.calls++
	conflict := s.calls <= s.conflicts
	s.mu.Unlock()
	if conflict {
		return database.ErrConcurrentModification
	}
	return s.EntityStore.UpdateStatusWithVersion(ctx, id, version, status)
}

func TestAttemptTransitionRetriesOnConflict(t *testing.T) {
	memory := repository.NewMemoryEntityStore()
	store := &conflictingStore{EntityStore: memory, conflicts: 2}
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, memory, models.KindBooking, models.StatusPending, models.PaymentUnpaid)

	updated, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)
	assert.Equal(t, 3, store.calls, "two conflicts then one success")
}

func TestAttemptTransitionRetriesExhausted(t *testing.T) {
	memory := repository.NewMemoryEntityStore()
	store := &conflictingStore{EntityStore: memory, conflicts: 100}
	svc := newTestLifecycleService(t, store)
	entity := createTestEntity(t, memory, models.KindBooking, models.StatusPending, models.PaymentUnpaid)

	_, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusConfirmed)
	assert.ErrorIs(t, err, database.ErrConcurrentModification)
	assert.Equal(t, 3, store.calls)
}

func TestAttemptTransitionConcurrentSingleWinner(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	logger := zerolog.Nop()
	// maxAttempts=1 so losers report the conflict instead of retrying
	svc := NewLifecycleService(store, lifecycle.NewTable(), lifecycle.DefaultEvaluator(), nil, nil, 1, &logger)
	entity := createTestEntity(t, store, models.KindBooking, models.StatusPending, models.PaymentUnpaid)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusConfirmed)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, database.ErrConcurrentModification):
			conflicts++
		}
	}

	// Exactly one goroutine commits the version-1 write; the losers either
	// hit the version conflict or read the already-confirmed state (no-op
	// success). Every outcome must be one of those two.
	after, err := store.GetEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, after.Status)
	assert.Equal(t, int64(2), after.Version, "only one write may commit")
	assert.Equal(t, workers, successes+conflicts)
	assert.GreaterOrEqual(t, successes, 1)
}

func TestAllowedTransitionsPassthrough(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	svc := newTestLifecycleService(t, store)

	assert.ElementsMatch(t, []string{models.StatusConfirmed, models.StatusCancelled},
		svc.AllowedTransitions(models.KindBooking, models.StatusPending))
	assert.Empty(t, svc.AllowedTransitions("unknown", models.StatusPending))
}

func TestAttemptTransitionPublishesEvent(t *testing.T) {
	store := repository.NewMemoryEntityStore()
	bus := events.NewEventBus()
	logger := zerolog.Nop()
	svc := NewLifecycleService(store, lifecycle.NewTable(), nil, bus, nil, 3, &logger)
	entity := createTestEntity(t, store, models.KindBooking, models.StatusPending, models.PaymentUnpaid)

	var received []*events.Event
	bus.Subscribe(events.EventStatusChanged, func(e *events.Event) error {
		received = append(received, e)
		return nil
	})

	_, err := svc.AttemptTransition(context.Background(), entity.ID, models.StatusConfirmed)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, events.EventStatusChanged, received[0].Type)
	assert.Contains(t, string(received[0].Payload), `"to_status":"confirmed"`)
}
