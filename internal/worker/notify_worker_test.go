package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"klinikcare/internal/database"
	"klinikcare/internal/domain"
	"klinikcare/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	name  string
	calls []*models.NotifyTask
	err   error
}

func (n *fakeNotifier) Name() string { return n.name }

func (n *fakeNotifier) Notify(ctx context.Context, task *models.NotifyTask) error {
	n.calls = append(n.calls, task)
	return n.err
}

func newWorkerTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestWorker(t *testing.T, db *database.DB, notifier *fakeNotifier, redisClient *redis.Client) *NotifyWorker {
	t.Helper()
	logger := zerolog.Nop()
	retry := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	return NewNotifyWorker(db, []domain.Notifier{notifier}, redisClient, retry, "test:dead_letter", time.Second, 10, &logger)
}

func TestEnqueueStatusChangePersistsTask(t *testing.T) {
	db := newWorkerTestDB(t)
	notifier := &fakeNotifier{name: "fake"}
	w := newTestWorker(t, db, notifier, nil)

	entity := &models.Entity{
		ID:            7,
		Kind:          models.KindBooking,
		Status:        models.StatusConfirmed,
		PaymentStatus: models.PaymentUnpaid,
		PatientName:   "Анна",
	}
	require.NoError(t, w.EnqueueStatusChange(context.Background(), entity, models.StatusPending))

	tasks, err := db.GetPendingNotifyTasks(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(7), tasks[0].EntityID)
	assert.Equal(t, "pending", tasks[0].Status)

	var payload struct {
		FromStatus string `json:"from_status"`
		ToStatus   string `json:"to_status"`
	}
	require.NoError(t, json.Unmarshal([]byte(tasks[0].Payload), &payload))
	assert.Equal(t, models.StatusPending, payload.FromStatus)
	assert.Equal(t, models.StatusConfirmed, payload.ToStatus)
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newWorkerTestDB(t)
	notifier := &fakeNotifier{name: "fake"}
	w := newTestWorker(t, db, notifier, nil)

	task := &models.NotifyTask{EventType: "entity_status_changed", EntityID: 1, Payload: "{}", Status: "pending"}
	require.NoError(t, db.CreateNotifyTask(context.Background(), task))

	w.processTask(context.Background(), task)

	require.Len(t, notifier.calls, 1)
	pending, err := db.GetPendingNotifyTasks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "delivered task must leave the queue")
}

func TestProcessTaskSchedulesRetry(t *testing.T) {
	db := newWorkerTestDB(t)
	notifier := &fakeNotifier{name: "fake", err: assert.AnError}
	w := newTestWorker(t, db, notifier, nil)

	task := &models.NotifyTask{EventType: "entity_status_changed", EntityID: 1, Payload: "{}", Status: "pending"}
	require.NoError(t, db.CreateNotifyTask(context.Background(), task))

	w.processTask(context.Background(), task)

	// the task is rescheduled, not failed
	failed, err := db.GetFailedNotifyTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failed)

	// delay is milliseconds, so the retry comes due almost immediately
	assert.Eventually(t, func() bool {
		tasks, err := db.GetPendingNotifyTasks(context.Background(), 10)
		return err == nil && len(tasks) == 1 && tasks[0].Status == "retry"
	}, time.Second, 10*time.Millisecond)
}

func TestProcessTaskExhaustedGoesToDeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	db := newWorkerTestDB(t)
	notifier := &fakeNotifier{name: "fake", err: assert.AnError}
	w := newTestWorker(t, db, notifier, redisClient)

	task := &models.NotifyTask{
		EventType:  "entity_status_changed",
		EntityID:   1,
		Payload:    "{}",
		Status:     "retry",
		RetryCount: 1, // next failure is the second and final attempt
	}
	require.NoError(t, db.CreateNotifyTask(context.Background(), task))

	w.processTask(context.Background(), task)

	failed, err := db.GetFailedNotifyTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)

	letters, err := redisClient.LRange(context.Background(), "test:dead_letter", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, letters, 1)

	var dead models.NotifyTask
	require.NoError(t, json.Unmarshal([]byte(letters[0]), &dead))
	assert.Equal(t, task.ID, dead.ID)
}

func TestDrainPendingDeliversQueuedTasks(t *testing.T) {
	db := newWorkerTestDB(t)
	notifier := &fakeNotifier{name: "fake"}
	w := newTestWorker(t, db, notifier, nil)

	for i := 0; i < 3; i++ {
		task := &models.NotifyTask{EventType: "entity_status_changed", EntityID: int64(i), Payload: "{}", Status: "pending"}
		require.NoError(t, db.CreateNotifyTask(context.Background(), task))
	}

	w.drainPending(context.Background())

	assert.Len(t, notifier.calls, 3)
	pending, err := db.GetPendingNotifyTasks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWorkerStartStopsOnContextCancel(t *testing.T) {
	db := newWorkerTestDB(t)
	w := newTestWorker(t, db, &fakeNotifier{name: "fake"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
