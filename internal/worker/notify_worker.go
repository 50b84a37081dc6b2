package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"klinikcare/internal/database"
	"klinikcare/internal/domain"
	"klinikcare/internal/events"
	"klinikcare/internal/metrics"
	"klinikcare/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NotifyWorker drains the persisted notify_queue and delivers each task
// through the configured channels. Delivery failures are retried with
// backoff; exhausted tasks go to a Redis dead-letter list when a client
// is available.
type NotifyWorker struct {
	db            *database.DB
	notifiers     []domain.Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.NotifyTask
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewNotifyWorker(db *database.DB, notifiers []domain.Notifier, redisClient *redis.Client,
	retry RetryPolicy, deadLetterKey string, pollInterval time.Duration, batchSize int, logger *zerolog.Logger) *NotifyWorker {
	if retry.MaxRetries == 0 {
		retry = DefaultRetryPolicy()
	}
	if pollInterval <= 0 {
		pollInterval = time.Duration(models.DefaultNotifyPollSeconds) * time.Second
	}
	if batchSize <= 0 {
		batchSize = models.DefaultNotifyBatchSize
	}
	if deadLetterKey == "" {
		deadLetterKey = "notify:dead_letter"
	}

	return &NotifyWorker{
		db:            db,
		notifiers:     notifiers,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.NotifyTask, models.NotifyQueueSize),
		deadLetterKey: deadLetterKey,
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		logger:        logger,
	}
}

// EnqueueStatusChange persists a notification task and wakes the worker.
// Implements domain.NotifyEnqueuer.
func (w *NotifyWorker) EnqueueStatusChange(ctx context.Context, entity *models.Entity, fromStatus string) error {
	payload := events.TransitionEventPayload{
		EntityID:      entity.ID,
		Kind:          entity.Kind,
		FromStatus:    fromStatus,
		ToStatus:      entity.Status,
		PaymentStatus: entity.PaymentStatus,
		PatientName:   entity.PatientName,
		OccurredAt:    time.Now(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.NotifyTask{
		EventType: events.EventStatusChanged,
		EntityID:  entity.ID,
		Payload:   string(raw),
		Status:    "pending",
	}
	if err := w.db.CreateNotifyTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notify task: %w", err)
	}

	select {
	case w.queue <- task:
	default:
		// queue full, the poll loop will pick the task up from the DB
	}
	return nil
}

// Start launches the main loop; stops when ctx is done.
func (w *NotifyWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notify worker started")
	defer w.logger.Info().Msg("notify worker stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.queue:
			w.processTask(ctx, &task)
		case <-ticker.C:
			w.drainPending(ctx)
		}
	}
}

func (w *NotifyWorker) drainPending(ctx context.Context) {
	tasks, err := w.db.GetPendingNotifyTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("fetch pending notify tasks")
		return
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
}

func (w *NotifyWorker) processTask(ctx context.Context, task *models.NotifyTask) {
	if err := w.deliver(ctx, task); err != nil {
		metrics.IncNotify("failure")
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncNotify("success")
	if err := w.db.UpdateNotifyTaskStatus(ctx, task.ID, "completed", "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark notify task completed")
	}
}

func (w *NotifyWorker) deliver(ctx context.Context, task *models.NotifyTask) error {
	if len(w.notifiers) == 0 {
		return nil
	}
	for _, n := range w.notifiers {
		if err := n.Notify(ctx, task); err != nil {
			return fmt.Errorf("%s: %w", n.Name(), err)
		}
	}
	return nil
}

func (w *NotifyWorker) retryOrFail(ctx context.Context, task *models.NotifyTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		if err := w.db.UpdateNotifyTaskStatus(ctx, task.ID, "failed", cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark notify task failed")
		}
		w.pushDeadLetter(ctx, task)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.db.UpdateNotifyTaskStatus(ctx, task.ID, "retry", cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark notify task for retry")
	}
}

func (w *NotifyWorker) pushDeadLetter(ctx context.Context, task *models.NotifyTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("push dead letter")
	}
}
