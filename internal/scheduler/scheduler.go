package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marminbh/webhook-gateway/internal/audit"
	"github.com/marminbh/webhook-gateway/internal/config"
	"github.com/marminbh/webhook-gateway/internal/metrics"
	"github.com/marminbh/webhook-gateway/internal/models"
)

// retryLease is how far a dequeued task's next_run_at is pushed forward while
// its attempt is in flight, so the sweeper does not resubmit it.
const retryLease = 5 * time.Minute

// Alerter publishes an operational alert when an event is dead-lettered.
type Alerter interface {
	DeadLetter(ctx context.Context, dl *models.DeadLetterEvent) error
}

// ResubmitFunc re-enters a webhook event into the processing pipeline.
type ResubmitFunc func(ctx context.Context, event *models.WebhookEvent)

// Scheduler owns the retry queue: it computes backoff for failed attempts,
// re-enqueues them, and promotes exhausted or permanently failed events to
// the dead-letter store.
type Scheduler struct {
	db       *gorm.DB
	cfg      *config.RetryConfig
	audit    *audit.Logger
	alerter  Alerter
	logger   *zap.Logger
	resubmit ResubmitFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(db *gorm.DB, cfg *config.RetryConfig, auditLogger *audit.Logger, alerter Alerter, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		db:      db,
		cfg:     cfg,
		audit:   auditLogger,
		alerter: alerter,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetResubmitFunc wires the pipeline callback used by the sweeper. Must be
// called before Start.
func (s *Scheduler) SetResubmitFunc(fn ResubmitFunc) {
	s.resubmit = fn
}

// HandleFailure records a failed processing attempt and decides its fate:
// permanent failures and exhausted transient failures are dead-lettered,
// everything else is scheduled for retry with backoff.
func (s *Scheduler) HandleFailure(ctx context.Context, event *models.WebhookEvent, permanent bool, cause error) {
	attempts := s.attemptsCompleted(ctx, event.ID) + 1
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	if permanent {
		s.audit.Record(ctx, event.ID, event.Provider, models.StatusProcessingFailed, message)
		s.DeadLetter(ctx, event, attempts, fmt.Sprintf("permanent failure: %s", message))
		return
	}

	if attempts >= s.cfg.MaxAttempts {
		s.DeadLetter(ctx, event, attempts, fmt.Sprintf("max attempts reached: %s", message))
		return
	}

	delay := Jitter(Delay(s.cfg.BaseDelay, s.cfg.MaxDelay, attempts))
	task := models.RetryTask{
		WebhookID:     event.ID,
		AttemptNumber: attempts,
		NextRunAt:     time.Now().UTC().Add(delay),
		LastError:     message,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "webhook_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"attempt_number", "next_run_at", "last_error", "updated_at"}),
		}).
		Create(&task).Error
	if err != nil {
		s.logger.Error("Failed to persist retry task",
			zap.String("webhook_id", event.ID.String()),
			zap.Int("attempt_number", attempts),
			zap.Error(err),
		)
		return
	}

	s.audit.Record(ctx, event.ID, event.Provider, models.StatusRetrying, message)
	s.logger.Info("Processing attempt failed, retry scheduled",
		zap.String("webhook_id", event.ID.String()),
		zap.String("provider", event.Provider),
		zap.Int("attempt_number", attempts),
		zap.Time("next_run_at", task.NextRunAt),
		zap.String("last_error", message),
	)
}

// MarkSucceeded clears any pending retry task after a successful attempt.
func (s *Scheduler) MarkSucceeded(ctx context.Context, webhookID uuid.UUID) {
	err := s.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Delete(&models.RetryTask{}).Error
	if err != nil {
		s.logger.Error("Failed to delete retry task after success",
			zap.String("webhook_id", webhookID.String()),
			zap.Error(err),
		)
	}
}

// DeadLetter promotes an event to the dead-letter store. The event is
// retained for manual inspection and replay, never silently dropped.
func (s *Scheduler) DeadLetter(ctx context.Context, event *models.WebhookEvent, attempts int, reason string) {
	dl := models.DeadLetterEvent{
		WebhookID:      event.ID,
		Provider:       event.Provider,
		Topic:          event.Topic,
		Attempts:       attempts,
		LastError:      reason,
		DeadLetteredAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("webhook_id = ?", event.ID).Delete(&models.RetryTask{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&dl).Error
	})
	if err != nil {
		s.logger.Error("Failed to persist dead letter",
			zap.String("webhook_id", event.ID.String()),
			zap.Error(err),
		)
	}

	s.audit.Record(ctx, event.ID, event.Provider, models.StatusDeadLettered, reason)
	metrics.DeadLetters.WithLabelValues(event.Provider).Inc()

	s.logger.Warn("Event dead-lettered",
		zap.String("webhook_id", event.ID.String()),
		zap.String("provider", event.Provider),
		zap.String("topic", event.Topic),
		zap.Int("attempts", attempts),
		zap.String("reason", reason),
	)

	if s.alerter != nil {
		if err := s.alerter.DeadLetter(ctx, &dl); err != nil {
			s.logger.Error("Failed to publish dead-letter alert",
				zap.String("webhook_id", event.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// DequeueDue returns tasks whose next_run_at has passed, leasing each one
// forward so a concurrent sweep does not pick it up again.
func (s *Scheduler) DequeueDue(ctx context.Context) ([]models.RetryTask, error) {
	now := time.Now().UTC()

	var tasks []models.RetryTask
	err := s.db.WithContext(ctx).
		Where("next_run_at <= ?", now).
		Order("next_run_at ASC").
		Limit(s.cfg.SweepBatch).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue due retry tasks: %w", err)
	}

	// the lease update is guarded by the next_run_at we read, so when two
	// instances race on the same task only one claim sticks
	claimed := make([]models.RetryTask, 0, len(tasks))
	for i := range tasks {
		res := s.db.WithContext(ctx).
			Model(&models.RetryTask{}).
			Where("id = ? AND next_run_at = ?", tasks[i].ID, tasks[i].NextRunAt).
			Updates(map[string]interface{}{
				"next_run_at": now.Add(retryLease),
				"updated_at":  now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to lease retry task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		claimed = append(claimed, tasks[i])
	}

	return claimed, nil
}

// Start launches the periodic sweeper that re-submits due retry tasks.
func (s *Scheduler) Start() {
	if s.resubmit == nil {
		s.logger.Error("Scheduler started without a resubmit function, sweeper disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		s.logger.Info("Retry sweeper started",
			zap.Duration("interval", s.cfg.SweepInterval),
			zap.Int("batch", s.cfg.SweepBatch),
		)

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Info("Retry sweeper stopped")
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Scheduler) sweep() {
	tasks, err := s.DequeueDue(s.ctx)
	if err != nil {
		s.logger.Error("Retry sweep failed", zap.Error(err))
		return
	}

	for i := range tasks {
		task := tasks[i]

		var event models.WebhookEvent
		if err := s.db.WithContext(s.ctx).First(&event, "id = ?", task.WebhookID).Error; err != nil {
			s.logger.Error("Retry task references missing webhook event",
				zap.String("webhook_id", task.WebhookID.String()),
				zap.Error(err),
			)
			continue
		}

		s.logger.Info("Re-submitting webhook for retry",
			zap.String("webhook_id", event.ID.String()),
			zap.String("provider", event.Provider),
			zap.Int("attempt_number", task.AttemptNumber+1),
		)
		s.resubmit(s.ctx, &event)
	}

	var depth int64
	if err := s.db.WithContext(s.ctx).Model(&models.RetryTask{}).Count(&depth).Error; err == nil {
		metrics.RetryQueueDepth.Set(float64(depth))
	}
}

// Stop halts the sweeper and waits for the current sweep to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) attemptsCompleted(ctx context.Context, webhookID uuid.UUID) int {
	var task models.RetryTask
	err := s.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		First(&task).Error
	if err != nil {
		return 0
	}
	return task.AttemptNumber
}
