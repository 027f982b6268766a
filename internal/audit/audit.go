package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/webhook-gateway/internal/models"
)

// Logger appends lifecycle transitions to the audit trail. The trail is the
// source of truth for "what happened to this webhook"; entries are never
// updated or deleted.
type Logger struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewLogger(db *gorm.DB, log *zap.Logger) *Logger {
	return &Logger{db: db, log: log}
}

// Record appends one transition. It never fails silently: when the audit
// write itself fails, the full entry is emitted on the operational log
// channel so the transition is not lost.
func (l *Logger) Record(ctx context.Context, webhookID uuid.UUID, provider string, status models.AuditStatus, errorMessage string) {
	entry := models.AuditLogEntry{
		WebhookID:  webhookID,
		Provider:   provider,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
	if errorMessage != "" {
		entry.ErrorMessage = &errorMessage
	}

	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		l.log.Error("Audit write failed, transition recorded on fallback channel",
			zap.String("webhook_id", webhookID.String()),
			zap.String("provider", provider),
			zap.String("status", string(status)),
			zap.String("error_message", errorMessage),
			zap.Error(err),
		)
	}
}

// ByWebhookID returns the full trail for one webhook in lifecycle order.
func (l *Logger) ByWebhookID(ctx context.Context, webhookID uuid.UUID) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := l.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("occurred_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// ByProviderAndRange returns entries for a provider within [from, to).
func (l *Logger) ByProviderAndRange(ctx context.Context, provider string, from, to time.Time) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := l.db.WithContext(ctx).
		Where("provider = ? AND occurred_at >= ? AND occurred_at < ?", provider, from, to).
		Order("occurred_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// ByStatus returns the most recent entries with the given status.
func (l *Logger) ByStatus(ctx context.Context, status models.AuditStatus, limit int) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := l.db.WithContext(ctx).
		Where("status = ?", status).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CurrentStatus derives the state of a webhook from its latest entry.
func (l *Logger) CurrentStatus(ctx context.Context, webhookID uuid.UUID) (models.AuditStatus, error) {
	var entry models.AuditLogEntry
	err := l.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("occurred_at DESC, id DESC").
		First(&entry).Error
	if err != nil {
		return "", err
	}
	return entry.Status, nil
}
