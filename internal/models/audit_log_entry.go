package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditStatus is a lifecycle transition of a webhook event.
type AuditStatus string

const (
	StatusReceived         AuditStatus = "RECEIVED"
	StatusValidationFailed AuditStatus = "VALIDATION_FAILED"
	StatusProcessed        AuditStatus = "PROCESSED"
	StatusProcessingFailed AuditStatus = "PROCESSING_FAILED"
	StatusRetrying         AuditStatus = "RETRYING"
	StatusDeadLettered     AuditStatus = "DEAD_LETTERED"
)

// AuditLogEntry is one row per lifecycle transition, append-only. Entries are
// never updated or deleted; the current state of a webhook is the entry with
// the latest OccurredAt (ties broken by ID).
type AuditLogEntry struct {
	ID           int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	WebhookID    uuid.UUID   `gorm:"type:uuid;not null;index" json:"webhook_id"`
	Provider     string      `gorm:"not null;index" json:"provider"`
	Status       AuditStatus `gorm:"not null;index" json:"status"`
	ErrorMessage *string     `json:"error_message"`
	OccurredAt   time.Time   `gorm:"not null;index" json:"occurred_at"`
}

func (AuditLogEntry) TableName() string {
	return "audit_log"
}
