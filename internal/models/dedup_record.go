package models

import (
	"time"

	"github.com/google/uuid"
)

// DedupRecord maps (provider, external_event_id) to the webhook event that was
// admitted first. The composite primary key is the unique constraint the
// atomic check-and-insert relies on. Records are kept for the configured
// retention window to absorb provider redelivery storms.
type DedupRecord struct {
	Provider        string    `gorm:"primaryKey" json:"provider"`
	ExternalEventID string    `gorm:"primaryKey" json:"external_event_id"`
	WebhookID       uuid.UUID `gorm:"type:uuid;not null" json:"webhook_id"`
	CreatedAt       time.Time `gorm:"not null;index" json:"created_at"`
}

func (DedupRecord) TableName() string {
	return "dedup_records"
}
