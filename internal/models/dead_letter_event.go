package models

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetterEvent records a webhook whose processing attempts were exhausted
// or permanently rejected. Rows are retained for manual inspection and replay,
// never purged automatically.
type DeadLetterEvent struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WebhookID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"webhook_id"`
	Provider       string    `gorm:"not null;index" json:"provider"`
	Topic          string    `gorm:"not null" json:"topic"`
	Attempts       int       `gorm:"not null" json:"attempts"`
	LastError      string    `json:"last_error"`
	DeadLetteredAt time.Time `gorm:"not null" json:"dead_lettered_at"`
}

func (DeadLetterEvent) TableName() string {
	return "dead_letter_events"
}
