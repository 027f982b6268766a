package models

import (
	"time"

	"github.com/google/uuid"
)

// RetryTask schedules the next processing attempt for a webhook that failed
// transiently. AttemptNumber counts attempts completed so far and strictly
// increases per webhook; NextRunAt is always in the future at write time.
// The row is deleted on success or when the event is dead-lettered.
type RetryTask struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WebhookID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"webhook_id"`
	AttemptNumber int       `gorm:"not null" json:"attempt_number"`
	NextRunAt     time.Time `gorm:"not null;index" json:"next_run_at"`
	LastError     string    `json:"last_error"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (RetryTask) TableName() string {
	return "retry_tasks"
}
