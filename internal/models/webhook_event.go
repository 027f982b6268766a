package models

import (
	"time"

	"github.com/google/uuid"
)

// ValidationStatus is the terminal outcome of signature verification for an event.
// It is written once and never reverts to unvalidated.
type ValidationStatus string

const (
	ValidationUnvalidated      ValidationStatus = "unvalidated"
	ValidationValid            ValidationStatus = "valid"
	ValidationInvalidSignature ValidationStatus = "invalid_signature"
	ValidationExpiredTimestamp ValidationStatus = "expired_timestamp"
)

// WebhookEvent is the canonical unit of work. The ID is gateway-generated at
// receipt; ExternalEventID is the provider-supplied identifier and is only
// unique per provider. RawPayload holds the exact bytes received and is never
// mutated after insert.
type WebhookEvent struct {
	ID               uuid.UUID        `gorm:"type:uuid;primary_key" json:"id"`
	Provider         string           `gorm:"not null;index" json:"provider"`
	ExternalEventID  string           `gorm:"not null" json:"external_event_id"`
	Topic            string           `gorm:"not null" json:"topic"`
	RawPayload       []byte           `gorm:"not null" json:"-"`
	ReceivedAt       time.Time        `gorm:"not null" json:"received_at"`
	ValidationStatus ValidationStatus `gorm:"not null" json:"validation_status"`
	CreatedAt        time.Time        `gorm:"not null" json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
