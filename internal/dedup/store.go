package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marminbh/webhook-gateway/internal/models"
)

// Result of an atomic check-and-reserve. On Duplicate, WebhookID is the event
// that was admitted first; otherwise it echoes the reserved id.
type Result struct {
	Duplicate bool
	WebhookID uuid.UUID
}

// Store tracks which (provider, externalEventID) pairs have been durably
// accepted. The reservation relies on the table's unique constraint, not on
// application-level locks, so it stays correct across horizontally scaled
// gateway instances.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to tx, so the reservation can share a
// transaction with the webhook event insert.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// CheckAndReserve atomically inserts a dedup record for the pair, or detects
// that one already exists. Two near-simultaneous redeliveries race on the
// insert; the unique constraint guarantees exactly one wins.
func (s *Store) CheckAndReserve(ctx context.Context, provider, externalEventID string, webhookID uuid.UUID) (*Result, error) {
	record := models.DedupRecord{
		Provider:        provider,
		ExternalEventID: externalEventID,
		WebhookID:       webhookID,
		CreatedAt:       time.Now().UTC(),
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if res.Error != nil {
		return nil, fmt.Errorf("dedup reservation failed: %w", res.Error)
	}

	if res.RowsAffected == 1 {
		return &Result{WebhookID: webhookID}, nil
	}

	var existing models.DedupRecord
	err := s.db.WithContext(ctx).
		Where("provider = ? AND external_event_id = ?", provider, externalEventID).
		First(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load existing dedup record: %w", err)
	}

	return &Result{Duplicate: true, WebhookID: existing.WebhookID}, nil
}

// PurgeExpired deletes records older than the retention window and returns
// how many were removed.
func (s *Store) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.DedupRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("dedup purge failed: %w", res.Error)
	}

	return res.RowsAffected, nil
}
