package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marminbh/webhook-gateway/internal/audit"
	"github.com/marminbh/webhook-gateway/internal/models"
)

func newTestLogger(t *testing.T) *audit.Logger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// a pooled second connection would see its own empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.AuditLogEntry{}))
	return audit.NewLogger(db, zap.NewNop())
}

func TestRecordAndTrail(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t)
	webhookID := uuid.New()

	l.Record(ctx, webhookID, "payment", models.StatusReceived, "")
	l.Record(ctx, webhookID, "payment", models.StatusRetrying, "downstream 503")
	l.Record(ctx, webhookID, "payment", models.StatusProcessed, "")

	trail, err := l.ByWebhookID(ctx, webhookID)
	require.NoError(t, err)
	require.Len(t, trail, 3)

	assert.Equal(t, models.StatusReceived, trail[0].Status)
	assert.Equal(t, models.StatusRetrying, trail[1].Status)
	assert.Equal(t, models.StatusProcessed, trail[2].Status)

	require.NotNil(t, trail[1].ErrorMessage)
	assert.Equal(t, "downstream 503", *trail[1].ErrorMessage)
	assert.Nil(t, trail[0].ErrorMessage)
}

func TestCurrentStatus(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t)
	webhookID := uuid.New()

	l.Record(ctx, webhookID, "vcs", models.StatusReceived, "")
	l.Record(ctx, webhookID, "vcs", models.StatusDeadLettered, "max attempts reached")

	status, err := l.CurrentStatus(ctx, webhookID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeadLettered, status)

	_, err = l.CurrentStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	l := newTestLogger(t)

	a, b := uuid.New(), uuid.New()
	l.Record(ctx, a, "payment", models.StatusReceived, "")
	l.Record(ctx, a, "payment", models.StatusProcessed, "")
	l.Record(ctx, b, "commerce", models.StatusReceived, "")
	l.Record(ctx, b, "commerce", models.StatusValidationFailed, "invalid signature")

	t.Run("by provider and range", func(t *testing.T) {
		now := time.Now().UTC()
		entries, err := l.ByProviderAndRange(ctx, "payment", now.Add(-time.Minute), now.Add(time.Minute))
		require.NoError(t, err)
		assert.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, "payment", e.Provider)
		}

		entries, err = l.ByProviderAndRange(ctx, "payment", now.Add(-2*time.Hour), now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("by status", func(t *testing.T) {
		entries, err := l.ByStatus(ctx, models.StatusValidationFailed, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, b, entries[0].WebhookID)
	})
}
