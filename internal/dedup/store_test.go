package dedup_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marminbh/webhook-gateway/internal/dedup"
	"github.com/marminbh/webhook-gateway/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// a pooled second connection would see its own empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.DedupRecord{}))
	return db
}

func TestCheckAndReserve(t *testing.T) {
	ctx := context.Background()
	store := dedup.NewStore(newTestDB(t))

	firstID := uuid.New()

	t.Run("first delivery is accepted", func(t *testing.T) {
		res, err := store.CheckAndReserve(ctx, "payment", "evt_1", firstID)
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Equal(t, firstID, res.WebhookID)
	})

	t.Run("redelivery is a duplicate pointing at the first webhook", func(t *testing.T) {
		res, err := store.CheckAndReserve(ctx, "payment", "evt_1", uuid.New())
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.Equal(t, firstID, res.WebhookID)
	})

	t.Run("external ids are scoped per provider", func(t *testing.T) {
		otherID := uuid.New()
		res, err := store.CheckAndReserve(ctx, "commerce", "evt_1", otherID)
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Equal(t, otherID, res.WebhookID)
	})
}

func TestCheckAndReserveConcurrent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := dedup.NewStore(db)

	const deliveries = 16
	ids := make([]uuid.UUID, deliveries)
	results := make([]*dedup.Result, deliveries)
	errs := make([]error, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		ids[i] = uuid.New()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.CheckAndReserve(ctx, "payment", "evt_race", ids[i])
		}(i)
	}
	wg.Wait()

	var winner uuid.UUID
	accepted := 0
	for i := 0; i < deliveries; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if !results[i].Duplicate {
			accepted++
			winner = results[i].WebhookID
			assert.Equal(t, ids[i], results[i].WebhookID)
		}
	}
	require.Equal(t, 1, accepted)

	for i := 0; i < deliveries; i++ {
		if results[i].Duplicate {
			assert.Equal(t, winner, results[i].WebhookID)
		}
	}

	var count int64
	require.NoError(t, db.Model(&models.DedupRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := dedup.NewStore(db)

	old := models.DedupRecord{
		Provider:        "payment",
		ExternalEventID: "evt_old",
		WebhookID:       uuid.New(),
		CreatedAt:       time.Now().UTC().Add(-31 * 24 * time.Hour),
	}
	require.NoError(t, db.Create(&old).Error)

	_, err := store.CheckAndReserve(ctx, "payment", "evt_fresh", uuid.New())
	require.NoError(t, err)

	purged, err := store.PurgeExpired(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	// the fresh record must survive and still block redelivery
	res, err := store.CheckAndReserve(ctx, "payment", "evt_fresh", uuid.New())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	// the purged pair can be admitted again
	res, err = store.CheckAndReserve(ctx, "payment", "evt_old", uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}
