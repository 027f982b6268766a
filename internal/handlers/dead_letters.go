package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/webhook-gateway/internal/ingest"
	"github.com/marminbh/webhook-gateway/internal/models"
)

// DeadLettersHandler exposes the dead-letter queue to operators.
type DeadLettersHandler struct {
	DB       *gorm.DB
	Pipeline *ingest.Pipeline
	Logger   *zap.Logger
}

func NewDeadLettersHandler(db *gorm.DB, pipeline *ingest.Pipeline, logger *zap.Logger) *DeadLettersHandler {
	return &DeadLettersHandler{
		DB:       db,
		Pipeline: pipeline,
		Logger:   logger,
	}
}

// DeadLetterDTO is one parked event in the listing.
type DeadLetterDTO struct {
	WebhookID    string `json:"webhook_id"`
	Provider     string `json:"provider"`
	Topic        string `json:"topic"`
	Attempts     int    `json:"attempts"`
	LastError    string `json:"last_error"`
	DeadLetterAt string `json:"dead_lettered_at"`
}

// List handles GET /api/v1/dead-letters.
func (h *DeadLettersHandler) List(c *fiber.Ctx) error {
	limit := 25
	if parsed := c.QueryInt("limit"); parsed > 0 {
		limit = parsed
	}
	offset := c.QueryInt("offset")
	if offset < 0 {
		offset = 0
	}

	query := h.DB.WithContext(c.UserContext()).
		Order("dead_lettered_at DESC").
		Limit(limit + 1).
		Offset(offset)
	if provider := c.Query("provider"); provider != "" {
		query = query.Where("provider = ?", provider)
	}

	var rows []models.DeadLetterEvent
	if err := query.Find(&rows).Error; err != nil {
		h.Logger.Error("Failed to query dead letters", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch dead letters",
		})
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	dtos := make([]DeadLetterDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, DeadLetterDTO{
			WebhookID:    row.WebhookID.String(),
			Provider:     row.Provider,
			Topic:        row.Topic,
			Attempts:     row.Attempts,
			LastError:    row.LastError,
			DeadLetterAt: row.DeadLetteredAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{
		"dead_letters": dtos,
		"has_more":     hasMore,
	})
}

// Replay handles POST /api/v1/dead-letters/:id/replay. The id is the webhook
// event ID, not the dead-letter row ID.
func (h *DeadLettersHandler) Replay(c *fiber.Ctx) error {
	webhookID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a valid UUID",
		})
	}

	if err := h.Pipeline.Replay(c.UserContext(), webhookID); err != nil {
		switch {
		case errors.Is(err, ingest.ErrNotDeadLettered):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "event is not dead-lettered",
			})
		case errors.Is(err, ingest.ErrNoHandler):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "no handler registered for this event's topic",
			})
		default:
			h.Logger.Error("Failed to replay dead letter",
				zap.String("webhook_id", webhookID.String()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to replay event",
			})
		}
	}

	return c.JSON(fiber.Map{
		"webhook_id": webhookID.String(),
		"replayed":   true,
	})
}
