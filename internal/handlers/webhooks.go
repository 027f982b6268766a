package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/marminbh/webhook-gateway/internal/ingest"
	"github.com/marminbh/webhook-gateway/internal/parser"
	"github.com/marminbh/webhook-gateway/internal/verifier"
)

// WebhookHandler receives provider deliveries and feeds them to the pipeline.
type WebhookHandler struct {
	Pipeline *ingest.Pipeline
	Logger   *zap.Logger
}

func NewWebhookHandler(pipeline *ingest.Pipeline, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		Pipeline: pipeline,
		Logger:   logger,
	}
}

// Receive handles POST /webhooks/:provider/:resource.
//
// The provider only learns whether its delivery was accepted for processing;
// handler execution happens after the response. Duplicates are acked with 200
// so well-behaved providers stop redelivering.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	provider := c.Params("provider")
	resource := c.Params("resource")

	res, err := h.Pipeline.Ingest(c.UserContext(), provider, resource, c.Body(), func(name string) string {
		return c.Get(name)
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnknownProvider):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "unknown provider",
			})
		case verifier.IsValidationError(err):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "signature verification failed",
			})
		case errors.Is(err, parser.ErrMalformedPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "malformed payload",
			})
		default:
			h.Logger.Error("Failed to ingest webhook",
				zap.String("provider", provider),
				zap.String("resource", resource),
				zap.Error(err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to persist event",
			})
		}
	}

	return c.JSON(fiber.Map{
		"webhook_id": res.WebhookID.String(),
		"duplicate":  res.Duplicate,
	})
}
