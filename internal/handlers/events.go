package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/webhook-gateway/internal/audit"
)

// EventsHandler serves the read side: event listings and audit trails.
type EventsHandler struct {
	DB     *gorm.DB
	Audit  *audit.Logger
	Logger *zap.Logger
}

func NewEventsHandler(db *gorm.DB, auditLogger *audit.Logger, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		DB:     db,
		Audit:  auditLogger,
		Logger: logger,
	}
}

// EventsResponse is the payload for GET /api/v1/events.
type EventsResponse struct {
	Events  []EventDTO `json:"events"`
	HasMore bool       `json:"has_more"`
}

// EventDTO is a single webhook event in the listing. CurrentStatus is the
// latest audit log entry for the event, not a column on the event itself.
type EventDTO struct {
	ID               string `json:"id"`
	Provider         string `json:"provider"`
	ExternalEventID  string `json:"external_event_id"`
	Topic            string `json:"topic"`
	ValidationStatus string `json:"validation_status"`
	CurrentStatus    string `json:"current_status"`
	ReceivedAt       string `json:"received_at"`
}

// GetEvents handles GET /api/v1/events.
// Query parameters:
//   - provider (optional): filter by provider name
//   - status (optional): filter by current audit status (e.g. DEAD_LETTERED)
//   - limit (optional, default 25): number of events to return
//   - offset (optional, default 0): number of events to skip
func (h *EventsHandler) GetEvents(c *fiber.Ctx) error {
	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsedLimit
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsedOffset, err := strconv.Atoi(offsetStr)
		if err != nil || parsedOffset < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
		}
		offset = parsedOffset
	}

	type eventRow struct {
		ID               uuid.UUID
		Provider         string
		ExternalEventID  string
		Topic            string
		ValidationStatus string
		ReceivedAt       time.Time
	}

	query := h.DB.Table("webhook_events AS we").
		Select("we.id, we.provider, we.external_event_id, we.topic, we.validation_status, we.received_at").
		Order("we.received_at DESC").
		Limit(limit + 1). // fetch one extra to determine has_more
		Offset(offset)

	if provider := c.Query("provider"); provider != "" {
		query = query.Where("we.provider = ?", provider)
	}

	if status := c.Query("status"); status != "" {
		// the current status of an event is its latest audit log entry
		latest := h.DB.Table("audit_log").
			Select("webhook_id, MAX(id) AS max_id").
			Group("webhook_id")

		query = query.
			Joins("JOIN audit_log AS al ON al.webhook_id = we.id").
			Joins("JOIN (?) AS latest ON latest.webhook_id = al.webhook_id AND latest.max_id = al.id", latest).
			Where("al.status = ?", status)
	}

	var events []eventRow
	if err := query.Scan(&events).Error; err != nil {
		h.Logger.Error("Failed to query webhook events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch events",
		})
	}

	if len(events) == 0 {
		return c.JSON(EventsResponse{Events: []EventDTO{}, HasMore: false})
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	eventIDs := make([]uuid.UUID, len(events))
	for i, event := range events {
		eventIDs[i] = event.ID
	}

	// fetch the latest audit entry per event on the page
	type statusRow struct {
		WebhookID uuid.UUID
		Status    string
	}

	latest := h.DB.Table("audit_log").
		Select("webhook_id, MAX(id) AS max_id").
		Where("webhook_id IN ?", eventIDs).
		Group("webhook_id")

	var statusRows []statusRow
	if err := h.DB.Table("audit_log AS al").
		Select("al.webhook_id, al.status").
		Joins("INNER JOIN (?) AS latest ON al.webhook_id = latest.webhook_id AND al.id = latest.max_id", latest).
		Scan(&statusRows).Error; err != nil {
		// still return the listing, just without current status
		h.Logger.Warn("Failed to fetch audit statuses for listing", zap.Error(err))
	}

	statusMap := make(map[uuid.UUID]string, len(statusRows))
	for _, row := range statusRows {
		statusMap[row.WebhookID] = row.Status
	}

	eventDTOs := make([]EventDTO, 0, len(events))
	for _, event := range events {
		eventDTOs = append(eventDTOs, EventDTO{
			ID:               event.ID.String(),
			Provider:         event.Provider,
			ExternalEventID:  event.ExternalEventID,
			Topic:            event.Topic,
			ValidationStatus: event.ValidationStatus,
			CurrentStatus:    statusMap[event.ID],
			ReceivedAt:       event.ReceivedAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(EventsResponse{Events: eventDTOs, HasMore: hasMore})
}

// AuditEntryDTO is one lifecycle transition in an event's audit trail.
type AuditEntryDTO struct {
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message"`
	OccurredAt   string  `json:"occurred_at"`
}

// GetAuditTrail handles GET /api/v1/events/:id/audit.
func (h *EventsHandler) GetAuditTrail(c *fiber.Ctx) error {
	webhookID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a valid UUID",
		})
	}

	entries, err := h.Audit.ByWebhookID(c.UserContext(), webhookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "webhook event not found",
			})
		}
		h.Logger.Error("Failed to query audit trail",
			zap.String("webhook_id", webhookID.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch audit trail",
		})
	}

	if len(entries) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "webhook event not found",
		})
	}

	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, entry := range entries {
		dtos = append(dtos, AuditEntryDTO{
			Status:       string(entry.Status),
			ErrorMessage: entry.ErrorMessage,
			OccurredAt:   entry.OccurredAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(fiber.Map{
		"webhook_id": webhookID.String(),
		"entries":    dtos,
	})
}
