package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marminbh/webhook-gateway/internal/models"
	"github.com/marminbh/webhook-gateway/internal/rabbitmq"
)

// Publisher emits operational alerts over AMQP so on-call tooling can react
// to dead-lettered events without polling the database.
type Publisher struct {
	conn       *rabbitmq.Connection
	exchange   string
	routingKey string
	logger     *zap.Logger
}

func NewPublisher(conn *rabbitmq.Connection, exchange, routingKey string, logger *zap.Logger) *Publisher {
	return &Publisher{
		conn:       conn,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

type deadLetterAlert struct {
	Kind           string    `json:"kind"`
	WebhookID      string    `json:"webhook_id"`
	Provider       string    `json:"provider"`
	Topic          string    `json:"topic"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// DeadLetter publishes a dead-letter alert. Implements scheduler.Alerter.
func (p *Publisher) DeadLetter(ctx context.Context, dl *models.DeadLetterEvent) error {
	alert := deadLetterAlert{
		Kind:           "webhook.dead_lettered",
		WebhookID:      dl.WebhookID.String(),
		Provider:       dl.Provider,
		Topic:          dl.Topic,
		Attempts:       dl.Attempts,
		LastError:      dl.LastError,
		DeadLetteredAt: dl.DeadLetteredAt,
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter alert: %w", err)
	}

	if err := p.conn.PublishMessage(p.exchange, p.routingKey, body); err != nil {
		return fmt.Errorf("failed to publish dead-letter alert: %w", err)
	}

	p.logger.Info("Dead-letter alert published",
		zap.String("webhook_id", alert.WebhookID),
		zap.String("provider", alert.Provider),
		zap.String("exchange", p.exchange),
	)
	return nil
}
