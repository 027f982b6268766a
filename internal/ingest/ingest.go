package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/webhook-gateway/internal/audit"
	"github.com/marminbh/webhook-gateway/internal/config"
	"github.com/marminbh/webhook-gateway/internal/dedup"
	"github.com/marminbh/webhook-gateway/internal/dispatcher"
	"github.com/marminbh/webhook-gateway/internal/metrics"
	"github.com/marminbh/webhook-gateway/internal/models"
	"github.com/marminbh/webhook-gateway/internal/parser"
	"github.com/marminbh/webhook-gateway/internal/processor"
	"github.com/marminbh/webhook-gateway/internal/scheduler"
	"github.com/marminbh/webhook-gateway/internal/verifier"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoHandler       = errors.New("no handler registered")
	ErrNotDeadLettered = errors.New("event is not dead-lettered")
)

// outcomeTimeout bounds the bookkeeping (audit, retry scheduling) that runs
// after a handler finishes; the HTTP request is long gone by then.
const outcomeTimeout = 10 * time.Second

// Result of the synchronous ingestion phase, which is all the provider waits
// for: handler execution continues on the worker pool after the ack.
type Result struct {
	WebhookID uuid.UUID
	Duplicate bool
	Unhandled bool
}

// Pipeline implements the ingestion flow: verify signature, parse, reserve in
// the dedup store, audit, route, and hand off to the async processor. It also
// closes the loop on processing outcomes and retry resubmission.
type Pipeline struct {
	db        *gorm.DB
	providers map[string]config.ProviderConfig
	dedup     *dedup.Store
	audit     *audit.Logger
	registry  *dispatcher.Registry
	proc      *processor.Processor
	sched     *scheduler.Scheduler
	logger    *zap.Logger
}

func New(
	db *gorm.DB,
	cfg *config.Config,
	dedupStore *dedup.Store,
	auditLogger *audit.Logger,
	registry *dispatcher.Registry,
	proc *processor.Processor,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *Pipeline {
	providers := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		providers[pc.Name] = pc
	}

	p := &Pipeline{
		db:        db,
		providers: providers,
		dedup:     dedupStore,
		audit:     auditLogger,
		registry:  registry,
		proc:      proc,
		sched:     sched,
		logger:    logger,
	}

	proc.SetOutcomeHandler(p.handleOutcome)
	sched.SetResubmitFunc(p.Resubmit)

	return p
}

// Ingest runs the synchronous phase for one delivery. getHeader resolves a
// request header by name, so the provider's configured signature header can
// be read without coupling this package to the HTTP framework.
//
// The returned error maps onto the HTTP contract: validation errors are 401,
// parse errors 400, ErrUnknownProvider 404, anything else 500. Success is
// only reported after the dedup reservation is durable.
func (p *Pipeline) Ingest(ctx context.Context, providerName, topicHint string, body []byte, getHeader func(string) string) (*Result, error) {
	pc, ok := p.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}

	webhookID := uuid.New()
	receivedAt := time.Now().UTC()

	// the caller may reuse its buffer after we return
	raw := append([]byte(nil), body...)

	if err := verifier.Verify(raw, getHeader(pc.SignatureHeader), pc); err != nil {
		if verifier.IsValidationError(err) {
			metrics.ValidationFailures.WithLabelValues(pc.Name, "signature").Inc()
			p.recordRejected(ctx, webhookID, pc.Name, raw, receivedAt, topicHint, validationStatusFor(err), err)
			return nil, err
		}
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	parsed, err := parser.Parse(raw, pc, topicHint)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues(pc.Name, "payload").Inc()
		p.recordRejected(ctx, webhookID, pc.Name, raw, receivedAt, topicHint, models.ValidationValid, err)
		return nil, err
	}

	event := &models.WebhookEvent{
		ID:               webhookID,
		Provider:         pc.Name,
		ExternalEventID:  parsed.ExternalEventID,
		Topic:            parsed.Topic,
		RawPayload:       raw,
		ReceivedAt:       receivedAt,
		ValidationStatus: models.ValidationValid,
		CreatedAt:        receivedAt,
	}

	// reservation and event insert share a transaction so a crash cannot
	// leave a dedup record pointing at an event that was never stored
	var reservation *dedup.Result
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		reservation, txErr = p.dedup.WithTx(tx).CheckAndReserve(ctx, pc.Name, parsed.ExternalEventID, webhookID)
		if txErr != nil {
			return txErr
		}
		if reservation.Duplicate {
			return nil
		}
		return tx.Create(event).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to admit webhook event: %w", err)
	}

	if reservation.Duplicate {
		metrics.DuplicateEvents.WithLabelValues(pc.Name).Inc()
		p.logger.Info("Duplicate delivery short-circuited",
			zap.String("provider", pc.Name),
			zap.String("external_event_id", parsed.ExternalEventID),
			zap.String("existing_webhook_id", reservation.WebhookID.String()),
		)
		return &Result{WebhookID: reservation.WebhookID, Duplicate: true}, nil
	}

	p.audit.Record(ctx, webhookID, pc.Name, models.StatusReceived, "")
	metrics.EventsReceived.WithLabelValues(pc.Name).Inc()

	handler, ok := p.registry.Route(event)
	if !ok {
		return &Result{WebhookID: webhookID, Unhandled: true}, nil
	}

	p.proc.Submit(event, handler)

	return &Result{WebhookID: webhookID}, nil
}

// recordRejected persists a rejected delivery so the audit trail captures
// every failure, then writes RECEIVED and VALIDATION_FAILED entries.
func (p *Pipeline) recordRejected(
	ctx context.Context,
	webhookID uuid.UUID,
	provider string,
	raw []byte,
	receivedAt time.Time,
	topicHint string,
	status models.ValidationStatus,
	cause error,
) {
	event := &models.WebhookEvent{
		ID:               webhookID,
		Provider:         provider,
		ExternalEventID:  "",
		Topic:            topicHint,
		RawPayload:       raw,
		ReceivedAt:       receivedAt,
		ValidationStatus: status,
		CreatedAt:        receivedAt,
	}
	if err := p.db.WithContext(ctx).Create(event).Error; err != nil {
		p.logger.Error("Failed to persist rejected delivery",
			zap.String("webhook_id", webhookID.String()),
			zap.String("provider", provider),
			zap.Error(err),
		)
	}

	p.audit.Record(ctx, webhookID, provider, models.StatusReceived, "")
	p.audit.Record(ctx, webhookID, provider, models.StatusValidationFailed, cause.Error())

	p.logger.Warn("Delivery rejected",
		zap.String("webhook_id", webhookID.String()),
		zap.String("provider", provider),
		zap.String("validation_status", string(status)),
		zap.Error(cause),
	)
}

// handleOutcome runs on the worker goroutine after every handler execution.
func (p *Pipeline) handleOutcome(event *models.WebhookEvent, res processor.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), outcomeTimeout)
	defer cancel()

	switch res.Outcome {
	case processor.OutcomeSuccess:
		p.sched.MarkSucceeded(ctx, event.ID)
		p.audit.Record(ctx, event.ID, event.Provider, models.StatusProcessed, "")
		p.logger.Info("Webhook processed",
			zap.String("webhook_id", event.ID.String()),
			zap.String("provider", event.Provider),
			zap.String("topic", event.Topic),
		)
	case processor.OutcomePermanent:
		p.sched.HandleFailure(ctx, event, true, res.Err)
	default:
		p.sched.HandleFailure(ctx, event, false, res.Err)
	}
}

// Resubmit re-enters an event from the retry queue into processing.
func (p *Pipeline) Resubmit(ctx context.Context, event *models.WebhookEvent) {
	handler, ok := p.registry.Route(event)
	if !ok {
		// the handler was deregistered since the event was admitted
		p.sched.HandleFailure(ctx, event, true, ErrNoHandler)
		return
	}
	p.proc.Submit(event, handler)
}

// Replay re-submits a dead-lettered event through the pipeline, consuming its
// dead-letter row. Operator-initiated; reopens the event's lifecycle.
func (p *Pipeline) Replay(ctx context.Context, webhookID uuid.UUID) error {
	var dl models.DeadLetterEvent
	if err := p.db.WithContext(ctx).Where("webhook_id = ?", webhookID).First(&dl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrNotDeadLettered, webhookID)
		}
		return fmt.Errorf("failed to load dead letter: %w", err)
	}

	var event models.WebhookEvent
	if err := p.db.WithContext(ctx).First(&event, "id = ?", webhookID).Error; err != nil {
		return fmt.Errorf("failed to load webhook event: %w", err)
	}

	handler, ok := p.registry.Route(&event)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoHandler, event.Provider, event.Topic)
	}

	if err := p.db.WithContext(ctx).Delete(&dl).Error; err != nil {
		return fmt.Errorf("failed to consume dead letter: %w", err)
	}

	p.audit.Record(ctx, event.ID, event.Provider, models.StatusRetrying, "manual replay")
	p.logger.Info("Dead-lettered event replayed",
		zap.String("webhook_id", event.ID.String()),
		zap.String("provider", event.Provider),
		zap.String("topic", event.Topic),
	)

	p.proc.Submit(&event, handler)
	return nil
}

func validationStatusFor(err error) models.ValidationStatus {
	if errors.Is(err, verifier.ErrExpiredTimestamp) {
		return models.ValidationExpiredTimestamp
	}
	return models.ValidationInvalidSignature
}
