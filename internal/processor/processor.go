package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/marminbh/webhook-gateway/internal/config"
	"github.com/marminbh/webhook-gateway/internal/dispatcher"
	"github.com/marminbh/webhook-gateway/internal/metrics"
	"github.com/marminbh/webhook-gateway/internal/models"
)

// Outcome classifies a handler execution.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient_failure"
	case OutcomePermanent:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Result carries the outcome and, for failures, the cause.
type Result struct {
	Outcome Outcome
	Err     error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not retryable: the event goes straight
// to the dead-letter store instead of the retry queue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// OutcomeHandler receives the result of every handler execution. It runs on
// the worker goroutine, after the handler returns.
type OutcomeHandler func(event *models.WebhookEvent, res Result)

// Processor runs handler callbacks on a bounded worker pool, decoupled from
// the HTTP goroutine that accepted the webhook. A slow or stuck handler is
// confined to the pool and converted into a transient failure by the per-task
// timeout.
type Processor struct {
	pool      pond.ResultPool[Result]
	timeout   time.Duration
	onOutcome OutcomeHandler
	logger    *zap.Logger
}

func New(cfg *config.ProcessorConfig, logger *zap.Logger) *Processor {
	pool := pond.NewResultPool[Result](
		cfg.Workers,
		pond.WithQueueSize(cfg.QueueSize),
	)

	logger.Info("Processor pool initialized",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("task_timeout", cfg.TaskTimeout),
	)

	return &Processor{
		pool:    pool,
		timeout: cfg.TaskTimeout,
		logger:  logger,
	}
}

// SetOutcomeHandler wires the completion callback. Must be called before the
// first Submit.
func (p *Processor) SetOutcomeHandler(fn OutcomeHandler) {
	p.onOutcome = fn
}

// Submit enqueues handler execution for an event and returns a channel that
// receives the result once the handler finishes. The caller does not need to
// read from it; outcome bookkeeping happens through the OutcomeHandler.
func (p *Processor) Submit(event *models.WebhookEvent, h dispatcher.Handler) <-chan Result {
	done := make(chan Result, 1)

	task := p.pool.Submit(func() Result {
		res := p.execute(event, h)

		metrics.ProcessingOutcomes.WithLabelValues(event.Provider, res.Outcome.String()).Inc()
		if p.onOutcome != nil {
			p.onOutcome(event, res)
		}
		return res
	})

	go func() {
		res, err := task.Wait()
		if err != nil {
			// pool rejected or was stopped before the task ran
			res = Result{Outcome: OutcomeTransient, Err: fmt.Errorf("processing pool unavailable: %w", err)}
		}
		done <- res
	}()

	return done
}

// execute runs the handler with a deadline and maps its error into the
// outcome taxonomy. A handler panic is permanent: replaying the same payload
// into the same code would panic again.
func (p *Processor) execute(event *models.WebhookEvent, h dispatcher.Handler) (res Result) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Handler panicked",
				zap.String("webhook_id", event.ID.String()),
				zap.String("provider", event.Provider),
				zap.String("topic", event.Topic),
				zap.Any("panic", r),
			)
			res = Result{Outcome: OutcomePermanent, Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()

	err := h.Handle(ctx, event)
	switch {
	case err == nil:
		return Result{Outcome: OutcomeSuccess}
	case errors.Is(err, context.DeadlineExceeded):
		return Result{
			Outcome: OutcomeTransient,
			Err:     fmt.Errorf("handler timed out after %s: %w", p.timeout, err),
		}
	case IsPermanent(err):
		return Result{Outcome: OutcomePermanent, Err: err}
	default:
		return Result{Outcome: OutcomeTransient, Err: err}
	}
}

// Stop drains the pool, waiting for in-flight handlers to finish.
func (p *Processor) Stop() {
	if err := p.pool.Stop().Wait(); err != nil {
		p.logger.Error("Processor pool stopped with error", zap.Error(err))
	}
	p.logger.Info("Processor pool stopped")
}
