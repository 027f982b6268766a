package processor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marminbh/webhook-gateway/internal/config"
	"github.com/marminbh/webhook-gateway/internal/dispatcher"
	"github.com/marminbh/webhook-gateway/internal/models"
	"github.com/marminbh/webhook-gateway/internal/processor"
)

func newTestProcessor(t *testing.T, timeout time.Duration) *processor.Processor {
	t.Helper()
	p := processor.New(&config.ProcessorConfig{
		Workers:     2,
		QueueSize:   16,
		TaskTimeout: timeout,
	}, zap.NewNop())
	t.Cleanup(p.Stop)
	return p
}

func testEvent() *models.WebhookEvent {
	return &models.WebhookEvent{
		ID:       uuid.New(),
		Provider: "payment",
		Topic:    "payment_intent.succeeded",
	}
}

func waitResult(t *testing.T, ch <-chan processor.Result) processor.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for processing result")
		return processor.Result{}
	}
}

func TestSubmitOutcomes(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p := newTestProcessor(t, time.Second)
		res := waitResult(t, p.Submit(testEvent(), dispatcher.HandlerFunc(
			func(ctx context.Context, event *models.WebhookEvent) error { return nil })))
		assert.Equal(t, processor.OutcomeSuccess, res.Outcome)
		assert.NoError(t, res.Err)
	})

	t.Run("plain error is transient", func(t *testing.T) {
		p := newTestProcessor(t, time.Second)
		res := waitResult(t, p.Submit(testEvent(), dispatcher.HandlerFunc(
			func(ctx context.Context, event *models.WebhookEvent) error {
				return errors.New("downstream 503")
			})))
		assert.Equal(t, processor.OutcomeTransient, res.Outcome)
		assert.EqualError(t, res.Err, "downstream 503")
	})

	t.Run("marked error is permanent", func(t *testing.T) {
		p := newTestProcessor(t, time.Second)
		res := waitResult(t, p.Submit(testEvent(), dispatcher.HandlerFunc(
			func(ctx context.Context, event *models.WebhookEvent) error {
				return processor.Permanent(errors.New("order already cancelled"))
			})))
		assert.Equal(t, processor.OutcomePermanent, res.Outcome)
	})

	t.Run("hang is cancelled and reported transient", func(t *testing.T) {
		p := newTestProcessor(t, 50*time.Millisecond)
		res := waitResult(t, p.Submit(testEvent(), dispatcher.HandlerFunc(
			func(ctx context.Context, event *models.WebhookEvent) error {
				<-ctx.Done()
				return ctx.Err()
			})))
		assert.Equal(t, processor.OutcomeTransient, res.Outcome)
		assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	})

	t.Run("panic is permanent", func(t *testing.T) {
		p := newTestProcessor(t, time.Second)
		res := waitResult(t, p.Submit(testEvent(), dispatcher.HandlerFunc(
			func(ctx context.Context, event *models.WebhookEvent) error {
				panic("handler bug")
			})))
		assert.Equal(t, processor.OutcomePermanent, res.Outcome)
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), "handler bug")
	})
}

func TestOutcomeHandlerRuns(t *testing.T) {
	p := newTestProcessor(t, time.Second)

	var mu sync.Mutex
	var seen []processor.Outcome
	p.SetOutcomeHandler(func(event *models.WebhookEvent, res processor.Result) {
		mu.Lock()
		seen = append(seen, res.Outcome)
		mu.Unlock()
	})

	waitResult(t, p.Submit(testEvent(), dispatcher.HandlerFunc(
		func(ctx context.Context, event *models.WebhookEvent) error { return nil })))
	waitResult(t, p.Submit(testEvent(), dispatcher.HandlerFunc(
		func(ctx context.Context, event *models.WebhookEvent) error { return errors.New("nope") })))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []processor.Outcome{processor.OutcomeSuccess, processor.OutcomeTransient}, seen)
}

func TestPermanentMarker(t *testing.T) {
	base := errors.New("bad data")
	assert.True(t, processor.IsPermanent(processor.Permanent(base)))
	assert.True(t, processor.IsPermanent(processor.Permanent(base)) && errors.Is(processor.Permanent(base), base))
	assert.False(t, processor.IsPermanent(base))
	assert.Nil(t, processor.Permanent(nil))
}
