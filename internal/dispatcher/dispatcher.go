package dispatcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/marminbh/webhook-gateway/internal/metrics"
	"github.com/marminbh/webhook-gateway/internal/models"
)

// Handler is an opaque business callback invoked by the gateway. Handlers
// must be idempotent: even with gateway-side deduplication, redelivery is
// always possible.
type Handler interface {
	Handle(ctx context.Context, event *models.WebhookEvent) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *models.WebhookEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event *models.WebhookEvent) error {
	return f(ctx, event)
}

// Registry maps (provider, topic) to a handler. It is populated once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds a handler to a (provider, topic) pair. Must be called
// before the gateway starts accepting traffic.
func (r *Registry) Register(provider, topic string, h Handler) {
	r.handlers[routeKey(provider, topic)] = h
	r.logger.Info("Handler registered",
		zap.String("provider", provider),
		zap.String("topic", topic),
	)
}

// Route looks up the handler for an event. Unhandled is not an error: it is
// logged and counted, and the caller still acknowledges the provider so an
// unknown topic cannot cause a retry storm.
func (r *Registry) Route(event *models.WebhookEvent) (Handler, bool) {
	h, ok := r.handlers[routeKey(event.Provider, event.Topic)]
	if !ok {
		metrics.UnhandledTopics.WithLabelValues(event.Provider, event.Topic).Inc()
		r.logger.Info("No handler registered for topic",
			zap.String("webhook_id", event.ID.String()),
			zap.String("provider", event.Provider),
			zap.String("topic", event.Topic),
		)
	}
	return h, ok
}

// Routes returns the registered (provider, topic) keys, for diagnostics.
func (r *Registry) Routes() []string {
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}

func routeKey(provider, topic string) string {
	return provider + "/" + topic
}
