package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webhook_gateway",
		Name:      "events_received_total",
		Help:      "Webhook deliveries admitted after validation and dedup reservation.",
	}, []string{"provider"})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webhook_gateway",
		Name:      "validation_failures_total",
		Help:      "Deliveries rejected during signature verification or parsing.",
	}, []string{"provider", "reason"})

	DuplicateEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webhook_gateway",
		Name:      "duplicate_events_total",
		Help:      "Deliveries short-circuited by the deduplication store.",
	}, []string{"provider"})

	UnhandledTopics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webhook_gateway",
		Name:      "unhandled_topics_total",
		Help:      "Valid events acknowledged without a registered handler.",
	}, []string{"provider", "topic"})

	ProcessingOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webhook_gateway",
		Name:      "processing_outcomes_total",
		Help:      "Handler executions by outcome.",
	}, []string{"provider", "outcome"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webhook_gateway",
		Name:      "dead_letters_total",
		Help:      "Events promoted to the dead-letter store.",
	}, []string{"provider"})

	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "webhook_gateway",
		Name:      "retry_queue_depth",
		Help:      "Retry tasks currently waiting for their next run.",
	})

	DedupRecordsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "webhook_gateway",
		Name:      "dedup_records_purged_total",
		Help:      "Dedup records removed by the retention purge job.",
	})
)
