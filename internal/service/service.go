package service

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/webhook-gateway/internal/audit"
	"github.com/marminbh/webhook-gateway/internal/config"
	"github.com/marminbh/webhook-gateway/internal/dedup"
	"github.com/marminbh/webhook-gateway/internal/dispatcher"
	"github.com/marminbh/webhook-gateway/internal/ingest"
	"github.com/marminbh/webhook-gateway/internal/processor"
	"github.com/marminbh/webhook-gateway/internal/rabbitmq"
	"github.com/marminbh/webhook-gateway/internal/scheduler"
)

// Service holds all application dependencies so wiring lives in one place
// instead of package-level state.
type Service struct {
	Cfg       *config.Config
	DB        *gorm.DB
	Logger    *zap.Logger
	RMQ       *rabbitmq.Connection
	Dedup     *dedup.Store
	Audit     *audit.Logger
	Registry  *dispatcher.Registry
	Processor *processor.Processor
	Scheduler *scheduler.Scheduler
	Pipeline  *ingest.Pipeline
}

// New builds the dependency graph around an established DB connection. The
// alerter may be nil when RabbitMQ is disabled. Handler registration on the
// returned Registry must happen before traffic is served.
func New(cfg *config.Config, db *gorm.DB, rmq *rabbitmq.Connection, alerter scheduler.Alerter, logger *zap.Logger) *Service {
	dedupStore := dedup.NewStore(db)
	auditLogger := audit.NewLogger(db, logger)
	registry := dispatcher.NewRegistry(logger)
	proc := processor.New(&cfg.Processor, logger)
	sched := scheduler.New(db, &cfg.Retry, auditLogger, alerter, logger)
	pipeline := ingest.New(db, cfg, dedupStore, auditLogger, registry, proc, sched, logger)

	return &Service{
		Cfg:       cfg,
		DB:        db,
		Logger:    logger,
		RMQ:       rmq,
		Dedup:     dedupStore,
		Audit:     auditLogger,
		Registry:  registry,
		Processor: proc,
		Scheduler: sched,
		Pipeline:  pipeline,
	}
}
