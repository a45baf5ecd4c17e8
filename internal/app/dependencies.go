package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paygate/internal/domain"
	"github.com/vladislavdragonenkov/paygate/internal/gateway"
	"github.com/vladislavdragonenkov/paygate/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/paygate/internal/service/callback"
	"github.com/vladislavdragonenkov/paygate/internal/service/ledger"
	"github.com/vladislavdragonenkov/paygate/internal/service/outbox"
	"github.com/vladislavdragonenkov/paygate/internal/service/reaper"
	"github.com/vladislavdragonenkov/paygate/internal/storage/memory"
	"github.com/vladislavdragonenkov/paygate/internal/storage/postgres"
)

// Dependencies содержит собранные зависимости приложения.
type Dependencies struct {
	Orders   domain.OrderRepository
	Products domain.ProductRepository
	Audit    domain.PaymentAuditRepository
	Outbox   domain.OutboxRepository

	Ledger    *ledger.Ledger
	Processor *callback.Processor
	Reaper    *reaper.Reaper

	OutboxWorker  *outbox.Worker
	KafkaProducer *kafka.Producer

	// Store не nil только при работе поверх PostgreSQL.
	Store  *postgres.Store
	Logger *log.Entry
}

// NewDependencies собирает хранилище, ledger, процессор callback'ов и воркеры.
// Пустой PostgresDSN означает in-memory хранилище, пустой KafkaBrokers —
// работу без брокера (outbox копится, воркер отключён).
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		deps.Store = store
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Products = postgres.NewProductRepository(store)
		deps.Audit = postgres.NewPaymentAuditRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		logger.Info("postgres storage initialized")
	} else {
		store := memory.NewStore()
		deps.Orders = memory.NewOrderRepository(store)
		deps.Products = memory.NewProductRepository(store)
		deps.Audit = memory.NewPaymentAuditRepository()
		deps.Outbox = memory.NewOutboxRepository()
		logger.Info("in-memory storage initialized")
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("continuing without kafka")
	}
	deps.KafkaProducer = producer

	if producer != nil {
		deps.Ledger = ledger.NewLedgerWithKafka(deps.Orders, deps.Audit, deps.Outbox, producer, logger.WithField("component", "ledger"))
	} else {
		deps.Ledger = ledger.NewLedger(deps.Orders, deps.Audit, deps.Outbox, logger.WithField("component", "ledger"))
	}

	adapters, err := buildAdapters(cfg, logger)
	if err != nil {
		deps.CloseStorage()
		return nil, err
	}

	processor, err := callback.NewProcessor(
		callback.Config{
			PublicBaseURL:   cfg.PublicBaseURL,
			CallbackBaseURL: cfg.CallbackBaseURL,
		},
		deps.Ledger,
		logger.WithField("component", "callback"),
		adapters...,
	)
	if err != nil {
		deps.CloseStorage()
		return nil, fmt.Errorf("create callback processor: %w", err)
	}
	deps.Processor = processor

	deps.Reaper = reaper.NewReaper(
		deps.Ledger,
		reaper.WithLogger(logger.WithField("component", "reaper")),
		reaper.WithInterval(cfg.ReaperInterval),
		reaper.WithExpiryWindow(cfg.ExpiryWindow),
		reaper.WithReceiptGrace(cfg.ReceiptGrace),
	)

	var publisher, dlqPublisher domain.OutboxPublisher
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents)
		dlqPublisher = kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
	}
	deps.OutboxWorker = outbox.NewWorker(
		deps.Outbox,
		publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(dlqPublisher),
	)

	return deps, nil
}

// buildAdapters создаёт адаптеры для шлюзов, у которых задана конфигурация.
// Частично заполненная конфигурация — ошибка старта, а не тихий пропуск.
func buildAdapters(cfg Config, logger *log.Entry) ([]gateway.Adapter, error) {
	var adapters []gateway.Adapter

	if cfg.NovaPay.TerminalID != "" || cfg.NovaPay.Secret != "" {
		novapay, err := gateway.NewNovaPay(cfg.NovaPay)
		if err != nil {
			return nil, fmt.Errorf("configure novapay: %w", err)
		}
		adapters = append(adapters, novapay)
		logger.Info("novapay gateway configured")
	}

	if cfg.QuickPay.MerchantID != "" || cfg.QuickPay.Secret != "" {
		quickpay, err := gateway.NewQuickPay(cfg.QuickPay)
		if err != nil {
			return nil, fmt.Errorf("configure quickpay: %w", err)
		}
		adapters = append(adapters, quickpay)
		logger.Info("quickpay gateway configured")
	}

	if len(adapters) == 0 {
		logger.Warn("no payment gateways configured, checkout endpoints will reject requests")
	}

	return adapters, nil
}

// CloseStorage закрывает соединение с PostgreSQL, если оно было открыто.
func (d *Dependencies) CloseStorage() {
	if d.Store == nil {
		return
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.WithError(err).Warn("failed to close postgres store")
	}
}
