package di

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/foodcourt/orders-api/internal/platform/config"
	"github.com/foodcourt/orders-api/internal/platform/events"
	"github.com/foodcourt/orders-api/internal/platform/observability"
	"github.com/foodcourt/orders-api/internal/repositories"
	"github.com/foodcourt/orders-api/internal/services"
)

// Infrastructure carries the external clients the services are built on.
// main supplies production clients; tests supply in-memory ones.
type Infrastructure struct {
	Registry    repositories.Registry
	Prices      services.PriceCacheReader
	Broker      events.Broker
	Payments    services.PaymentGateway
	DeadLetters services.DeadLetterSink
	Meter       metric.Meter
	Build       services.BuildInfo
	// Closers run in reverse order on Close, after the registry is closed.
	Closers []func() error
}

// Services bundles the service-layer contracts that handlers and workers rely upon.
type Services struct {
	Orders     services.OrderService
	System     services.SystemService
	Dispatcher *services.OutboxDispatcher
	Cleaner    *services.IdempotencyCleaner
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	infra   Infrastructure
	logger  *zap.Logger
	workers sync.WaitGroup
	cancel  context.CancelFunc
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, cfg config.Config, infra Infrastructure, logger *zap.Logger) (*Container, error) {
	if infra.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Prices == nil {
		return nil, errors.New("price cache is required")
	}
	if infra.Broker == nil {
		return nil, errors.New("event broker is required")
	}
	if infra.Payments == nil {
		return nil, errors.New("payment gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	svc, err := buildServices(ctx, cfg, infra, logger)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: infra.Registry,
		Services:     svc,
		infra:        infra,
		logger:       logger,
	}, nil
}

// StartWorkers launches the outbox dispatcher and idempotency cleaner tickers.
func (c *Container) StartWorkers(ctx context.Context) {
	if c == nil {
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.Services.Dispatcher != nil && c.Config.Outbox.Interval > 0 {
		c.workers.Add(1)
		go func() {
			defer c.workers.Done()
			c.Services.Dispatcher.Run(workerCtx, c.Config.Outbox.Interval)
		}()
	}
	if c.Services.Cleaner != nil && c.Config.Idempotency.CleanupInterval > 0 {
		c.workers.Add(1)
		go func() {
			defer c.workers.Done()
			c.Services.Cleaner.Run(workerCtx, c.Config.Idempotency.CleanupInterval)
		}()
	}
	c.logger.Info("background workers started",
		zap.Duration("outbox_interval", c.Config.Outbox.Interval),
		zap.Duration("cleanup_interval", c.Config.Idempotency.CleanupInterval),
	)
}

// Close stops workers and releases repository clients, brokers and caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("background workers did not stop before deadline")
	}

	var errs []error
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	if c.infra.Broker != nil {
		if err := c.infra.Broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}
	for i := len(c.infra.Closers) - 1; i >= 0; i-- {
		if closer := c.infra.Closers[i]; closer != nil {
			if err := closer(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, cfg config.Config, infra Infrastructure, logger *zap.Logger) (Services, error) {
	reg := infra.Registry
	var svc Services

	pricing, err := services.NewPricingEngine(services.PricingEngineConfig{
		TaxRate:        cfg.Pricing.TaxRate,
		DeliveryCharge: cfg.Pricing.DeliveryCharge,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	discounts, err := services.NewDiscountResolver(services.DiscountResolverDeps{
		Coupons:  reg.Coupons(),
		Clock:    time.Now,
		Location: cfg.Pricing.Location,
		Logger:   observability.EventLogger(logger, "discounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount resolver: %w", err)
	}

	orchestrator, err := services.NewPaymentOrchestrator(services.PaymentOrchestratorDeps{
		Gateway:    infra.Payments,
		Provider:   cfg.PSP.Provider,
		SuccessURL: cfg.PSP.SuccessURL,
		CancelURL:  cfg.PSP.CancelURL,
		Logger:     observability.EventLogger(logger, "payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment orchestrator: %w", err)
	}

	publisher, err := services.NewBrokerEventPublisher(infra.Broker, cfg.Events.Topic)
	if err != nil {
		return Services{}, fmt.Errorf("build event publisher: %w", err)
	}

	dispatcher, err := services.NewOutboxDispatcher(services.OutboxDispatcherDeps{
		Outbox:      reg.Outbox(),
		Orders:      reg.Orders(),
		Customers:   reg.Customers(),
		Payments:    orchestrator,
		Events:      publisher,
		DeadLetters: infra.DeadLetters,
		Meter:       infra.Meter,
		Clock:       time.Now,
		Logger:      observability.EventLogger(logger, "outbox"),
		BatchSize:   cfg.Outbox.BatchSize,
		Lease:       cfg.Outbox.Lease,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		BaseBackoff: cfg.Outbox.BaseBackoff,
		MaxBackoff:  cfg.Outbox.MaxBackoff,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build outbox dispatcher: %w", err)
	}
	svc.Dispatcher = dispatcher

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Customers:      reg.Customers(),
		Idempotency:    reg.Idempotency(),
		Prices:         infra.Prices,
		Pricing:        pricing,
		Discounts:      discounts,
		Intents:        dispatcher,
		Currency:       cfg.Pricing.Currency,
		IdempotencyTTL: cfg.Idempotency.TTL,
		Clock:          time.Now,
		Logger:         observability.EventLogger(logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	cleaner, err := services.NewIdempotencyCleaner(services.IdempotencyCleanerDeps{
		Records:   reg.Idempotency(),
		BatchSize: cfg.Idempotency.CleanupBatchSize,
		Clock:     time.Now,
		Logger:    observability.EventLogger(logger, "idempotency"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build idempotency cleaner: %w", err)
	}
	svc.Cleaner = cleaner

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
