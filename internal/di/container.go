package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kanili/api/internal/platform/config"
	"github.com/kanili/api/internal/platform/idempotency"
	"github.com/kanili/api/internal/repositories"
	"github.com/kanili/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders     services.OrderService
	Coupons    services.CouponService
	Points     services.PointsService
	Stock      services.StockService
	Settlement services.SettlementService
}

// Infrastructure carries the collaborators that live outside the repository
// registry: the idempotency store and the Pub/Sub-backed job publishers.
type Infrastructure struct {
	Idempotency   idempotency.Store
	Reminders     services.ReminderScheduler
	Emails        services.EmailEnqueuer
	DeadLetters   services.DeadLetterPublisher
	Logger        *zap.Logger
	OperatorEmail string
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stores.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Idempotency == nil {
		return nil, errors.New("idempotency store is required")
	}

	svc, err := buildServices(cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Stock:  reg.Stock(),
		Logger: logger,
		Clock:  time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock service: %w", err)
	}

	pointsSvc, err := services.NewPointsService(services.PointsServiceDeps{
		Points:               reg.Points(),
		Users:                reg.Users(),
		Orders:               reg.Orders(),
		Logger:               logger,
		Clock:                time.Now,
		LockTTL:              cfg.Points.RedeemLockTTL,
		MaxRedeemBasisPoints: cfg.Points.MaxRedeemBasisPoints,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build points service: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Carts:     reg.Carts(),
		Settings:  reg.Settings(),
		Counters:  reg.Counters(),
		Allocator: services.NewCostAllocator(services.WithDefaultLineWeight(cfg.Shipping.DefaultLineWeightGrams)),
		Coupons:   couponSvc,
		Logger:    logger,
		Clock:     time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	settlementSvc, err := services.NewSettlementService(services.SettlementServiceDeps{
		Orders:              reg.Orders(),
		Users:               reg.Users(),
		Points:              reg.Points(),
		Carts:               reg.Carts(),
		WebhookEvents:       reg.WebhookEvents(),
		Stock:               stockSvc,
		Idempotency:         infra.Idempotency,
		Reminders:           infra.Reminders,
		Emails:              infra.Emails,
		DeadLetters:         infra.DeadLetters,
		Logger:              logger,
		Clock:               time.Now,
		ReminderDelay:       cfg.Jobs.ReminderDelay,
		FreeShippingWindow:  cfg.Shipping.FreeShippingWindow,
		EarnRateBasisPoints: cfg.Points.EarnRateBasisPoints,
		EventTTL:            cfg.Webhooks.EventTTL,
		OperatorEmail:       infra.OperatorEmail,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settlement service: %w", err)
	}

	return Services{
		Orders:     orderSvc,
		Coupons:    couponSvc,
		Points:     pointsSvc,
		Stock:      stockSvc,
		Settlement: settlementSvc,
	}, nil
}
