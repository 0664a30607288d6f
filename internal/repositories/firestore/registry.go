package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/kanili/api/internal/platform/firestore"
	"github.com/kanili/api/internal/repositories"
)

// Registry bundles the Firestore-backed repository implementations behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	carts         *CartRepository
	orders        *OrderRepository
	users         *UserRepository
	points        *PointsRepository
	stock         *StockRepository
	coupons       *CouponRepository
	settings      *SettingsRepository
	counters      *CounterRepository
	webhookEvents *WebhookEventRepository
	health        repositories.HealthRepository
}

// NewRegistry wires every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build cart repository: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build user repository: %w", err)
	}
	points, err := NewPointsRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build points repository: %w", err)
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build stock repository: %w", err)
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build coupon repository: %w", err)
	}
	settings, err := NewSettingsRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build settings repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}
	webhookEvents, err := NewWebhookEventRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build webhook event repository: %w", err)
	}

	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider:      provider,
		carts:         carts,
		orders:        orders,
		users:         users,
		points:        points,
		stock:         stock,
		coupons:       coupons,
		settings:      settings,
		counters:      counters,
		webhookEvents: webhookEvents,
		health:        health,
	}, nil
}

// WithHealth replaces the health repository, letting callers add checks for
// dependencies the registry does not own, such as Pub/Sub topics.
func (r *Registry) WithHealth(health repositories.HealthRepository) *Registry {
	if r != nil && health != nil {
		r.health = health
	}
	return r
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository                 { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Users() repositories.UserRepository                 { return r.users }
func (r *Registry) Points() repositories.PointsRepository              { return r.points }
func (r *Registry) Stock() repositories.StockRepository                { return r.stock }
func (r *Registry) Coupons() repositories.CouponRepository             { return r.coupons }
func (r *Registry) Settings() repositories.SettingsRepository          { return r.settings }
func (r *Registry) Counters() repositories.CounterRepository           { return r.counters }
func (r *Registry) WebhookEvents() repositories.WebhookEventRepository { return r.webhookEvents }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }

var _ repositories.Registry = (*Registry)(nil)
