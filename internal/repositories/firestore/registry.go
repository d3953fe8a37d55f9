package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/foodcourt/orders-api/internal/platform/firestore"
	"github.com/foodcourt/orders-api/internal/platform/idempotency"
	"github.com/foodcourt/orders-api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind repositories.Registry.
type Registry struct {
	provider    *pfirestore.Provider
	orders      *OrderRepository
	coupons     *CouponRepository
	customers   *CustomerRepository
	idempotency *idempotency.FirestoreStore
	outbox      *OutboxRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository over provider. health may be nil.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	store := idempotency.NewFirestoreStore(provider)

	orders, err := NewOrderRepository(provider, store)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	customers, err := NewCustomerRepository(provider)
	if err != nil {
		return nil, err
	}
	outbox, err := NewOutboxRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:    provider,
		orders:      orders,
		coupons:     coupons,
		customers:   customers,
		idempotency: store,
		outbox:      outbox,
		health:      health,
	}, nil
}

func (r *Registry) Close(context.Context) error { return r.provider.Close() }

func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Coupons() repositories.CouponRepository     { return r.coupons }
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }
func (r *Registry) Outbox() repositories.OutboxRepository      { return r.outbox }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

func (r *Registry) Idempotency() repositories.IdempotencyRepository { return r.idempotency }
