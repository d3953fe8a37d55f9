package services

import (
	"context"

	"github.com/foodcourt/orders-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Actor              = domain.Actor
	CartItem           = domain.CartItem
	Address            = domain.Address
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	PaymentMode        = domain.PaymentMode
	LifecycleEvent     = domain.LifecycleEvent
	SystemHealthReport = domain.SystemHealthReport
)

// PriceCacheReader reads cached catalog prices. Ids without an entry are absent from the result.
type PriceCacheReader interface {
	Products(ctx context.Context, ids []string) (map[string]domain.ProductPriceEntry, error)
	Toppings(ctx context.Context, ids []string) (map[string]domain.ToppingPriceEntry, error)
}

// EventPublisher emits lifecycle events keyed by order id.
type EventPublisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}

// IntentDriver drives the pending outbox intents of one order.
type IntentDriver interface {
	DriveOrder(ctx context.Context, orderID string) (DriveResult, error)
}

// OrderService is the order creation and lifecycle surface used by handlers.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (OrderRef, error)
	GetOrder(ctx context.Context, actor Actor, orderID string, fields []string) (OrderProjection, error)
	ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListMyOrders(ctx context.Context, actor Actor, page domain.Pagination) (domain.CursorPage[Order], error)
}

// SystemService exposes dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateOrderCommand is a validated order placement request.
type CreateOrderCommand struct {
	Actor          Actor
	IdempotencyKey string
	Items          []CartItem
	CouponCode     string
	PaymentMode    PaymentMode
	Address        Address
	Comment        string
}

// CreateOrderResult is the customer-facing creation outcome.
type CreateOrderResult struct {
	OrderID    string
	PaymentURL *string
	Replayed   bool
}

// UpdateStatusCommand requests a status transition.
type UpdateStatusCommand struct {
	Actor   Actor
	OrderID string
	Status  OrderStatus
}

// OrderRef is the identifier-only response of a status change.
type OrderRef struct {
	ID string
}

// OrderListFilter narrows staff listings.
type OrderListFilter struct {
	TenantID   string
	Status     OrderStatus
	Pagination domain.Pagination
}

// OrderProjection is an order with the fields the caller asked for. Empty Fields means all.
type OrderProjection struct {
	Order  Order
	Fields []string
}
