package repositories

import (
	"context"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Coupons() CouponRepository
	Customers() CustomerRepository
	Idempotency() IdempotencyRepository
	Outbox() OutboxRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderCreation is everything the create transaction writes.
type OrderCreation struct {
	Order       domain.Order
	Idempotency domain.IdempotencyRecord
	Outbox      []domain.OutboxEntry
}

// OrderListFilter narrows order listings. Empty fields do not filter.
type OrderListFilter struct {
	TenantID   string
	CustomerID string
	Status     domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists orders.
type OrderRepository interface {
	// Create writes the order, its idempotency record and outbox entries in one transaction.
	// A taken idempotency key fails with an error whose IsAlreadyExists reports true.
	Create(ctx context.Context, creation OrderCreation) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateStatus moves the order from one status to another and appends entry atomically.
	// It fails with a conflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, entry domain.OutboxEntry, now time.Time) (domain.Order, error)
	// AttachPaymentSession stores the session on the order and the URL on its idempotency record.
	AttachPaymentSession(ctx context.Context, orderID string, session domain.PaymentSession, now time.Time) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// CouponRepository reads tenant-scoped coupons.
type CouponRepository interface {
	FindByCode(ctx context.Context, tenantID, code string) (domain.Coupon, error)
}

// CustomerRepository reads customer profiles.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByExternalUserID(ctx context.Context, tenantID, externalUserID string) (domain.Customer, error)
}

// IdempotencyRepository reads and expires records. Creation happens in OrderRepository.Create.
type IdempotencyRepository interface {
	Lookup(ctx context.Context, tenantID, key string, now time.Time) (*domain.IdempotencyRecord, error)
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// OutboxFailure records a failed delivery attempt.
type OutboxFailure struct {
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	Dead          bool
}

// OutboxRepository leases and settles side-effect intents.
type OutboxRepository interface {
	// ClaimDue leases up to limit pending entries whose next attempt is due and whose lease has lapsed.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxEntry, error)
	// ClaimForOrder leases the pending, unleased entries of one order.
	ClaimForOrder(ctx context.Context, orderID string, now time.Time, lease time.Duration) ([]domain.OutboxEntry, error)
	MarkDone(ctx context.Context, entryID string, now time.Time) error
	MarkFailed(ctx context.Context, entryID string, failure OutboxFailure, now time.Time) error
}

// HealthRepository reports dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
