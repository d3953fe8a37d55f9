package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role identifies the authority level of a caller.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// Actor is the explicit authorisation context handed to every service operation.
type Actor struct {
	Role      Role
	TenantID  string
	SubjectID string
}

// OrderStatus tracks the kitchen/delivery progression of an order.
type OrderStatus string

const (
	OrderStatusReceived       OrderStatus = "RECEIVED"
	OrderStatusAccepted       OrderStatus = "ACCEPTED"
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusReady          OrderStatus = "READY"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// PaymentStatus tracks settlement of an order.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// PaymentMode selects how the customer settles the order.
type PaymentMode string

const (
	PaymentModeCard PaymentMode = "CARD"
	PaymentModeCash PaymentMode = "CASH"
)

// PriceSource records which trust tier produced a price.
type PriceSource string

const (
	// PriceSourceCached marks prices read from the authoritative price cache.
	PriceSourceCached PriceSource = "CACHED"
	// PriceSourceClient marks prices taken from the request because the cache had no entry.
	PriceSourceClient PriceSource = "CLIENT"
)

// SelectedTopping is a topping chosen for a cart item with the price the client displayed.
type SelectedTopping struct {
	ID          string
	ClientPrice int64
}

// CartItem is one line of the submitted cart.
type CartItem struct {
	ProductID     string
	Quantity      int64
	Configuration map[string]string
	Toppings      []SelectedTopping
}

// ProductPriceEntry holds cached option prices keyed by configuration dimension then option.
type ProductPriceEntry struct {
	ProductID      string
	Configurations map[string]map[string]int64
}

// ToppingPriceEntry holds the cached authoritative price for a topping.
type ToppingPriceEntry struct {
	ToppingID string
	Price     int64
}

// ToppingPricing is the priced outcome for a single topping on a line.
type ToppingPricing struct {
	ToppingID string
	Price     int64
	Source    PriceSource
}

// ItemPricing is the priced outcome for a single cart line.
type ItemPricing struct {
	ProductID          string
	Quantity           int64
	ConfigurationTotal int64
	ToppingsTotal      int64
	UnitTotal          int64
	LineTotal          int64
	Toppings           []ToppingPricing
}

// CartPricing aggregates line results and the cart total.
type CartPricing struct {
	Items []ItemPricing
	Total int64
	// ClientPricedToppings counts toppings priced from the request rather than the cache.
	ClientPricedToppings int
}

// OrderTotals captures the computed monetary fields of an order.
type OrderTotals struct {
	Total              int64
	DiscountPercent    float64
	DiscountAmount     int64
	PriceAfterDiscount int64
	Taxes              int64
	DeliveryCharge     int64
	FinalTotal         int64
}

// Address is the delivery destination of an order.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Landmark   string
}

// Coupon is a tenant-scoped discount code.
type Coupon struct {
	Code            string
	TenantID        string
	DiscountPercent float64
	ValidUntil      time.Time
}

// Customer is the profile joined into lifecycle events.
type Customer struct {
	ID             string
	ExternalUserID string
	TenantID       string
	Name           string
	Email          string
	Phone          string
}

// Order is the persisted order document.
type Order struct {
	ID               string
	TenantID         string
	CustomerID       string
	Items            []CartItem
	Pricing          CartPricing
	Address          Address
	Comment          string
	CouponCode       string
	Totals           OrderTotals
	Currency         string
	PaymentMode      PaymentMode
	PaymentStatus    PaymentStatus
	PaymentSessionID string
	PaymentURL       string
	OrderStatus      OrderStatus
	IdempotencyKey   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IdempotencyRecord maps a client token to the outcome of the first creation.
type IdempotencyRecord struct {
	Key         string
	TenantID    string
	OrderID     string
	Fingerprint string
	PaymentURL  *string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// EventType distinguishes lifecycle events.
type EventType string

const (
	EventTypeOrderCreate       EventType = "ORDER_CREATE"
	EventTypeOrderStatusUpdate EventType = "ORDER_STATUS_UPDATE"
)

// LifecycleEvent is the payload published for downstream consumers.
type LifecycleEvent struct {
	EventType      EventType
	OrderID        string
	TenantID       string
	PreviousStatus OrderStatus
	Order          Order
	Customer       *Customer
	OccurredAt     time.Time
}

// OutboxKind identifies the side effect an outbox entry drives.
type OutboxKind string

const (
	OutboxKindPaymentSession OutboxKind = "PAYMENT_SESSION"
	OutboxKindLifecycleEvent OutboxKind = "LIFECYCLE_EVENT"
)

// OutboxStatus tracks progress of an outbox entry.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusDone    OutboxStatus = "DONE"
	OutboxStatusDead    OutboxStatus = "DEAD"
)

// OutboxEntry is a side-effect intent persisted atomically with the order mutation that caused it.
type OutboxEntry struct {
	ID             string
	OrderID        string
	TenantID       string
	Kind           OutboxKind
	EventType      EventType
	PreviousStatus OrderStatus
	// NewStatus is the order status the event reports, fixed when the entry is written.
	NewStatus      OrderStatus
	IdempotencyKey string
	Status         OutboxStatus
	Attempts       int
	NextAttemptAt  time.Time
	LeaseUntil     time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PaymentSession is the gateway session opened for card payments.
type PaymentSession struct {
	ID         string
	Provider   string
	PaymentURL string
}

// HealthStatus describes the status of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probe outcomes.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
