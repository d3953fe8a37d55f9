// Package memory provides process-local repositories for local runs and service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/platform/idempotency"
	"github.com/foodcourt/orders-api/internal/platform/pagination"
	"github.com/foodcourt/orders-api/internal/repositories"
)

// Registry holds every in-memory repository behind one lock so multi-record writes are atomic.
type Registry struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	outbox    map[string]domain.OutboxEntry
	coupons   map[string]domain.Coupon
	customers map[string]domain.Customer
	store     *idempotency.MemoryStore
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty registry. health may be nil.
func NewRegistry(health repositories.HealthRepository) *Registry {
	return &Registry{
		orders:    make(map[string]domain.Order),
		outbox:    make(map[string]domain.OutboxEntry),
		coupons:   make(map[string]domain.Coupon),
		customers: make(map[string]domain.Customer),
		store:     idempotency.NewMemoryStore(),
		health:    health,
	}
}

// PutCoupon seeds a coupon. The code must already be normalised.
func (r *Registry) PutCoupon(coupon domain.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[coupon.TenantID+":"+coupon.Code] = coupon
}

// PutCustomer seeds a customer profile.
func (r *Registry) PutCustomer(customer domain.Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[customer.ID] = customer
}

// OutboxEntries returns a snapshot of every entry for order, oldest first.
func (r *Registry) OutboxEntries(orderID string) []domain.OutboxEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OutboxEntry, 0)
	for _, entry := range r.outbox {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Orders() repositories.OrderRepository            { return orderRepo{r} }
func (r *Registry) Coupons() repositories.CouponRepository          { return couponRepo{r} }
func (r *Registry) Customers() repositories.CustomerRepository      { return customerRepo{r} }
func (r *Registry) Idempotency() repositories.IdempotencyRepository { return r.store }
func (r *Registry) Outbox() repositories.OutboxRepository           { return outboxRepo{r} }
func (r *Registry) Health() repositories.HealthRepository           { return r.health }

type orderRepo struct{ r *Registry }

func (o orderRepo) Create(ctx context.Context, creation repositories.OrderCreation) error {
	r := o.r
	r.mu.Lock()
	defer r.mu.Unlock()

	order := creation.Order
	if _, ok := r.orders[order.ID]; ok {
		return repositories.NewStoreError("orders.create", repositories.ErrorAlreadyExists,
			fmt.Errorf("order %s already exists", order.ID))
	}
	for _, entry := range creation.Outbox {
		if _, ok := r.outbox[entry.ID]; ok {
			return repositories.NewStoreError("orders.create", repositories.ErrorAlreadyExists,
				fmt.Errorf("outbox entry %s already exists", entry.ID))
		}
	}
	// The key is claimed last among the checks so a failure above leaves no record.
	if err := r.store.Insert(ctx, creation.Idempotency, creation.Idempotency.CreatedAt); err != nil {
		return err
	}
	r.orders[order.ID] = cloneOrder(order)
	for _, entry := range creation.Outbox {
		r.outbox[entry.ID] = entry
	}
	return nil
}

func (o orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	order, ok := o.r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find", "order", orderID)
	}
	return cloneOrder(order), nil
}

func (o orderRepo) UpdateStatus(_ context.Context, orderID string, from, to domain.OrderStatus, entry domain.OutboxEntry, now time.Time) (domain.Order, error) {
	r := o.r
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.update_status", "order", orderID)
	}
	if order.OrderStatus != from {
		return domain.Order{}, repositories.NewStoreError("orders.update_status", repositories.ErrorConflict,
			fmt.Errorf("order %s is %s, expected %s", orderID, order.OrderStatus, from))
	}
	if _, ok := r.outbox[entry.ID]; ok {
		return domain.Order{}, repositories.NewStoreError("orders.update_status", repositories.ErrorAlreadyExists,
			fmt.Errorf("outbox entry %s already exists", entry.ID))
	}
	order.OrderStatus = to
	order.UpdatedAt = now.UTC()
	r.orders[orderID] = order
	r.outbox[entry.ID] = entry
	return cloneOrder(order), nil
}

func (o orderRepo) AttachPaymentSession(ctx context.Context, orderID string, session domain.PaymentSession, now time.Time) (domain.Order, error) {
	r := o.r
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.attach_payment", "order", orderID)
	}
	order.PaymentSessionID = session.ID
	order.PaymentURL = session.PaymentURL
	order.UpdatedAt = now.UTC()
	r.orders[orderID] = order
	if order.IdempotencyKey != "" {
		if err := r.store.SetPaymentURL(ctx, order.TenantID, order.IdempotencyKey, session.PaymentURL); err != nil {
			return domain.Order{}, err
		}
	}
	return cloneOrder(order), nil
}

func (o orderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	var cursor pagination.Cursor
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		cursor = decoded
	}

	o.r.mu.Lock()
	matched := make([]domain.Order, 0)
	for _, order := range o.r.orders {
		if filter.TenantID != "" && order.TenantID != filter.TenantID {
			continue
		}
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.OrderStatus != filter.Status {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	o.r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return newerThan(matched[i], matched[j].CreatedAt, matched[j].ID) })

	start := 0
	if !cursor.IsZero() {
		start = len(matched)
		for i, order := range matched {
			atCursor := order.ID == cursor.LastID && order.CreatedAt.Equal(cursor.LastCreatedAt)
			if !atCursor && !newerThan(order, cursor.LastCreatedAt, cursor.LastID) {
				start = i
				break
			}
		}
	}
	matched = matched[start:]

	page := domain.CursorPage[domain.Order]{}
	if len(matched) > limit {
		matched = matched[:limit]
		last := matched[len(matched)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{LastCreatedAt: last.CreatedAt, LastID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	page.Items = matched
	return page, nil
}

// newerThan orders by createdAt then id, both descending, and reports whether order sorts
// before the (createdAt, id) position.
func newerThan(order domain.Order, createdAt time.Time, id string) bool {
	if order.CreatedAt.Equal(createdAt) {
		return order.ID > id
	}
	return order.CreatedAt.After(createdAt)
}

type couponRepo struct{ r *Registry }

func (c couponRepo) FindByCode(_ context.Context, tenantID, code string) (domain.Coupon, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	coupon, ok := c.r.coupons[tenantID+":"+code]
	if !ok {
		return domain.Coupon{}, notFound("coupons.find", "coupon", code)
	}
	return coupon, nil
}

type customerRepo struct{ r *Registry }

func (c customerRepo) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	customer, ok := c.r.customers[customerID]
	if !ok {
		return domain.Customer{}, notFound("customers.find", "customer", customerID)
	}
	return customer, nil
}

func (c customerRepo) FindByExternalUserID(_ context.Context, tenantID, externalUserID string) (domain.Customer, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	for _, customer := range c.r.customers {
		if customer.TenantID == tenantID && customer.ExternalUserID == externalUserID {
			return customer, nil
		}
	}
	return domain.Customer{}, notFound("customers.find_by_external_user", "customer", externalUserID)
}

type outboxRepo struct{ r *Registry }

func (o outboxRepo) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxEntry, error) {
	now = now.UTC()
	o.r.mu.Lock()
	defer o.r.mu.Unlock()

	due := make([]domain.OutboxEntry, 0)
	for _, entry := range o.r.outbox {
		if claimable(entry, now) && !entry.NextAttemptAt.After(now) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return o.lease(due, now, lease), nil
}

func (o outboxRepo) ClaimForOrder(_ context.Context, orderID string, now time.Time, lease time.Duration) ([]domain.OutboxEntry, error) {
	now = now.UTC()
	o.r.mu.Lock()
	defer o.r.mu.Unlock()

	pending := make([]domain.OutboxEntry, 0)
	for _, entry := range o.r.outbox {
		if entry.OrderID == orderID && claimable(entry, now) {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return o.lease(pending, now, lease), nil
}

func (o outboxRepo) lease(entries []domain.OutboxEntry, now time.Time, lease time.Duration) []domain.OutboxEntry {
	for i := range entries {
		entries[i].LeaseUntil = now.Add(lease)
		entries[i].UpdatedAt = now
		o.r.outbox[entries[i].ID] = entries[i]
	}
	return entries
}

func claimable(entry domain.OutboxEntry, now time.Time) bool {
	return entry.Status == domain.OutboxStatusPending && !entry.LeaseUntil.After(now)
}

func (o outboxRepo) MarkDone(_ context.Context, entryID string, now time.Time) error {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	entry, ok := o.r.outbox[entryID]
	if !ok {
		return notFound("outbox.mark_done", "outbox entry", entryID)
	}
	entry.Status = domain.OutboxStatusDone
	entry.LeaseUntil = time.Time{}
	entry.LastError = ""
	entry.UpdatedAt = now.UTC()
	o.r.outbox[entryID] = entry
	return nil
}

func (o outboxRepo) MarkFailed(_ context.Context, entryID string, failure repositories.OutboxFailure, now time.Time) error {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	entry, ok := o.r.outbox[entryID]
	if !ok {
		return notFound("outbox.mark_failed", "outbox entry", entryID)
	}
	entry.Attempts = failure.Attempts
	entry.NextAttemptAt = failure.NextAttemptAt.UTC()
	entry.LastError = failure.LastError
	entry.LeaseUntil = time.Time{}
	entry.UpdatedAt = now.UTC()
	if failure.Dead {
		entry.Status = domain.OutboxStatusDead
	}
	o.r.outbox[entryID] = entry
	return nil
}

func notFound(op, kind, id string) error {
	return repositories.NewStoreError(op, repositories.ErrorNotFound, fmt.Errorf("%s %s not found", kind, id))
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Items = make([]domain.CartItem, len(order.Items))
	for i, item := range order.Items {
		copied := item
		if item.Configuration != nil {
			copied.Configuration = make(map[string]string, len(item.Configuration))
			for k, v := range item.Configuration {
				copied.Configuration[k] = v
			}
		}
		copied.Toppings = append([]domain.SelectedTopping(nil), item.Toppings...)
		out.Items[i] = copied
	}
	out.Pricing.Items = append([]domain.ItemPricing(nil), order.Pricing.Items...)
	return out
}
