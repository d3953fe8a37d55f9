package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/platform/idempotency"
	"github.com/foodcourt/orders-api/internal/platform/pagination"
	"github.com/foodcourt/orders-api/internal/platform/textutil"
	"github.com/foodcourt/orders-api/internal/repositories"
)

const (
	maxCommentLength     = 500
	maxAddressLineLength = 200
	maxCartItems         = 100
	maxCreateAttempts    = 3
	orderIDPrefix        = "ord_"
	outboxIDPrefix       = "obx_"
	fieldCustomerID      = "customerId"
)

// ProjectableOrderFields lists the order fields a caller may request on a single-order read.
var ProjectableOrderFields = []string{
	"_id",
	"tenantId",
	"customerId",
	"items",
	"pricing",
	"address",
	"comment",
	"couponCode",
	"total",
	"discountPercent",
	"discountAmount",
	"priceAfterDiscount",
	"taxes",
	"deliveryCharge",
	"finalTotal",
	"currency",
	"paymentMode",
	"paymentStatus",
	"paymentSessionId",
	"paymentUrl",
	"orderStatus",
	"createdAt",
	"updatedAt",
}

var statusRank = map[domain.OrderStatus]int{
	domain.OrderStatusReceived:       1,
	domain.OrderStatusAccepted:       2,
	domain.OrderStatusPreparing:      3,
	domain.OrderStatusReady:          4,
	domain.OrderStatusOutForDelivery: 5,
	domain.OrderStatusDelivered:      6,
	domain.OrderStatusCancelled:      7,
}

// OrderServiceDeps bundles collaborators for the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Customers   repositories.CustomerRepository
	Idempotency repositories.IdempotencyRepository
	Prices      PriceCacheReader
	Pricing     *PricingEngine
	Discounts   *DiscountResolver
	Intents     IntentDriver

	Currency       string
	IdempotencyTTL time.Duration

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	customers   repositories.CustomerRepository
	idempotency repositories.IdempotencyRepository
	prices      PriceCacheReader
	pricing     *PricingEngine
	discounts   *DiscountResolver
	intents     IntentDriver
	currency    string
	ttl         time.Duration
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires the creation and lifecycle flows.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Customers == nil:
		return nil, errors.New("order service: customer repository is required")
	case deps.Idempotency == nil:
		return nil, errors.New("order service: idempotency repository is required")
	case deps.Prices == nil:
		return nil, errors.New("order service: price cache is required")
	case deps.Pricing == nil:
		return nil, errors.New("order service: pricing engine is required")
	case deps.Discounts == nil:
		return nil, errors.New("order service: discount resolver is required")
	case deps.Intents == nil:
		return nil, errors.New("order service: intent driver is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "inr"
	}
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}

	return &orderService{
		orders:      deps.Orders,
		customers:   deps.Customers,
		idempotency: deps.Idempotency,
		prices:      deps.Prices,
		pricing:     deps.Pricing,
		discounts:   deps.Discounts,
		intents:     deps.Intents,
		currency:    currency,
		ttl:         ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// CreateOrder prices the cart and persists the order once per idempotency key.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if cmd.Actor.Role != domain.RoleCustomer {
		return CreateOrderResult{}, fmt.Errorf("%w: only customers place orders", ErrOrderForbidden)
	}
	input, err := normalizeCreate(cmd)
	if err != nil {
		return CreateOrderResult{}, err
	}

	customer, err := s.customers.FindByExternalUserID(ctx, input.Actor.TenantID, input.Actor.SubjectID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return CreateOrderResult{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, input.Actor.SubjectID)
		}
		return CreateOrderResult{}, fmt.Errorf("%w: customer lookup: %v", ErrDependencyUnavailable, err)
	}

	cart, err := s.priceCart(ctx, input.Items)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if cart.ClientPricedToppings > 0 {
		s.logger(ctx, "order.pricing.client_priced", map[string]any{
			"tenantId": input.Actor.TenantID,
			"toppings": cart.ClientPricedToppings,
		})
	}
	percent, err := s.discounts.Resolve(ctx, input.CouponCode, input.Actor.TenantID)
	if err != nil {
		return CreateOrderResult{}, err
	}
	totals, err := s.pricing.Quote(cart.Total, percent)
	if err != nil {
		return CreateOrderResult{}, err
	}

	fingerprint, err := idempotency.Fingerprint(requestFingerprint{
		TenantID:    input.Actor.TenantID,
		CustomerID:  customer.ID,
		Items:       input.Items,
		CouponCode:  input.CouponCode,
		PaymentMode: input.PaymentMode,
		Address:     input.Address,
		Comment:     input.Comment,
	})
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		now := s.clock()
		record, err := s.idempotency.Lookup(ctx, input.Actor.TenantID, input.IdempotencyKey, now)
		if err != nil {
			return CreateOrderResult{}, mapRepositoryError("idempotency.lookup", err)
		}
		if record != nil {
			return s.replay(ctx, *record, fingerprint)
		}

		creation := s.newCreation(input, customer, cart, totals, fingerprint, now)
		err = s.orders.Create(ctx, creation)
		if err == nil {
			s.logger(ctx, "order.created", map[string]any{
				"orderId":     creation.Order.ID,
				"tenantId":    creation.Order.TenantID,
				"finalTotal":  totals.FinalTotal,
				"paymentMode": string(creation.Order.PaymentMode),
			})
			return s.completeCreate(ctx, creation.Order)
		}
		if !repositories.IsAlreadyExists(err) {
			s.logger(ctx, "order.create.failed", map[string]any{"tenantId": input.Actor.TenantID, "error": err.Error()})
			return CreateOrderResult{}, fmt.Errorf("%w: create: %v", ErrOrderStoreFailure, err)
		}
		// Another request committed the key first; its record is read on the next pass.
	}
	return CreateOrderResult{}, fmt.Errorf("%w: idempotency record for %q not readable after conflict", ErrOrderStoreFailure, input.IdempotencyKey)
}

func (s *orderService) priceCart(ctx context.Context, items []domain.CartItem) (domain.CartPricing, error) {
	productIDs, toppingIDs := cartIDs(items)
	products, err := s.prices.Products(ctx, productIDs)
	if err != nil {
		return domain.CartPricing{}, fmt.Errorf("%w: price cache: %v", ErrDependencyUnavailable, err)
	}
	toppings := map[string]domain.ToppingPriceEntry{}
	if len(toppingIDs) > 0 {
		toppings, err = s.prices.Toppings(ctx, toppingIDs)
		if err != nil {
			return domain.CartPricing{}, fmt.Errorf("%w: price cache: %v", ErrDependencyUnavailable, err)
		}
	}
	return s.pricing.PriceCart(items, products, toppings)
}

func (s *orderService) newCreation(input CreateOrderCommand, customer domain.Customer, cart domain.CartPricing, totals domain.OrderTotals, fingerprint string, now time.Time) repositories.OrderCreation {
	order := domain.Order{
		ID:             orderIDPrefix + s.newID(),
		TenantID:       input.Actor.TenantID,
		CustomerID:     customer.ID,
		Items:          input.Items,
		Pricing:        cart,
		Address:        input.Address,
		Comment:        input.Comment,
		CouponCode:     input.CouponCode,
		Totals:         totals,
		Currency:       s.currency,
		PaymentMode:    input.PaymentMode,
		PaymentStatus:  domain.PaymentStatusPending,
		OrderStatus:    domain.OrderStatusReceived,
		IdempotencyKey: input.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	outbox := make([]domain.OutboxEntry, 0, 2)
	if order.PaymentMode == domain.PaymentModeCard {
		outbox = append(outbox, s.newEntry(order, domain.OutboxKindPaymentSession, "", "", "", now))
	}
	outbox = append(outbox, s.newEntry(order, domain.OutboxKindLifecycleEvent, domain.EventTypeOrderCreate, "", order.OrderStatus, now))

	return repositories.OrderCreation{
		Order:       order,
		Idempotency: idempotency.NewRecord(order.TenantID, input.IdempotencyKey, order.ID, fingerprint, now, s.ttl),
		Outbox:      outbox,
	}
}

func (s *orderService) newEntry(order domain.Order, kind domain.OutboxKind, eventType domain.EventType, previous, next domain.OrderStatus, now time.Time) domain.OutboxEntry {
	return domain.OutboxEntry{
		ID:             outboxIDPrefix + s.newID(),
		OrderID:        order.ID,
		TenantID:       order.TenantID,
		Kind:           kind,
		EventType:      eventType,
		PreviousStatus: previous,
		NewStatus:      next,
		IdempotencyKey: order.IdempotencyKey,
		Status:         domain.OutboxStatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// completeCreate drives the intents written with a new order. The order stands whatever happens here.
func (s *orderService) completeCreate(ctx context.Context, order domain.Order) (CreateOrderResult, error) {
	result := CreateOrderResult{OrderID: order.ID}
	drive, err := s.intents.DriveOrder(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "order.intents.drive.deferred", map[string]any{"orderId": order.ID, "error": err.Error()})
		if order.PaymentMode == domain.PaymentModeCard {
			return result, fmt.Errorf("%w: order %s persisted, payment pending", ErrPaymentUnavailable, order.ID)
		}
		return result, nil
	}
	s.logDeferredEvent(ctx, order.ID, drive.EventErr)

	if order.PaymentMode != domain.PaymentModeCard {
		return result, nil
	}
	if drive.PaymentErr != nil || drive.PaymentURL == "" {
		return result, paymentPendingError(order.ID, drive.PaymentErr)
	}
	url := drive.PaymentURL
	result.PaymentURL = &url
	return result, nil
}

// replay returns the outcome of the request that first used the key, driving any intents still pending.
func (s *orderService) replay(ctx context.Context, record domain.IdempotencyRecord, fingerprint string) (CreateOrderResult, error) {
	if record.Fingerprint != "" && record.Fingerprint != fingerprint {
		return CreateOrderResult{}, fmt.Errorf("%w: %s", ErrIdempotencyKeyReused, record.Key)
	}
	order, err := s.orders.FindByID(ctx, record.OrderID)
	if err != nil {
		return CreateOrderResult{}, mapRepositoryError("orders.find", err)
	}
	result := CreateOrderResult{OrderID: order.ID, Replayed: true}

	var driveErr error
	drive, err := s.intents.DriveOrder(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "order.intents.drive.deferred", map[string]any{"orderId": order.ID, "error": err.Error()})
	} else {
		s.logDeferredEvent(ctx, order.ID, drive.EventErr)
		driveErr = drive.PaymentErr
	}
	s.logger(ctx, "order.replayed", map[string]any{"orderId": order.ID, "tenantId": order.TenantID})

	if order.PaymentMode != domain.PaymentModeCard {
		return result, nil
	}
	url := firstNonEmpty(drive.PaymentURL, derefString(record.PaymentURL), order.PaymentURL)
	if url == "" {
		return result, paymentPendingError(order.ID, driveErr)
	}
	result.PaymentURL = &url
	return result, nil
}

func (s *orderService) logDeferredEvent(ctx context.Context, orderID string, err error) {
	if err == nil {
		return
	}
	s.logger(ctx, "order.event.publish.deferred", map[string]any{"orderId": orderID, "error": err.Error()})
}

func paymentPendingError(orderID string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: order %s has no payment url yet", ErrPaymentUnavailable, orderID)
	}
	if errors.Is(cause, ErrPaymentUnavailable) {
		return cause
	}
	return fmt.Errorf("%w: order %s: %v", ErrPaymentUnavailable, orderID, cause)
}

// UpdateStatus applies a forward status transition and records its lifecycle event.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (OrderRef, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderRef{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Status))))
	if _, ok := statusRank[target]; !ok {
		return OrderRef{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderRef{}, mapRepositoryError("orders.find", err)
	}
	if err := authorizeStaff(cmd.Actor, order); err != nil {
		return OrderRef{}, err
	}

	ref := OrderRef{ID: order.ID}
	if order.OrderStatus == target {
		return ref, nil
	}
	if err := checkTransition(order.OrderStatus, target); err != nil {
		return OrderRef{}, err
	}

	now := s.clock()
	entry := s.newEntry(order, domain.OutboxKindLifecycleEvent, domain.EventTypeOrderStatusUpdate, order.OrderStatus, target, now)
	if _, err := s.orders.UpdateStatus(ctx, order.ID, order.OrderStatus, target, entry, now); err != nil {
		return OrderRef{}, mapRepositoryError("orders.update_status", err)
	}
	s.logger(ctx, "order.status.updated", map[string]any{
		"orderId": order.ID,
		"from":    string(order.OrderStatus),
		"to":      string(target),
		"role":    string(cmd.Actor.Role),
	})

	drive, err := s.intents.DriveOrder(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "order.intents.drive.deferred", map[string]any{"orderId": order.ID, "error": err.Error()})
	} else {
		s.logDeferredEvent(ctx, order.ID, drive.EventErr)
	}
	return ref, nil
}

func authorizeStaff(actor Actor, order domain.Order) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleManager:
		if actor.TenantID != "" && actor.TenantID == order.TenantID {
			return nil
		}
		return fmt.Errorf("%w: order belongs to another tenant", ErrOrderForbidden)
	default:
		return fmt.Errorf("%w: role %q may not change order status", ErrOrderForbidden, actor.Role)
	}
}

func checkTransition(from, to domain.OrderStatus) error {
	if isTerminal(from) {
		return fmt.Errorf("%w: %s is terminal", ErrOrderInvalidState, from)
	}
	if to == domain.OrderStatusCancelled {
		return nil
	}
	if statusRank[to] < statusRank[from] {
		return fmt.Errorf("%w: %s cannot move back to %s", ErrOrderInvalidState, from, to)
	}
	return nil
}

func isTerminal(status domain.OrderStatus) bool {
	return status == domain.OrderStatusDelivered || status == domain.OrderStatusCancelled
}

// GetOrder returns one order visible to the actor with the requested projection.
func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string, fields []string) (OrderProjection, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderProjection{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	projection, err := normalizeProjection(fields)
	if err != nil {
		return OrderProjection{}, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderProjection{}, mapRepositoryError("orders.find", err)
	}

	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleManager:
		if actor.TenantID == "" || actor.TenantID != order.TenantID {
			return OrderProjection{}, fmt.Errorf("%w: order belongs to another tenant", ErrOrderForbidden)
		}
	case domain.RoleCustomer:
		customer, err := s.customers.FindByExternalUserID(ctx, actor.TenantID, actor.SubjectID)
		if err != nil && !repositories.IsNotFound(err) {
			return OrderProjection{}, fmt.Errorf("%w: customer lookup: %v", ErrDependencyUnavailable, err)
		}
		if err != nil || customer.ID != order.CustomerID {
			return OrderProjection{}, fmt.Errorf("%w: order belongs to another customer", ErrOrderForbidden)
		}
	default:
		return OrderProjection{}, fmt.Errorf("%w: role %q may not read orders", ErrOrderForbidden, actor.Role)
	}

	return OrderProjection{Order: order, Fields: projection}, nil
}

// normalizeProjection validates fields against ProjectableOrderFields and always adds customerId.
func normalizeProjection(fields []string) ([]string, error) {
	seen := make(map[string]struct{}, len(fields)+1)
	out := make([]string, 0, len(fields)+1)
	for _, raw := range fields {
		field := strings.TrimSpace(raw)
		if field == "" {
			continue
		}
		if !isProjectable(field) {
			return nil, fmt.Errorf("%w: field %q cannot be selected", ErrOrderInvalidInput, field)
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	if len(out) == 0 {
		return nil, nil
	}
	if _, ok := seen[fieldCustomerID]; !ok {
		out = append(out, fieldCustomerID)
	}
	return out, nil
}

func isProjectable(field string) bool {
	for _, allowed := range ProjectableOrderFields {
		if allowed == field {
			return true
		}
	}
	return false
}

// ListOrders lists orders for staff. Managers are pinned to their own tenant.
func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{
		TenantID:   strings.TrimSpace(filter.TenantID),
		Pagination: filter.Pagination,
	}
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleManager:
		if repoFilter.TenantID != "" && repoFilter.TenantID != actor.TenantID {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: managers may only list their own tenant", ErrOrderForbidden)
		}
		repoFilter.TenantID = actor.TenantID
	default:
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: role %q may not list orders", ErrOrderForbidden, actor.Role)
	}
	if filter.Status != "" {
		status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(filter.Status))))
		if _, ok := statusRank[status]; !ok {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, filter.Status)
		}
		repoFilter.Status = status
	}
	return s.list(ctx, repoFilter)
}

// ListMyOrders lists the calling customer's orders.
func (s *orderService) ListMyOrders(ctx context.Context, actor Actor, page domain.Pagination) (domain.CursorPage[Order], error) {
	if actor.Role != domain.RoleCustomer {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: only customers have their own orders", ErrOrderForbidden)
	}
	customer, err := s.customers.FindByExternalUserID(ctx, actor.TenantID, actor.SubjectID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, actor.SubjectID)
		}
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: customer lookup: %v", ErrDependencyUnavailable, err)
	}
	return s.list(ctx, repositories.OrderListFilter{
		TenantID:   actor.TenantID,
		CustomerID: customer.ID,
		Pagination: page,
	})
}

func (s *orderService) list(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	if _, err := pagination.DecodeToken(filter.Pagination.PageToken); err != nil {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	switch size := filter.Pagination.PageSize; {
	case size <= 0:
		filter.Pagination.PageSize = pagination.DefaultPageSize
	case size > pagination.DefaultMaxPageSize:
		filter.Pagination.PageSize = pagination.DefaultMaxPageSize
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError("orders.list", err)
	}
	return page, nil
}

type requestFingerprint struct {
	TenantID    string             `json:"tenantId"`
	CustomerID  string             `json:"customerId"`
	Items       []domain.CartItem  `json:"items"`
	CouponCode  string             `json:"couponCode"`
	PaymentMode domain.PaymentMode `json:"paymentMode"`
	Address     domain.Address     `json:"address"`
	Comment     string             `json:"comment"`
}

// normalizeCreate validates the command and returns a sanitised copy.
func normalizeCreate(cmd CreateOrderCommand) (CreateOrderCommand, error) {
	out := cmd
	out.Actor.TenantID = strings.TrimSpace(cmd.Actor.TenantID)
	out.Actor.SubjectID = strings.TrimSpace(cmd.Actor.SubjectID)
	if out.Actor.TenantID == "" || out.Actor.SubjectID == "" {
		return CreateOrderCommand{}, fmt.Errorf("%w: tenant and subject are required", ErrOrderForbidden)
	}

	key, err := idempotency.ValidateKey(cmd.IdempotencyKey)
	if err != nil {
		return CreateOrderCommand{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	out.IdempotencyKey = key

	switch mode := domain.PaymentMode(strings.ToUpper(strings.TrimSpace(string(cmd.PaymentMode)))); mode {
	case domain.PaymentModeCard, domain.PaymentModeCash:
		out.PaymentMode = mode
	default:
		return CreateOrderCommand{}, fmt.Errorf("%w: paymentMode must be CARD or CASH", ErrOrderInvalidInput)
	}

	if len(cmd.Items) == 0 {
		return CreateOrderCommand{}, fmt.Errorf("%w: cart must contain at least one item", ErrPricingInvalidInput)
	}
	if len(cmd.Items) > maxCartItems {
		return CreateOrderCommand{}, fmt.Errorf("%w: cart holds more than %d items", ErrOrderInvalidInput, maxCartItems)
	}
	out.Items = make([]domain.CartItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		normalized := domain.CartItem{
			ProductID:     strings.TrimSpace(item.ProductID),
			Quantity:      item.Quantity,
			Configuration: textutil.NormalizeStringMap(item.Configuration),
		}
		for _, topping := range item.Toppings {
			normalized.Toppings = append(normalized.Toppings, domain.SelectedTopping{
				ID:          strings.TrimSpace(topping.ID),
				ClientPrice: topping.ClientPrice,
			})
		}
		out.Items = append(out.Items, normalized)
	}

	out.CouponCode = textutil.FoldCode(cmd.CouponCode)
	out.Comment = textutil.StripMarkup(cmd.Comment, maxCommentLength)
	out.Address = domain.Address{
		Line1:      textutil.StripMarkup(cmd.Address.Line1, maxAddressLineLength),
		Line2:      textutil.StripMarkup(cmd.Address.Line2, maxAddressLineLength),
		City:       textutil.StripMarkup(cmd.Address.City, maxAddressLineLength),
		State:      textutil.StripMarkup(cmd.Address.State, maxAddressLineLength),
		PostalCode: textutil.StripMarkup(cmd.Address.PostalCode, 20),
		Landmark:   textutil.StripMarkup(cmd.Address.Landmark, maxAddressLineLength),
	}
	if out.Address.Line1 == "" || out.Address.City == "" {
		return CreateOrderCommand{}, fmt.Errorf("%w: address line1 and city are required", ErrOrderInvalidInput)
	}
	return out, nil
}

// cartIDs returns the distinct product and topping ids of a cart in sorted order.
func cartIDs(items []domain.CartItem) ([]string, []string) {
	products := map[string]struct{}{}
	toppings := map[string]struct{}{}
	for _, item := range items {
		if item.ProductID != "" {
			products[item.ProductID] = struct{}{}
		}
		for _, t := range item.Toppings {
			if t.ID != "" {
				toppings[t.ID] = struct{}{}
			}
		}
	}
	return sortedKeys(products), sortedKeys(toppings)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
