package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/platform/auth"
	"github.com/foodcourt/orders-api/internal/platform/httpx"
	"github.com/foodcourt/orders-api/internal/platform/idempotency"
	"github.com/foodcourt/orders-api/internal/platform/pagination"
	"github.com/foodcourt/orders-api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
	maxStatusBodySize    = 1024
)

type createOrderRequest struct {
	Items       []cartItemRequest `json:"items"`
	CouponCode  string            `json:"couponCode"`
	PaymentMode string            `json:"paymentMode"`
	Address     addressRequest    `json:"address"`
	Comment     string            `json:"comment"`
}

type cartItemRequest struct {
	ProductID     string            `json:"productId"`
	Quantity      int64             `json:"quantity"`
	Configuration map[string]string `json:"configuration"`
	Toppings      []toppingRequest  `json:"toppings"`
}

type toppingRequest struct {
	ID    string `json:"id"`
	Price int64  `json:"price"`
}

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Landmark   string `json:"landmark"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type createOrderResponse struct {
	PaymentURL *string `json:"paymentUrl"`
}

type orderRefResponse struct {
	ID string `json:"_id"`
}

type orderListResponse struct {
	Items         []services.OrderPayload `json:"items"`
	NextPageToken string                  `json:"nextPageToken,omitempty"`
}

// OrderHandlers exposes order placement, status changes and reads.
type OrderHandlers struct {
	authn             *auth.Authenticator
	orders            services.OrderService
	idempotencyHeader string
	createLimiter     rateLimiter
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithIdempotencyHeader overrides the header carrying the client token.
func WithIdempotencyHeader(name string) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.idempotencyHeader = name
		}
	}
}

// WithCreateRateLimit caps order placement per caller. A non-positive perMinute disables the cap.
func WithCreateRateLimit(perMinute, burst int) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.createLimiter = newKeyedRateLimiter(perMinute, burst, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:             authn,
		orders:            orders,
		idempotencyHeader: idempotency.DefaultHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth(auth.RoleCustomer))
		}
		r.With(
			limitByIdentity(h.createLimiter),
			idempotency.RequireKey(idempotency.WithHeader(h.idempotencyHeader)),
		).Post("/", h.createOrder)
		r.Get("/mine", h.listMyOrders)
	})
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth(auth.RoleManager, auth.RoleAdmin))
		}
		r.Get("/", h.listOrders)
		r.Patch("/{orderID}/status", h.updateStatus)
	})
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth())
		}
		r.Get("/{orderID}", h.getOrder)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	key, ok := idempotency.KeyFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+h.idempotencyHeader+" header", http.StatusBadRequest))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		Actor:          identity.Actor(),
		IdempotencyKey: key,
		CouponCode:     req.CouponCode,
		PaymentMode:    domain.PaymentMode(req.PaymentMode),
		Address: services.Address{
			Line1:      req.Address.Line1,
			Line2:      req.Address.Line2,
			City:       req.Address.City,
			State:      req.Address.State,
			PostalCode: req.Address.PostalCode,
			Landmark:   req.Address.Landmark,
		},
		Comment: req.Comment,
		Items:   make([]services.CartItem, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		line := services.CartItem{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			Configuration: item.Configuration,
		}
		for _, topping := range item.Toppings {
			line.Toppings = append(line.Toppings, domain.SelectedTopping{ID: topping.ID, ClientPrice: topping.Price})
		}
		cmd.Items = append(cmd.Items, line)
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		if errors.Is(err, services.ErrPaymentUnavailable) && result.OrderID != "" {
			httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment could not be started; retry with the same idempotency key", http.StatusBadGateway).
				WithDetails(map[string]any{"orderId": result.OrderID}))
			return
		}
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", orderLocation(r, result.OrderID))
	status := http.StatusCreated
	if result.Replayed {
		w.Header().Set(idempotency.ReplayHeader, "true")
		status = http.StatusOK
	}
	writeJSONResponse(w, status, createOrderResponse{PaymentURL: result.PaymentURL})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !decodeJSONBody(w, r, maxStatusBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	ref, err := h.orders.UpdateStatus(ctx, services.UpdateStatusCommand{
		Actor:   identity.Actor(),
		OrderID: chi.URLParam(r, "orderID"),
		Status:  domain.OrderStatus(req.Status),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderRefResponse{ID: ref.ID})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var fields []string
	if raw := strings.TrimSpace(r.URL.Query().Get("fields")); raw != "" {
		fields = strings.Split(raw, ",")
	}

	projection, err := h.orders.GetOrder(ctx, identity.Actor(), chi.URLParam(r, "orderID"), fields)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := services.NewOrderPayload(projection.Order)
	if len(projection.Fields) == 0 {
		writeJSONResponse(w, http.StatusOK, payload)
		return
	}
	projected, err := projectPayload(payload, projection.Fields)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, projected)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	params, ok := parseListParams(w, r, map[string][]string{"status": nil, "tenant_id": nil})
	if !ok {
		return
	}
	page, err := h.orders.ListOrders(ctx, identity.Actor(), services.OrderListFilter{
		TenantID: params.Filters["tenant_id"],
		Status:   domain.OrderStatus(params.Filters["status"]),
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	params, ok := parseListParams(w, r, nil)
	if !ok {
		return
	}
	page, err := h.orders.ListMyOrders(ctx, identity.Actor(), domain.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *OrderHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseListParams(w http.ResponseWriter, r *http.Request, filters map[string][]string) (pagination.Params, bool) {
	params, err := pagination.Parse(r.URL.Query(), pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
		Filters:         filters,
	})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return pagination.Params{}, false
	}
	return params, true
}

func buildOrderList(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]services.OrderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, services.NewOrderPayload(order))
	}
	return orderListResponse{Items: items, NextPageToken: strings.TrimSpace(page.NextPageToken)}
}

// projectPayload keeps only the named top-level JSON fields.
func projectPayload(payload services.OrderPayload, fields []string) (map[string]json.RawMessage, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &all); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	out := make(map[string]json.RawMessage, len(fields))
	for _, field := range fields {
		if value, ok := all[field]; ok {
			out[field] = value
		}
	}
	return out, nil
}

func orderLocation(r *http.Request, orderID string) string {
	base := strings.TrimSuffix(r.URL.Path, "/")
	return base + "/" + orderID
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingInconsistent):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_inconsistent", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrIdempotencyKeyReused):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was already used for a different request", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer profile not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment could not be started; retry with the same idempotency key", http.StatusBadGateway))
	case errors.Is(err, services.ErrDependencyUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", "a required dependency is unavailable; retry later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
