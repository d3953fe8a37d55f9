package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/payments"
)

// OrderIDPlaceholder is replaced with the order id in redirect URL templates.
const OrderIDPlaceholder = "{orderId}"

// PaymentGateway opens hosted checkout sessions. *payments.Manager satisfies it.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// PaymentRequest binds a session to an order and its idempotency token.
type PaymentRequest struct {
	Amount         int64
	OrderID        string
	TenantID       string
	Currency       string
	IdempotencyKey string
	Mode           domain.PaymentMode
	CustomerEmail  string
}

// PaymentOrchestratorDeps bundles collaborators for the orchestrator.
type PaymentOrchestratorDeps struct {
	Gateway    PaymentGateway
	Provider   string
	SuccessURL string
	CancelURL  string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// PaymentOrchestrator opens gateway sessions for card payments.
type PaymentOrchestrator struct {
	gateway    PaymentGateway
	provider   string
	successURL string
	cancelURL  string
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentOrchestrator constructs a PaymentOrchestrator.
func NewPaymentOrchestrator(deps PaymentOrchestratorDeps) (*PaymentOrchestrator, error) {
	if deps.Gateway == nil {
		return nil, errors.New("payment orchestrator: gateway is required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.CancelURL) == "" {
		return nil, errors.New("payment orchestrator: success and cancel urls are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentOrchestrator{
		gateway:    deps.Gateway,
		provider:   strings.TrimSpace(deps.Provider),
		successURL: deps.SuccessURL,
		cancelURL:  deps.CancelURL,
		logger:     logger,
	}, nil
}

// OpenSession returns nil for non-card modes.
func (o *PaymentOrchestrator) OpenSession(ctx context.Context, req PaymentRequest) (*domain.PaymentSession, error) {
	if req.Mode != domain.PaymentModeCard {
		return nil, nil
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("payment orchestrator: amount must be positive, got %d", req.Amount)
	}

	session, err := o.gateway.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: o.provider,
		Currency:          req.Currency,
	}, payments.CheckoutSessionRequest{
		Amount:         req.Amount,
		Currency:       req.Currency,
		CustomerEmail:  req.CustomerEmail,
		SuccessURL:     expandOrderURL(o.successURL, req.OrderID),
		CancelURL:      expandOrderURL(o.cancelURL, req.OrderID),
		IdempotencyKey: gatewayIdempotencyKey(req),
		Metadata: map[string]string{
			"orderId":  req.OrderID,
			"tenantId": req.TenantID,
		},
	})
	if err != nil {
		o.logger(ctx, "payment.session.failed", map[string]any{
			"orderId": req.OrderID,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	if strings.TrimSpace(session.RedirectURL) == "" {
		return nil, fmt.Errorf("%w: session %s has no redirect url", ErrPaymentUnavailable, session.ID)
	}

	o.logger(ctx, "payment.session.opened", map[string]any{
		"orderId":   req.OrderID,
		"sessionId": session.ID,
		"provider":  session.Provider,
	})
	return &domain.PaymentSession{
		ID:         session.ID,
		Provider:   session.Provider,
		PaymentURL: session.RedirectURL,
	}, nil
}

// gatewayIdempotencyKey scopes the client token to its order so tokens reused across
// tenants never share a gateway session.
func gatewayIdempotencyKey(req PaymentRequest) string {
	if req.IdempotencyKey == "" {
		return "order-" + req.OrderID
	}
	return req.IdempotencyKey + ":" + req.OrderID
}

func expandOrderURL(template, orderID string) string {
	return strings.ReplaceAll(template, OrderIDPlaceholder, orderID)
}
