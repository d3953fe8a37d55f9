package firestore

import (
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
)

type toppingDocument struct {
	ID          string `firestore:"id"`
	ClientPrice int64  `firestore:"clientPrice"`
}

type itemDocument struct {
	ProductID     string            `firestore:"productId"`
	Quantity      int64             `firestore:"quantity"`
	Configuration map[string]string `firestore:"configuration"`
	Toppings      []toppingDocument `firestore:"toppings"`
}

type toppingPricingDocument struct {
	ToppingID string `firestore:"toppingId"`
	Price     int64  `firestore:"price"`
	Source    string `firestore:"source"`
}

type itemPricingDocument struct {
	ProductID          string                   `firestore:"productId"`
	Quantity           int64                    `firestore:"quantity"`
	ConfigurationTotal int64                    `firestore:"configurationTotal"`
	ToppingsTotal      int64                    `firestore:"toppingsTotal"`
	UnitTotal          int64                    `firestore:"unitTotal"`
	LineTotal          int64                    `firestore:"lineTotal"`
	Toppings           []toppingPricingDocument `firestore:"toppings"`
}

type pricingDocument struct {
	Items                []itemPricingDocument `firestore:"items"`
	Total                int64                 `firestore:"total"`
	ClientPricedToppings int                   `firestore:"clientPricedToppings"`
}

type totalsDocument struct {
	Total              int64   `firestore:"total"`
	DiscountPercent    float64 `firestore:"discountPercent"`
	DiscountAmount     int64   `firestore:"discountAmount"`
	PriceAfterDiscount int64   `firestore:"priceAfterDiscount"`
	Taxes              int64   `firestore:"taxes"`
	DeliveryCharge     int64   `firestore:"deliveryCharge"`
	FinalTotal         int64   `firestore:"finalTotal"`
}

type addressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Landmark   string `firestore:"landmark,omitempty"`
}

type orderDocument struct {
	ID               string          `firestore:"id"`
	TenantID         string          `firestore:"tenantId"`
	CustomerID       string          `firestore:"customerId"`
	Items            []itemDocument  `firestore:"items"`
	Pricing          pricingDocument `firestore:"pricing"`
	Address          addressDocument `firestore:"address"`
	Comment          string          `firestore:"comment,omitempty"`
	CouponCode       string          `firestore:"couponCode,omitempty"`
	Totals           totalsDocument  `firestore:"totals"`
	Currency         string          `firestore:"currency"`
	PaymentMode      string          `firestore:"paymentMode"`
	PaymentStatus    string          `firestore:"paymentStatus"`
	PaymentSessionID string          `firestore:"paymentSessionId,omitempty"`
	PaymentURL       string          `firestore:"paymentUrl,omitempty"`
	OrderStatus      string          `firestore:"orderStatus"`
	IdempotencyKey   string          `firestore:"idempotencyKey"`
	CreatedAt        time.Time       `firestore:"createdAt"`
	UpdatedAt        time.Time       `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]itemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		toppings := make([]toppingDocument, 0, len(item.Toppings))
		for _, t := range item.Toppings {
			toppings = append(toppings, toppingDocument{ID: t.ID, ClientPrice: t.ClientPrice})
		}
		items = append(items, itemDocument{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			Configuration: item.Configuration,
			Toppings:      toppings,
		})
	}

	pricing := pricingDocument{
		Items:                make([]itemPricingDocument, 0, len(order.Pricing.Items)),
		Total:                order.Pricing.Total,
		ClientPricedToppings: order.Pricing.ClientPricedToppings,
	}
	for _, line := range order.Pricing.Items {
		toppings := make([]toppingPricingDocument, 0, len(line.Toppings))
		for _, t := range line.Toppings {
			toppings = append(toppings, toppingPricingDocument{ToppingID: t.ToppingID, Price: t.Price, Source: string(t.Source)})
		}
		pricing.Items = append(pricing.Items, itemPricingDocument{
			ProductID:          line.ProductID,
			Quantity:           line.Quantity,
			ConfigurationTotal: line.ConfigurationTotal,
			ToppingsTotal:      line.ToppingsTotal,
			UnitTotal:          line.UnitTotal,
			LineTotal:          line.LineTotal,
			Toppings:           toppings,
		})
	}

	return orderDocument{
		ID:         order.ID,
		TenantID:   order.TenantID,
		CustomerID: order.CustomerID,
		Items:      items,
		Pricing:    pricing,
		Address: addressDocument{
			Line1:      order.Address.Line1,
			Line2:      order.Address.Line2,
			City:       order.Address.City,
			State:      order.Address.State,
			PostalCode: order.Address.PostalCode,
			Landmark:   order.Address.Landmark,
		},
		Comment:    order.Comment,
		CouponCode: order.CouponCode,
		Totals: totalsDocument{
			Total:              order.Totals.Total,
			DiscountPercent:    order.Totals.DiscountPercent,
			DiscountAmount:     order.Totals.DiscountAmount,
			PriceAfterDiscount: order.Totals.PriceAfterDiscount,
			Taxes:              order.Totals.Taxes,
			DeliveryCharge:     order.Totals.DeliveryCharge,
			FinalTotal:         order.Totals.FinalTotal,
		},
		Currency:         order.Currency,
		PaymentMode:      string(order.PaymentMode),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentSessionID: order.PaymentSessionID,
		PaymentURL:       order.PaymentURL,
		OrderStatus:      string(order.OrderStatus),
		IdempotencyKey:   order.IdempotencyKey,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain() domain.Order {
	items := make([]domain.CartItem, 0, len(d.Items))
	for _, item := range d.Items {
		toppings := make([]domain.SelectedTopping, 0, len(item.Toppings))
		for _, t := range item.Toppings {
			toppings = append(toppings, domain.SelectedTopping{ID: t.ID, ClientPrice: t.ClientPrice})
		}
		items = append(items, domain.CartItem{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			Configuration: item.Configuration,
			Toppings:      toppings,
		})
	}

	pricing := domain.CartPricing{
		Items:                make([]domain.ItemPricing, 0, len(d.Pricing.Items)),
		Total:                d.Pricing.Total,
		ClientPricedToppings: d.Pricing.ClientPricedToppings,
	}
	for _, line := range d.Pricing.Items {
		toppings := make([]domain.ToppingPricing, 0, len(line.Toppings))
		for _, t := range line.Toppings {
			toppings = append(toppings, domain.ToppingPricing{ToppingID: t.ToppingID, Price: t.Price, Source: domain.PriceSource(t.Source)})
		}
		pricing.Items = append(pricing.Items, domain.ItemPricing{
			ProductID:          line.ProductID,
			Quantity:           line.Quantity,
			ConfigurationTotal: line.ConfigurationTotal,
			ToppingsTotal:      line.ToppingsTotal,
			UnitTotal:          line.UnitTotal,
			LineTotal:          line.LineTotal,
			Toppings:           toppings,
		})
	}

	return domain.Order{
		ID:         d.ID,
		TenantID:   d.TenantID,
		CustomerID: d.CustomerID,
		Items:      items,
		Pricing:    pricing,
		Address: domain.Address{
			Line1:      d.Address.Line1,
			Line2:      d.Address.Line2,
			City:       d.Address.City,
			State:      d.Address.State,
			PostalCode: d.Address.PostalCode,
			Landmark:   d.Address.Landmark,
		},
		Comment:    d.Comment,
		CouponCode: d.CouponCode,
		Totals: domain.OrderTotals{
			Total:              d.Totals.Total,
			DiscountPercent:    d.Totals.DiscountPercent,
			DiscountAmount:     d.Totals.DiscountAmount,
			PriceAfterDiscount: d.Totals.PriceAfterDiscount,
			Taxes:              d.Totals.Taxes,
			DeliveryCharge:     d.Totals.DeliveryCharge,
			FinalTotal:         d.Totals.FinalTotal,
		},
		Currency:         d.Currency,
		PaymentMode:      domain.PaymentMode(d.PaymentMode),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		PaymentSessionID: d.PaymentSessionID,
		PaymentURL:       d.PaymentURL,
		OrderStatus:      domain.OrderStatus(d.OrderStatus),
		IdempotencyKey:   d.IdempotencyKey,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

type outboxDocument struct {
	ID             string    `firestore:"id"`
	OrderID        string    `firestore:"orderId"`
	TenantID       string    `firestore:"tenantId"`
	Kind           string    `firestore:"kind"`
	EventType      string    `firestore:"eventType,omitempty"`
	PreviousStatus string    `firestore:"previousStatus,omitempty"`
	NewStatus      string    `firestore:"newStatus,omitempty"`
	IdempotencyKey string    `firestore:"idempotencyKey,omitempty"`
	Status         string    `firestore:"status"`
	Attempts       int       `firestore:"attempts"`
	NextAttemptAt  time.Time `firestore:"nextAttemptAt"`
	LeaseUntil     time.Time `firestore:"leaseUntil"`
	LastError      string    `firestore:"lastError,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func newOutboxDocument(entry domain.OutboxEntry) outboxDocument {
	return outboxDocument{
		ID:             entry.ID,
		OrderID:        entry.OrderID,
		TenantID:       entry.TenantID,
		Kind:           string(entry.Kind),
		EventType:      string(entry.EventType),
		PreviousStatus: string(entry.PreviousStatus),
		NewStatus:      string(entry.NewStatus),
		IdempotencyKey: entry.IdempotencyKey,
		Status:         string(entry.Status),
		Attempts:       entry.Attempts,
		NextAttemptAt:  entry.NextAttemptAt.UTC(),
		LeaseUntil:     entry.LeaseUntil.UTC(),
		LastError:      entry.LastError,
		CreatedAt:      entry.CreatedAt.UTC(),
		UpdatedAt:      entry.UpdatedAt.UTC(),
	}
}

func (d outboxDocument) toDomain() domain.OutboxEntry {
	return domain.OutboxEntry{
		ID:             d.ID,
		OrderID:        d.OrderID,
		TenantID:       d.TenantID,
		Kind:           domain.OutboxKind(d.Kind),
		EventType:      domain.EventType(d.EventType),
		PreviousStatus: domain.OrderStatus(d.PreviousStatus),
		NewStatus:      domain.OrderStatus(d.NewStatus),
		IdempotencyKey: d.IdempotencyKey,
		Status:         domain.OutboxStatus(d.Status),
		Attempts:       d.Attempts,
		NextAttemptAt:  d.NextAttemptAt.UTC(),
		LeaseUntil:     d.LeaseUntil.UTC(),
		LastError:      d.LastError,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

type couponDocument struct {
	Code            string    `firestore:"code"`
	TenantID        string    `firestore:"tenantId"`
	DiscountPercent float64   `firestore:"discountPercent"`
	ValidUntil      time.Time `firestore:"validUntil"`
}

type customerDocument struct {
	ID             string `firestore:"id"`
	ExternalUserID string `firestore:"externalUserId"`
	TenantID       string `firestore:"tenantId"`
	Name           string `firestore:"name"`
	Email          string `firestore:"email"`
	Phone          string `firestore:"phone"`
}
