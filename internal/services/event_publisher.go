package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/platform/events"
)

// DefaultEventTopic receives lifecycle events unless configured otherwise.
const DefaultEventTopic = "orders"

// BrokerEventPublisher encodes lifecycle events and sends them keyed by order id.
type BrokerEventPublisher struct {
	broker events.Broker
	topic  string
}

// NewBrokerEventPublisher constructs a publisher for topic.
func NewBrokerEventPublisher(broker events.Broker, topic string) (*BrokerEventPublisher, error) {
	if broker == nil {
		return nil, errors.New("event publisher: broker is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultEventTopic
	}
	return &BrokerEventPublisher{broker: broker, topic: topic}, nil
}

// Publish implements EventPublisher.
func (p *BrokerEventPublisher) Publish(ctx context.Context, event LifecycleEvent) error {
	payload, err := EncodeLifecycleEvent(event)
	if err != nil {
		return err
	}
	if err := p.broker.Send(ctx, p.topic, payload, event.OrderID); err != nil {
		return fmt.Errorf("event publisher: send %s for %s: %w", event.EventType, event.OrderID, err)
	}
	return nil
}

// EncodeLifecycleEvent renders the wire payload consumed downstream.
func EncodeLifecycleEvent(event LifecycleEvent) ([]byte, error) {
	payload := lifecycleEventPayload{
		EventType:      string(event.EventType),
		OrderID:        event.OrderID,
		TenantID:       event.TenantID,
		PreviousStatus: string(event.PreviousStatus),
		Order:          NewOrderPayload(event.Order),
		OccurredAt:     event.OccurredAt.UTC(),
	}
	if c := event.Customer; c != nil {
		payload.Customer = &customerPayload{
			ID:             c.ID,
			ExternalUserID: c.ExternalUserID,
			Name:           c.Name,
			Email:          c.Email,
			Phone:          c.Phone,
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event publisher: encode: %w", err)
	}
	return data, nil
}

type lifecycleEventPayload struct {
	EventType      string           `json:"eventType"`
	OrderID        string           `json:"orderId"`
	TenantID       string           `json:"tenantId"`
	PreviousStatus string           `json:"previousStatus,omitempty"`
	Order          OrderPayload     `json:"order"`
	Customer       *customerPayload `json:"customer"`
	OccurredAt     time.Time        `json:"occurredAt"`
}

type customerPayload struct {
	ID             string `json:"id"`
	ExternalUserID string `json:"externalUserId"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
}

// OrderPayload is the JSON form of an order shared by events and the HTTP API.
type OrderPayload struct {
	ID                 string               `json:"_id"`
	TenantID           string               `json:"tenantId"`
	CustomerID         string               `json:"customerId"`
	Items              []orderItemPayload   `json:"items"`
	Pricing            []itemPricingPayload `json:"pricing"`
	Address            addressPayload       `json:"address"`
	Comment            string               `json:"comment,omitempty"`
	CouponCode         string               `json:"couponCode,omitempty"`
	Total              int64                `json:"total"`
	DiscountPercent    float64              `json:"discountPercent"`
	DiscountAmount     int64                `json:"discountAmount"`
	PriceAfterDiscount int64                `json:"priceAfterDiscount"`
	Taxes              int64                `json:"taxes"`
	DeliveryCharge     int64                `json:"deliveryCharge"`
	FinalTotal         int64                `json:"finalTotal"`
	Currency           string               `json:"currency"`
	PaymentMode        string               `json:"paymentMode"`
	PaymentStatus      string               `json:"paymentStatus"`
	PaymentSessionID   string               `json:"paymentSessionId,omitempty"`
	PaymentURL         string               `json:"paymentUrl,omitempty"`
	OrderStatus        string               `json:"orderStatus"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

type orderItemPayload struct {
	ProductID     string            `json:"productId"`
	Quantity      int64             `json:"quantity"`
	Configuration map[string]string `json:"configuration,omitempty"`
	Toppings      []toppingPayload  `json:"toppings,omitempty"`
}

type toppingPayload struct {
	ID    string `json:"id"`
	Price int64  `json:"price"`
}

type itemPricingPayload struct {
	ProductID string                  `json:"productId"`
	UnitTotal int64                   `json:"unitTotal"`
	LineTotal int64                   `json:"lineTotal"`
	Toppings  []toppingPricingPayload `json:"toppings,omitempty"`
}

type toppingPricingPayload struct {
	ToppingID string `json:"toppingId"`
	Price     int64  `json:"price"`
	Source    string `json:"source"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Landmark   string `json:"landmark,omitempty"`
}

// NewOrderPayload converts an order to its JSON form.
func NewOrderPayload(order domain.Order) OrderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		toppings := make([]toppingPayload, 0, len(item.Toppings))
		for _, t := range item.Toppings {
			toppings = append(toppings, toppingPayload{ID: t.ID, Price: t.ClientPrice})
		}
		items = append(items, orderItemPayload{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			Configuration: item.Configuration,
			Toppings:      toppings,
		})
	}
	pricing := make([]itemPricingPayload, 0, len(order.Pricing.Items))
	for _, line := range order.Pricing.Items {
		toppings := make([]toppingPricingPayload, 0, len(line.Toppings))
		for _, t := range line.Toppings {
			toppings = append(toppings, toppingPricingPayload{ToppingID: t.ToppingID, Price: t.Price, Source: string(t.Source)})
		}
		pricing = append(pricing, itemPricingPayload{
			ProductID: line.ProductID,
			UnitTotal: line.UnitTotal,
			LineTotal: line.LineTotal,
			Toppings:  toppings,
		})
	}
	return OrderPayload{
		ID:         order.ID,
		TenantID:   order.TenantID,
		CustomerID: order.CustomerID,
		Items:      items,
		Pricing:    pricing,
		Address: addressPayload{
			Line1:      order.Address.Line1,
			Line2:      order.Address.Line2,
			City:       order.Address.City,
			State:      order.Address.State,
			PostalCode: order.Address.PostalCode,
			Landmark:   order.Address.Landmark,
		},
		Comment:            order.Comment,
		CouponCode:         order.CouponCode,
		Total:              order.Totals.Total,
		DiscountPercent:    order.Totals.DiscountPercent,
		DiscountAmount:     order.Totals.DiscountAmount,
		PriceAfterDiscount: order.Totals.PriceAfterDiscount,
		Taxes:              order.Totals.Taxes,
		DeliveryCharge:     order.Totals.DeliveryCharge,
		FinalTotal:         order.Totals.FinalTotal,
		Currency:           order.Currency,
		PaymentMode:        string(order.PaymentMode),
		PaymentStatus:      string(order.PaymentStatus),
		PaymentSessionID:   order.PaymentSessionID,
		PaymentURL:         order.PaymentURL,
		OrderStatus:        string(order.OrderStatus),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
}
