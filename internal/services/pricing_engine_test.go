package services

import (
	"errors"
	"math"
	"testing"

	"github.com/foodcourt/orders-api/internal/domain"
)

func testCatalog() (map[string]domain.ProductPriceEntry, map[string]domain.ToppingPriceEntry) {
	products := map[string]domain.ProductPriceEntry{
		"pizza": {ProductID: "pizza", Configurations: map[string]map[string]int64{
			"size":  {"regular": 200, "large": 300},
			"crust": {"thin": 0, "cheese": 50},
		}},
		"soda": {ProductID: "soda", Configurations: map[string]map[string]int64{
			"volume": {"330ml": 60},
		}},
	}
	toppings := map[string]domain.ToppingPriceEntry{
		"olive": {ToppingID: "olive", Price: 20},
	}
	return products, toppings
}

func newTestEngine(t *testing.T) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(DefaultPricingEngineConfig())
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	return engine
}

func TestPriceCartSumsConfigurationAndToppings(t *testing.T) {
	engine := newTestEngine(t)
	products, toppings := testCatalog()

	items := []domain.CartItem{
		{
			ProductID:     "pizza",
			Quantity:      2,
			Configuration: map[string]string{"size": "large", "crust": "cheese"},
			Toppings:      []domain.SelectedTopping{{ID: "olive", ClientPrice: 1}, {ID: "jalapeno", ClientPrice: 15}},
		},
		{ProductID: "soda", Quantity: 3, Configuration: map[string]string{"volume": "330ml"}},
	}

	pricing, err := engine.PriceCart(items, products, toppings)
	if err != nil {
		t.Fatalf("PriceCart: %v", err)
	}
	// pizza: (300 + 50 + 20 + 15) × 2 = 770; soda: 60 × 3 = 180
	if pricing.Total != 950 {
		t.Fatalf("expected total 950, got %d", pricing.Total)
	}
	if pricing.Items[0].UnitTotal != 385 || pricing.Items[0].LineTotal != 770 {
		t.Fatalf("unexpected pizza line: %+v", pricing.Items[0])
	}
	if pricing.ClientPricedToppings != 1 {
		t.Fatalf("expected one client-priced topping, got %d", pricing.ClientPricedToppings)
	}
	olive, jalapeno := pricing.Items[0].Toppings[0], pricing.Items[0].Toppings[1]
	if olive.Source != domain.PriceSourceCached || olive.Price != 20 {
		t.Fatalf("cached topping must ignore the client price: %+v", olive)
	}
	if jalapeno.Source != domain.PriceSourceClient || jalapeno.Price != 15 {
		t.Fatalf("uncached topping must use the client price: %+v", jalapeno)
	}
}

func TestPriceCartFailsClosed(t *testing.T) {
	engine := newTestEngine(t)
	products, toppings := testCatalog()

	cases := []struct {
		name string
		item domain.CartItem
		want error
	}{
		{"unknown product", domain.CartItem{ProductID: "burger", Quantity: 1}, ErrPricingInconsistent},
		{"unknown dimension", domain.CartItem{ProductID: "pizza", Quantity: 1, Configuration: map[string]string{"sauce": "red"}}, ErrPricingInconsistent},
		{"unknown option", domain.CartItem{ProductID: "pizza", Quantity: 1, Configuration: map[string]string{"size": "family"}}, ErrPricingInconsistent},
		{"zero quantity", domain.CartItem{ProductID: "pizza", Quantity: 0}, ErrPricingInvalidInput},
		{"negative client price", domain.CartItem{ProductID: "pizza", Quantity: 1, Toppings: []domain.SelectedTopping{{ID: "x", ClientPrice: -1}}}, ErrPricingInvalidInput},
		{"overflow", domain.CartItem{ProductID: "pizza", Quantity: math.MaxInt64, Configuration: map[string]string{"size": "large"}}, ErrPricingInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.PriceCart([]domain.CartItem{tc.item}, products, toppings); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := engine.PriceCart(nil, products, toppings); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected empty cart rejected, got %v", err)
	}
}

func TestQuoteAppliesDiscountTaxAndDelivery(t *testing.T) {
	engine := newTestEngine(t)

	cases := []struct {
		name     string
		total    int64
		percent  float64
		discount int64
		taxes    int64
		final    int64
	}{
		{"no coupon", 200, 0, 0, 36, 336},
		{"ten percent", 200, 10, 20, 32, 312},
		{"half-up tax", 25, 0, 0, 5, 130},
		{"full discount", 200, 100, 200, 0, 100},
		{"fractional percent", 999, 12.5, 125, 157, 1131},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals, err := engine.Quote(tc.total, tc.percent)
			if err != nil {
				t.Fatalf("Quote: %v", err)
			}
			if totals.DiscountAmount != tc.discount || totals.Taxes != tc.taxes || totals.FinalTotal != tc.final {
				t.Fatalf("unexpected totals: %+v", totals)
			}
			if totals.PriceAfterDiscount != tc.total-tc.discount {
				t.Fatalf("unexpected price after discount: %d", totals.PriceAfterDiscount)
			}
		})
	}

	if _, err := engine.Quote(100, 120); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected out-of-range discount rejected, got %v", err)
	}
}

func TestNewPricingEngineValidatesConfig(t *testing.T) {
	if _, err := NewPricingEngine(PricingEngineConfig{TaxRate: 1.5}); err == nil {
		t.Fatalf("expected tax rate above 1 rejected")
	}
	if _, err := NewPricingEngine(PricingEngineConfig{DeliveryCharge: -1}); err == nil {
		t.Fatalf("expected negative delivery rejected")
	}
	engine, err := NewPricingEngine(PricingEngineConfig{TaxRate: 0.05, DeliveryCharge: 40})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	totals, err := engine.Quote(1000, 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if totals.FinalTotal != 1090 {
		t.Fatalf("expected 1090, got %d", totals.FinalTotal)
	}
}

func TestNewPricingEngineHonoursZeroTaxAndFreeDelivery(t *testing.T) {
	engine, err := NewPricingEngine(PricingEngineConfig{})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	totals, err := engine.Quote(1000, 10)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if totals.Taxes != 0 || totals.DeliveryCharge != 0 || totals.FinalTotal != 900 {
		t.Fatalf("expected untaxed, undelivered 900, got %+v", totals)
	}
}
