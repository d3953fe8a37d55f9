package services

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/foodcourt/orders-api/internal/domain"
)

const (
	// DefaultTaxRate is the platform tax rate used by DefaultPricingEngineConfig.
	DefaultTaxRate = 0.18
	// DefaultDeliveryCharge is a flat charge in the smallest currency unit.
	DefaultDeliveryCharge int64 = 100

	basisPoints int64 = 10000
)

var errPricingOverflow = errors.New("amount overflows int64")

// PricingEngineConfig carries the platform-wide pricing constants.
type PricingEngineConfig struct {
	TaxRate        float64
	DeliveryCharge int64
}

// PricingEngine computes cart totals from cached prices. It performs no I/O.
type PricingEngine struct {
	taxBasisPoints int64
	delivery       int64
}

// DefaultPricingEngineConfig returns the platform defaults.
func DefaultPricingEngineConfig() PricingEngineConfig {
	return PricingEngineConfig{TaxRate: DefaultTaxRate, DeliveryCharge: DefaultDeliveryCharge}
}

// NewPricingEngine validates cfg. Zero values are honoured: no tax, free delivery.
func NewPricingEngine(cfg PricingEngineConfig) (*PricingEngine, error) {
	rate := cfg.TaxRate
	if rate < 0 || rate > 1 || math.IsNaN(rate) {
		return nil, fmt.Errorf("pricing engine: tax rate %v out of range", rate)
	}
	delivery := cfg.DeliveryCharge
	if delivery < 0 {
		return nil, fmt.Errorf("pricing engine: delivery charge %d is negative", delivery)
	}
	return &PricingEngine{
		taxBasisPoints: int64(math.Round(rate * float64(basisPoints))),
		delivery:       delivery,
	}, nil
}

// PriceCart sums quantity × (configuration options + toppings) over items.
// A topping without a cache entry is priced from its client price and tagged PriceSourceClient.
func (e *PricingEngine) PriceCart(items []domain.CartItem, products map[string]domain.ProductPriceEntry, toppings map[string]domain.ToppingPriceEntry) (domain.CartPricing, error) {
	if len(items) == 0 {
		return domain.CartPricing{}, fmt.Errorf("%w: cart must contain at least one item", ErrPricingInvalidInput)
	}

	result := domain.CartPricing{Items: make([]domain.ItemPricing, 0, len(items))}
	for idx, item := range items {
		line, clientPriced, err := priceItem(idx, item, products, toppings)
		if err != nil {
			return domain.CartPricing{}, err
		}
		total, ok := addInt64(result.Total, line.LineTotal)
		if !ok {
			return domain.CartPricing{}, fmt.Errorf("%w: cart total: %v", ErrPricingInvalidInput, errPricingOverflow)
		}
		result.Total = total
		result.ClientPricedToppings += clientPriced
		result.Items = append(result.Items, line)
	}
	return result, nil
}

func priceItem(idx int, item domain.CartItem, products map[string]domain.ProductPriceEntry, toppings map[string]domain.ToppingPriceEntry) (domain.ItemPricing, int, error) {
	productID := strings.TrimSpace(item.ProductID)
	if productID == "" {
		return domain.ItemPricing{}, 0, fmt.Errorf("%w: items[%d].productId is required", ErrPricingInvalidInput, idx)
	}
	if item.Quantity <= 0 {
		return domain.ItemPricing{}, 0, fmt.Errorf("%w: items[%d].quantity must be positive", ErrPricingInvalidInput, idx)
	}
	entry, ok := products[productID]
	if !ok {
		return domain.ItemPricing{}, 0, fmt.Errorf("%w: product %s has no cached price", ErrPricingInconsistent, productID)
	}

	line := domain.ItemPricing{ProductID: productID, Quantity: item.Quantity}

	// Sorted so error messages are deterministic.
	dimensions := make([]string, 0, len(item.Configuration))
	for dimension := range item.Configuration {
		dimensions = append(dimensions, dimension)
	}
	sort.Strings(dimensions)
	for _, dimension := range dimensions {
		option := item.Configuration[dimension]
		options, ok := entry.Configurations[dimension]
		if !ok {
			return domain.ItemPricing{}, 0, fmt.Errorf("%w: product %s has no dimension %q", ErrPricingInconsistent, productID, dimension)
		}
		price, ok := options[option]
		if !ok {
			return domain.ItemPricing{}, 0, fmt.Errorf("%w: product %s dimension %q has no option %q", ErrPricingInconsistent, productID, dimension, option)
		}
		if price < 0 {
			return domain.ItemPricing{}, 0, fmt.Errorf("%w: product %s option %q has a negative price", ErrPricingInconsistent, productID, option)
		}
		sum, ok := addInt64(line.ConfigurationTotal, price)
		if !ok {
			return domain.ItemPricing{}, 0, fmt.Errorf("%w: items[%d]: %v", ErrPricingInvalidInput, idx, errPricingOverflow)
		}
		line.ConfigurationTotal = sum
	}

	clientPriced := 0
	line.Toppings = make([]domain.ToppingPricing, 0, len(item.Toppings))
	for tIdx, topping := range item.Toppings {
		priced := domain.ToppingPricing{ToppingID: topping.ID}
		if cached, ok := toppings[topping.ID]; ok {
			priced.Price = cached.Price
			priced.Source = domain.PriceSourceCached
		} else {
			if topping.ClientPrice < 0 {
				return domain.ItemPricing{}, 0, fmt.Errorf("%w: items[%d].toppings[%d].price must not be negative", ErrPricingInvalidInput, idx, tIdx)
			}
			priced.Price = topping.ClientPrice
			priced.Source = domain.PriceSourceClient
			clientPriced++
		}
		sum, ok := addInt64(line.ToppingsTotal, priced.Price)
		if !ok {
			return domain.ItemPricing{}, 0, fmt.Errorf("%w: items[%d]: %v", ErrPricingInvalidInput, idx, errPricingOverflow)
		}
		line.ToppingsTotal = sum
		line.Toppings = append(line.Toppings, priced)
	}

	unit, ok := addInt64(line.ConfigurationTotal, line.ToppingsTotal)
	if !ok {
		return domain.ItemPricing{}, 0, fmt.Errorf("%w: items[%d]: %v", ErrPricingInvalidInput, idx, errPricingOverflow)
	}
	lineTotal, ok := mulInt64(unit, item.Quantity)
	if !ok {
		return domain.ItemPricing{}, 0, fmt.Errorf("%w: items[%d]: %v", ErrPricingInvalidInput, idx, errPricingOverflow)
	}
	line.UnitTotal = unit
	line.LineTotal = lineTotal
	return line, clientPriced, nil
}

// Quote applies the discount, tax and delivery charge to a cart total.
// Rounding is half-up and happens only for the discount and the tax.
func (e *PricingEngine) Quote(total int64, discountPercent float64) (domain.OrderTotals, error) {
	if total < 0 {
		return domain.OrderTotals{}, fmt.Errorf("%w: total must not be negative", ErrPricingInvalidInput)
	}
	if discountPercent < 0 || discountPercent > 100 || math.IsNaN(discountPercent) {
		return domain.OrderTotals{}, fmt.Errorf("%w: discount %v out of range", ErrPricingInvalidInput, discountPercent)
	}

	// Percent expressed in hundredths keeps two decimals exact.
	discountBP := int64(math.Round(discountPercent * 100))
	discount, ok := scaleBasisPoints(total, discountBP)
	if !ok {
		return domain.OrderTotals{}, fmt.Errorf("%w: discount: %v", ErrPricingInvalidInput, errPricingOverflow)
	}
	after := total - discount
	taxes, ok := scaleBasisPoints(after, e.taxBasisPoints)
	if !ok {
		return domain.OrderTotals{}, fmt.Errorf("%w: taxes: %v", ErrPricingInvalidInput, errPricingOverflow)
	}
	final, ok := addInt64(after, taxes)
	if ok {
		final, ok = addInt64(final, e.delivery)
	}
	if !ok {
		return domain.OrderTotals{}, fmt.Errorf("%w: final total: %v", ErrPricingInvalidInput, errPricingOverflow)
	}

	return domain.OrderTotals{
		Total:              total,
		DiscountPercent:    discountPercent,
		DiscountAmount:     discount,
		PriceAfterDiscount: after,
		Taxes:              taxes,
		DeliveryCharge:     e.delivery,
		FinalTotal:         final,
	}, nil
}

// scaleBasisPoints returns round(amount × bp / 10000) for non-negative inputs.
func scaleBasisPoints(amount, bp int64) (int64, bool) {
	product, ok := mulInt64(amount, bp)
	if !ok {
		return 0, false
	}
	return (product + basisPoints/2) / basisPoints, true
}

func addInt64(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return c, true
}
