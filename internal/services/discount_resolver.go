package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/foodcourt/orders-api/internal/platform/textutil"
	"github.com/foodcourt/orders-api/internal/repositories"
)

// DiscountResolverDeps bundles collaborators for the resolver.
type DiscountResolverDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	// Location decides which calendar day "today" is. Defaults to UTC.
	Location *time.Location
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// DiscountResolver turns a coupon code into a discount percentage.
type DiscountResolver struct {
	coupons  repositories.CouponRepository
	clock    func() time.Time
	location *time.Location
	logger   func(context.Context, string, map[string]any)
}

// NewDiscountResolver constructs a DiscountResolver.
func NewDiscountResolver(deps DiscountResolverDeps) (*DiscountResolver, error) {
	if deps.Coupons == nil {
		return nil, errors.New("discount resolver: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DiscountResolver{coupons: deps.Coupons, clock: clock, location: loc, logger: logger}, nil
}

// Resolve returns the coupon percentage, or 0 when the code is empty, unknown, owned by
// another tenant, expired or stored with a percentage outside [0, 100]. The validity end date is honoured through the whole day.
func (r *DiscountResolver) Resolve(ctx context.Context, code, tenantID string) (float64, error) {
	normalized := textutil.FoldCode(code)
	if normalized == "" {
		return 0, nil
	}

	coupon, err := r.coupons.FindByCode(ctx, tenantID, normalized)
	if err != nil {
		if repositories.IsNotFound(err) {
			r.logger(ctx, "discount.coupon.unknown", map[string]any{"tenantId": tenantID, "code": normalized})
			return 0, nil
		}
		return 0, fmt.Errorf("%w: coupon lookup: %v", ErrDependencyUnavailable, err)
	}
	if coupon.TenantID != tenantID {
		return 0, nil
	}

	today := calendarDay(r.clock(), r.location)
	if calendarDay(coupon.ValidUntil, r.location).Before(today) {
		r.logger(ctx, "discount.coupon.expired", map[string]any{"tenantId": tenantID, "code": normalized})
		return 0, nil
	}
	if pct := coupon.DiscountPercent; pct < 0 || pct > 100 || math.IsNaN(pct) {
		r.logger(ctx, "discount.coupon.invalid", map[string]any{"tenantId": tenantID, "code": normalized, "discountPercent": pct})
		return 0, nil
	}
	return coupon.DiscountPercent, nil
}

func calendarDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
