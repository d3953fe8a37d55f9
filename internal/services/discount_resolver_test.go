package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/repositories"
)

type stubCouponRepository struct {
	fn func(ctx context.Context, tenantID, code string) (domain.Coupon, error)
}

func (s stubCouponRepository) FindByCode(ctx context.Context, tenantID, code string) (domain.Coupon, error) {
	return s.fn(ctx, tenantID, code)
}

func couponStore(coupons ...domain.Coupon) stubCouponRepository {
	return stubCouponRepository{fn: func(_ context.Context, tenantID, code string) (domain.Coupon, error) {
		for _, c := range coupons {
			if c.Code == code {
				return c, nil
			}
		}
		return domain.Coupon{}, repositories.NewStoreError("coupons.find", repositories.ErrorNotFound, nil)
	}}
}

func TestDiscountResolverEdges(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 23:00 on 10 May in IST is still 10 May locally but already 17:30 UTC.
	now := time.Date(2024, 5, 10, 23, 0, 0, 0, ist)
	store := couponStore(
		domain.Coupon{Code: "TODAY", TenantID: "tenant-1", DiscountPercent: 10, ValidUntil: time.Date(2024, 5, 10, 0, 0, 0, 0, ist)},
		domain.Coupon{Code: "OLD", TenantID: "tenant-1", DiscountPercent: 15, ValidUntil: time.Date(2024, 5, 9, 23, 59, 0, 0, ist)},
		domain.Coupon{Code: "OTHER", TenantID: "tenant-2", DiscountPercent: 50, ValidUntil: now.AddDate(0, 1, 0)},
		domain.Coupon{Code: "BROKEN", TenantID: "tenant-1", DiscountPercent: 150, ValidUntil: now.AddDate(0, 1, 0)},
	)
	var events []string
	resolver, err := NewDiscountResolver(DiscountResolverDeps{
		Coupons:  store,
		Clock:    func() time.Time { return now },
		Location: ist,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("NewDiscountResolver: %v", err)
	}

	cases := []struct {
		name string
		code string
		want float64
	}{
		{"empty", "  ", 0},
		{"unknown", "NOPE", 0},
		{"other tenant", "OTHER", 0},
		{"expired yesterday", "OLD", 0},
		{"valid through today", "today", 10},
		{"full width", "ＴＯＤＡＹ", 10},
		{"percentage out of range", "BROKEN", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), tc.code, "tenant-1")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
	if !slices.Contains(events, "discount.coupon.invalid") {
		t.Fatalf("expected invalid coupon logged, got %v", events)
	}
}

func TestDiscountResolverSurfacesOutage(t *testing.T) {
	resolver, err := NewDiscountResolver(DiscountResolverDeps{
		Coupons: stubCouponRepository{fn: func(context.Context, string, string) (domain.Coupon, error) {
			return domain.Coupon{}, repositories.NewStoreError("coupons.find", repositories.ErrorUnavailable, errors.New("deadline exceeded"))
		}},
	})
	if err != nil {
		t.Fatalf("NewDiscountResolver: %v", err)
	}
	if _, err := resolver.Resolve(context.Background(), "SAVE10", "tenant-1"); !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
}
