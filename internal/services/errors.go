package services

import (
	"errors"
	"fmt"

	"github.com/foodcourt/orders-api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not act on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates a backward or terminal status transition.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order changed underneath the request.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderStoreFailure hides persistence failures from callers.
	ErrOrderStoreFailure = errors.New("order: store failure")
	// ErrCustomerNotFound indicates the caller has no customer profile.
	ErrCustomerNotFound = errors.New("order: customer not found")
	// ErrIdempotencyKeyReused indicates the key was first used for a different request.
	ErrIdempotencyKeyReused = errors.New("order: idempotency key reused with a different request")
	// ErrPaymentUnavailable indicates the gateway failed after the order was persisted.
	ErrPaymentUnavailable = errors.New("order: payment gateway unavailable")
	// ErrDependencyUnavailable indicates the price cache or coupon store could not be read.
	ErrDependencyUnavailable = errors.New("order: dependency unavailable")

	// ErrPricingInvalidInput signals an empty cart, non-positive quantity or negative price.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingInconsistent signals a cart referencing a product, dimension or option absent from the cache.
	ErrPricingInconsistent = errors.New("pricing: cart references uncached product data")
)

func mapRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrOrderStoreFailure, op, err)
}
