package auth

import (
	"context"
	"strings"

	"github.com/foodcourt/orders-api/internal/domain"
)

// Role names carried in the Firebase "role" custom claim.
const (
	RoleCustomer = "customer"
	RoleManager  = "manager"
	RoleAdmin    = "admin"
)

// Identity is the principal extracted from a verified Firebase ID token.
type Identity struct {
	UID      string
	Email    string
	Name     string
	TenantID string
	Roles    []string
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries any of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// Actor converts the identity into the authorisation context passed to services.
// The strongest role wins: admin, then manager, then customer.
func (i *Identity) Actor() domain.Actor {
	if i == nil {
		return domain.Actor{}
	}
	role := domain.RoleCustomer
	switch {
	case i.HasRole(RoleAdmin):
		role = domain.RoleAdmin
	case i.HasRole(RoleManager):
		role = domain.RoleManager
	}
	return domain.Actor{Role: role, TenantID: i.TenantID, SubjectID: i.UID}
}

type identityKey struct{}

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
