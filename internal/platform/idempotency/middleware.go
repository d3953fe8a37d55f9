package idempotency

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode"

	"github.com/foodcourt/orders-api/internal/platform/httpx"
)

var (
	// ErrKeyRequired means the request carried no token.
	ErrKeyRequired = errors.New("idempotency: key required")
	// ErrKeyInvalid means the token is too long or contains non-printable characters.
	ErrKeyInvalid = errors.New("idempotency: key invalid")
)

type keyContextKey struct{}

// WithKey stores the client token on ctx.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyContextKey{}, key)
}

// KeyFromContext returns the token stored by RequireKey.
func KeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(keyContextKey{}).(string)
	return key, ok && key != ""
}

// ValidateKey trims and checks a client token.
func ValidateKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", ErrKeyRequired
	}
	if len(key) > MaxKeyLength {
		return "", ErrKeyInvalid
	}
	for _, r := range key {
		if !unicode.IsPrint(r) {
			return "", ErrKeyInvalid
		}
	}
	return key, nil
}

type middlewareConfig struct {
	headerName string
}

// MiddlewareOption customises RequireKey.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the token.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// RequireKey rejects requests without a valid token and stores it on the context.
func RequireKey(opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{headerName: DefaultHeader}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := ValidateKey(r.Header.Get(cfg.headerName))
			switch {
			case errors.Is(err, ErrKeyRequired):
				httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_key_required", "missing "+cfg.headerName+" header", http.StatusBadRequest))
				return
			case err != nil:
				httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_key_invalid", cfg.headerName+" header is invalid", http.StatusBadRequest))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithKey(r.Context(), key)))
		})
	}
}
