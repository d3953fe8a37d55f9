package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
)

const (
	// DefaultTTL is how long a record keeps replaying its order.
	DefaultTTL = 24 * time.Hour
	// DefaultHeader carries the client token.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader marks responses served from an existing record.
	ReplayHeader = "X-Idempotent-Replay"
	// MaxKeyLength bounds accepted tokens.
	MaxKeyLength = 255
)

// Store reads and expires idempotency records. Records are created inside the order transaction.
type Store interface {
	// Lookup returns the live record for (tenantID, key), or nil when none exists.
	Lookup(ctx context.Context, tenantID, key string, now time.Time) (*domain.IdempotencyRecord, error)
	// CleanupExpired deletes up to limit records whose expiry is not after now.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// DocumentID derives the storage id of a record. Uniqueness of this id enforces one order per token.
func DocumentID(tenantID, key string) string {
	return sha256Hex([]byte(strings.TrimSpace(tenantID) + "\x00" + strings.TrimSpace(key)))
}

// Fingerprint hashes the canonical JSON form of v.
// encoding/json sorts map keys, so equal requests always hash equally.
func Fingerprint(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("idempotency: fingerprint: %w", err)
	}
	return sha256Hex(data), nil
}

// NewRecord builds the record written alongside an order.
func NewRecord(tenantID, key, orderID, fingerprint string, now time.Time, ttl time.Duration) domain.IdempotencyRecord {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	return domain.IdempotencyRecord{
		Key:         strings.TrimSpace(key),
		TenantID:    tenantID,
		OrderID:     orderID,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// ExistsError reports that a record for the key already exists.
type ExistsError struct {
	Key string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("idempotency: record for key %q already exists", e.Key)
}

func (e *ExistsError) IsNotFound() bool      { return false }
func (e *ExistsError) IsConflict() bool      { return true }
func (e *ExistsError) IsAlreadyExists() bool { return true }
func (e *ExistsError) IsUnavailable() bool   { return false }

func live(record domain.IdempotencyRecord, now time.Time) bool {
	return record.ExpiresAt.IsZero() || now.Before(record.ExpiresAt)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
