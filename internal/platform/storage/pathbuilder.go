package storage

import (
	"fmt"
	"strings"
	"time"
)

// ObjectPurpose selects the object layout.
type ObjectPurpose string

const (
	// PurposeDeadLetter stores outbox entries that exhausted their retries.
	PurposeDeadLetter ObjectPurpose = "dead-letter"
	// PurposeOrderSnapshot stores the order as it was when its entry died.
	PurposeOrderSnapshot ObjectPurpose = "order-snapshot"
)

// PathParams identify the object being written.
type PathParams struct {
	TenantID string
	OrderID  string
	EntryID  string
	At       time.Time
}

// BuildObjectPath resolves the object path for purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	tenantID, err := validateSegment("tenantID", params.TenantID)
	if err != nil {
		return "", err
	}
	day := params.At.UTC().Format("2006/01/02")
	switch purpose {
	case PurposeDeadLetter:
		entryID, err := validateSegment("entryID", params.EntryID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("outbox/dead/%s/%s/%s.json", tenantID, day, entryID), nil
	case PurposeOrderSnapshot:
		orderID, err := validateSegment("orderID", params.OrderID)
		if err != nil {
			return "", err
		}
		entryID, err := validateSegment("entryID", params.EntryID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("outbox/dead/%s/%s/%s.order-%s.json", tenantID, day, entryID, orderID), nil
	default:
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
