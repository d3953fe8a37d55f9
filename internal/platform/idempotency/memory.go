package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
)

// MemoryStore keeps records in process. Used by the in-memory repositories and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.IdempotencyRecord)}
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, tenantID, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[DocumentID(tenantID, key)]
	if !ok || !live(record, now.UTC()) {
		return nil, nil
	}
	return cloneRecord(record), nil
}

// Insert stores record unless a live record already holds the key.
func (s *MemoryStore) Insert(_ context.Context, record domain.IdempotencyRecord, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := DocumentID(record.TenantID, record.Key)
	if existing, ok := s.records[id]; ok && live(existing, now.UTC()) {
		return &ExistsError{Key: record.Key}
	}
	s.records[id] = *cloneRecord(record)
	return nil
}

// Delete removes the record for (tenantID, key).
func (s *MemoryStore) Delete(_ context.Context, tenantID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, DocumentID(tenantID, key))
}

// SetPaymentURL records the checkout URL handed out for the key.
func (s *MemoryStore) SetPaymentURL(_ context.Context, tenantID, key, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := DocumentID(tenantID, key)
	record, ok := s.records[id]
	if !ok {
		return nil
	}
	record.PaymentURL = &url
	s.records[id] = record
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	removed := 0
	for id, record := range s.records {
		if removed >= limit {
			break
		}
		if live(record, now) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}

func cloneRecord(record domain.IdempotencyRecord) *domain.IdempotencyRecord {
	out := record
	if record.PaymentURL != nil {
		url := *record.PaymentURL
		out.PaymentURL = &url
	}
	return &out
}
