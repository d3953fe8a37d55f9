package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/foodcourt/orders-api/internal/domain"
	pfirestore "github.com/foodcourt/orders-api/internal/platform/firestore"
)

const defaultCollection = "idempotency_records"

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore persists records in Firestore keyed by DocumentID.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Ref returns the document reference for (tenantID, key).
func (s *FirestoreStore) Ref(ctx context.Context, tenantID, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(DocumentID(tenantID, key)), nil
}

// Lookup implements Store.
func (s *FirestoreStore) Lookup(ctx context.Context, tenantID, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	ref, err := s.Ref(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		wrapped := pfirestore.WrapError("idempotency.lookup", err)
		var repoErr *pfirestore.Error
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return nil, nil
		}
		return nil, wrapped
	}
	var doc recordDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, pfirestore.WrapError("idempotency.decode", err)
	}
	record := doc.toDomain()
	if !live(record, now.UTC()) {
		return nil, nil
	}
	return &record, nil
}

// CreateInTx claims the key for record inside tx. It must run before any write in tx.
// A live record fails with ExistsError; an expired one is overwritten. A concurrent
// claim makes the commit fail with AlreadyExists or Aborted.
func (s *FirestoreStore) CreateInTx(ctx context.Context, tx *firestore.Transaction, record domain.IdempotencyRecord) error {
	ref, err := s.Ref(ctx, record.TenantID, record.Key)
	if err != nil {
		return err
	}
	snap, err := tx.Get(ref)
	switch {
	case status.Code(err) == codes.NotFound:
		return tx.Create(ref, fromDomain(record))
	case err != nil:
		return err
	}
	var existing recordDocument
	if err := snap.DataTo(&existing); err != nil {
		return pfirestore.WrapError("idempotency.decode", err)
	}
	if live(existing.toDomain(), record.CreatedAt.UTC()) {
		return &ExistsError{Key: record.Key}
	}
	return tx.Set(ref, fromDomain(record))
}

// SetPaymentURLInTx records the checkout URL handed out for the key.
func (s *FirestoreStore) SetPaymentURLInTx(ctx context.Context, tx *firestore.Transaction, tenantID, key, url string) error {
	ref, err := s.Ref(ctx, tenantID, key)
	if err != nil {
		return err
	}
	return tx.Update(ref, []firestore.Update{{Path: "payment_url", Value: url}})
}

// CleanupExpired implements Store.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup.query", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup.delete", err)
		}
	}
	writer.End()
	return len(docs), nil
}

type recordDocument struct {
	Key         string    `firestore:"key"`
	TenantID    string    `firestore:"tenant_id"`
	OrderID     string    `firestore:"order_id"`
	Fingerprint string    `firestore:"fingerprint"`
	PaymentURL  *string   `firestore:"payment_url"`
	CreatedAt   time.Time `firestore:"created_at"`
	ExpiresAt   time.Time `firestore:"expires_at"`
}

func fromDomain(record domain.IdempotencyRecord) recordDocument {
	return recordDocument{
		Key:         record.Key,
		TenantID:    record.TenantID,
		OrderID:     record.OrderID,
		Fingerprint: record.Fingerprint,
		PaymentURL:  record.PaymentURL,
		CreatedAt:   record.CreatedAt.UTC(),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
}

func (d recordDocument) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:         d.Key,
		TenantID:    d.TenantID,
		OrderID:     d.OrderID,
		Fingerprint: d.Fingerprint,
		PaymentURL:  d.PaymentURL,
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}
