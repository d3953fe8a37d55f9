package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/foodcourt/orders-api/internal/domain"
	pfirestore "github.com/foodcourt/orders-api/internal/platform/firestore"
	"github.com/foodcourt/orders-api/internal/repositories"
)

// OutboxRepository leases outbox entries with one short transaction per entry.
type OutboxRepository struct {
	provider *pfirestore.Provider
	entries  *pfirestore.Collection[outboxDocument]
}

var _ repositories.OutboxRepository = (*OutboxRepository)(nil)

// NewOutboxRepository constructs the repository.
func NewOutboxRepository(provider *pfirestore.Provider) (*OutboxRepository, error) {
	if provider == nil {
		return nil, errors.New("outbox repository requires firestore provider")
	}
	return &OutboxRepository{
		provider: provider,
		entries:  pfirestore.NewCollection[outboxDocument](provider, outboxCollection, nil),
	}, nil
}

// ClaimDue implements repositories.OutboxRepository.
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.OutboxEntry, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = 50
	}
	// Leased entries are filtered after the query, so over-fetch to fill the batch.
	candidates, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.OutboxStatusPending)).
			Where("nextAttemptAt", "<=", now).
			OrderBy("nextAttemptAt", firestore.Asc).
			Limit(limit * 2)
	})
	if err != nil {
		return nil, err
	}
	return r.claim(ctx, candidates, now, lease, limit, true)
}

// ClaimForOrder implements repositories.OutboxRepository.
func (r *OutboxRepository) ClaimForOrder(ctx context.Context, orderID string, now time.Time, lease time.Duration) ([]domain.OutboxEntry, error) {
	now = now.UTC()
	candidates, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).
			Where("status", "==", string(domain.OutboxStatusPending))
	})
	if err != nil {
		return nil, err
	}
	return r.claim(ctx, candidates, now, lease, len(candidates), false)
}

func (r *OutboxRepository) claim(ctx context.Context, candidates []outboxDocument, now time.Time, lease time.Duration, limit int, requireDue bool) ([]domain.OutboxEntry, error) {
	claimed := make([]domain.OutboxEntry, 0, len(candidates))
	for _, candidate := range candidates {
		if len(claimed) >= limit {
			break
		}
		if candidate.LeaseUntil.After(now) {
			continue
		}
		var got *outboxDocument
		err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			got = nil
			doc, err := r.entries.GetTx(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if doc.Status != string(domain.OutboxStatusPending) || doc.LeaseUntil.After(now) {
				return nil
			}
			if requireDue && doc.NextAttemptAt.After(now) {
				return nil
			}
			ref, err := r.entries.Doc(ctx, doc.ID)
			if err != nil {
				return err
			}
			doc.LeaseUntil = now.Add(lease)
			doc.UpdatedAt = now
			if err := tx.Update(ref, []firestore.Update{
				{Path: "leaseUntil", Value: doc.LeaseUntil},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
			got = &doc
			return nil
		})
		if err != nil {
			return claimed, pfirestore.WrapError("outbox.claim", err)
		}
		if got != nil {
			claimed = append(claimed, got.toDomain())
		}
	}
	return claimed, nil
}

// MarkDone implements repositories.OutboxRepository.
func (r *OutboxRepository) MarkDone(ctx context.Context, entryID string, now time.Time) error {
	ref, err := r.entries.Doc(ctx, entryID)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "status", Value: string(domain.OutboxStatusDone)},
		{Path: "leaseUntil", Value: time.Time{}},
		{Path: "lastError", Value: firestore.Delete},
		{Path: "updatedAt", Value: now.UTC()},
	})
	return pfirestore.WrapError("outbox.mark_done", err)
}

// MarkFailed implements repositories.OutboxRepository.
func (r *OutboxRepository) MarkFailed(ctx context.Context, entryID string, failure repositories.OutboxFailure, now time.Time) error {
	ref, err := r.entries.Doc(ctx, entryID)
	if err != nil {
		return err
	}
	status := domain.OutboxStatusPending
	if failure.Dead {
		status = domain.OutboxStatusDead
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "attempts", Value: failure.Attempts},
		{Path: "nextAttemptAt", Value: failure.NextAttemptAt.UTC()},
		{Path: "leaseUntil", Value: time.Time{}},
		{Path: "lastError", Value: failure.LastError},
		{Path: "updatedAt", Value: now.UTC()},
	})
	return pfirestore.WrapError("outbox.mark_failed", err)
}
