package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/foodcourt/orders-api/internal/domain"
	pfirestore "github.com/foodcourt/orders-api/internal/platform/firestore"
	"github.com/foodcourt/orders-api/internal/platform/idempotency"
	"github.com/foodcourt/orders-api/internal/platform/pagination"
	"github.com/foodcourt/orders-api/internal/repositories"
)

const (
	ordersCollection = "orders"
	outboxCollection = "outbox"
)

// OrderRepository implements repositories.OrderRepository with Firestore transactions.
type OrderRepository struct {
	provider    *pfirestore.Provider
	orders      *pfirestore.Collection[orderDocument]
	outbox      *pfirestore.Collection[outboxDocument]
	idempotency *idempotency.FirestoreStore
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the repository. Idempotency records live in store's collection.
func NewOrderRepository(provider *pfirestore.Provider, store *idempotency.FirestoreStore) (*OrderRepository, error) {
	if provider == nil || store == nil {
		return nil, errors.New("order repository requires firestore provider and idempotency store")
	}
	return &OrderRepository{
		provider:    provider,
		orders:      pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
		outbox:      pfirestore.NewCollection[outboxDocument](provider, outboxCollection, nil),
		idempotency: store,
	}, nil
}

// Create implements repositories.OrderRepository. The idempotency key is claimed first;
// when it is taken nothing is written.
func (r *OrderRepository) Create(ctx context.Context, creation repositories.OrderCreation) error {
	order := creation.Order
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := r.idempotency.CreateInTx(ctx, tx, creation.Idempotency); err != nil {
			return err
		}
		orderRef, err := r.orders.Doc(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			return err
		}
		for _, entry := range creation.Outbox {
			ref, err := r.outbox.Doc(ctx, entry.ID)
			if err != nil {
				return err
			}
			if err := tx.Create(ref, newOutboxDocument(entry)); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError("orders.create", err)
}

// FindByID implements repositories.OrderRepository.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(), nil
}

// UpdateStatus implements repositories.OrderRepository.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, entry domain.OutboxEntry, now time.Time) (domain.Order, error) {
	now = now.UTC()
	var updated orderDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.orders.GetTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if domain.OrderStatus(doc.OrderStatus) != from {
			return pfirestore.ConflictError("orders.update_status",
				fmt.Sprintf("order %s is %s, expected %s", orderID, doc.OrderStatus, from))
		}
		ref, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "orderStatus", Value: string(to)},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		entryRef, err := r.outbox.Doc(ctx, entry.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(entryRef, newOutboxDocument(entry)); err != nil {
			return err
		}
		doc.OrderStatus = string(to)
		doc.UpdatedAt = now
		updated = doc
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update_status", err)
	}
	return updated.toDomain(), nil
}

// AttachPaymentSession implements repositories.OrderRepository.
func (r *OrderRepository) AttachPaymentSession(ctx context.Context, orderID string, session domain.PaymentSession, now time.Time) (domain.Order, error) {
	now = now.UTC()
	var updated orderDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.orders.GetTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		recordExists := false
		if doc.IdempotencyKey != "" {
			idemRef, err := r.idempotency.Ref(ctx, doc.TenantID, doc.IdempotencyKey)
			if err != nil {
				return err
			}
			switch _, err := tx.Get(idemRef); status.Code(err) {
			case codes.OK:
				recordExists = true
			case codes.NotFound:
			default:
				return err
			}
		}

		ref, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "paymentSessionId", Value: session.ID},
			{Path: "paymentUrl", Value: session.PaymentURL},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		if recordExists {
			if err := r.idempotency.SetPaymentURLInTx(ctx, tx, doc.TenantID, doc.IdempotencyKey, session.PaymentURL); err != nil {
				return err
			}
		}
		doc.PaymentSessionID = session.ID
		doc.PaymentURL = session.PaymentURL
		doc.UpdatedAt = now
		updated = doc
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.attach_payment", err)
	}
	return updated.toDomain(), nil
}

// List implements repositories.OrderRepository, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	var cursor pagination.Cursor
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		cursor = decoded
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.TenantID != "" {
			q = q.Where("tenantId", "==", filter.TenantID)
		}
		if filter.CustomerID != "" {
			q = q.Where("customerId", "==", filter.CustomerID)
		}
		if filter.Status != "" {
			q = q.Where("orderStatus", "==", string(filter.Status))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.LastCreatedAt, cursor.LastID)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	if len(docs) > limit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{LastCreatedAt: last.CreatedAt, LastID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	page.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, doc.toDomain())
	}
	return page, nil
}
