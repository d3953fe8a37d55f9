package memory

import (
	"context"
	"testing"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/platform/idempotency"
	"github.com/foodcourt/orders-api/internal/repositories"
)

func newCreation(id, key string, createdAt time.Time) repositories.OrderCreation {
	order := domain.Order{
		ID:             id,
		TenantID:       "tenant-1",
		CustomerID:     "cust-1",
		OrderStatus:    domain.OrderStatusReceived,
		IdempotencyKey: key,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	return repositories.OrderCreation{
		Order:       order,
		Idempotency: idempotency.NewRecord(order.TenantID, key, id, "fp-"+id, createdAt, time.Hour),
		Outbox: []domain.OutboxEntry{{
			ID:            "obx-" + id,
			OrderID:       id,
			TenantID:      order.TenantID,
			Kind:          domain.OutboxKindLifecycleEvent,
			EventType:     domain.EventTypeOrderCreate,
			Status:        domain.OutboxStatusPending,
			NextAttemptAt: createdAt,
			CreatedAt:     createdAt,
		}},
	}
}

func TestCreateRejectsReusedKeyWithoutWriting(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := reg.Orders().Create(ctx, newCreation("ord-1", "key-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := reg.Orders().Create(ctx, newCreation("ord-2", "key-1", now))
	if !repositories.IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := reg.Orders().FindByID(ctx, "ord-2"); !repositories.IsNotFound(err) {
		t.Fatalf("expected second order to be absent, got %v", err)
	}
	if got := reg.OutboxEntries("ord-2"); len(got) != 0 {
		t.Fatalf("expected no outbox entries for rejected order, got %d", len(got))
	}
}

func TestUpdateStatusDetectsStaleTransition(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := reg.Orders().Create(ctx, newCreation("ord-1", "key-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	entry := domain.OutboxEntry{ID: "obx-status-1", OrderID: "ord-1", Status: domain.OutboxStatusPending}
	updated, err := reg.Orders().UpdateStatus(ctx, "ord-1", domain.OrderStatusReceived, domain.OrderStatusAccepted, entry, now)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.OrderStatus != domain.OrderStatusAccepted {
		t.Fatalf("expected accepted, got %s", updated.OrderStatus)
	}

	entry.ID = "obx-status-2"
	_, err = reg.Orders().UpdateStatus(ctx, "ord-1", domain.OrderStatusReceived, domain.OrderStatusPreparing, entry, now)
	if !repositories.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := len(reg.OutboxEntries("ord-1")); got != 2 {
		t.Fatalf("expected 2 outbox entries, got %d", got)
	}
}

func TestAttachPaymentSessionUpdatesIdempotencyRecord(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := reg.Orders().Create(ctx, newCreation("ord-1", "key-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := reg.Orders().AttachPaymentSession(ctx, "ord-1", domain.PaymentSession{ID: "cs_1", PaymentURL: "https://pay.example/cs_1"}, now); err != nil {
		t.Fatalf("attach: %v", err)
	}
	record, err := reg.Idempotency().Lookup(ctx, "tenant-1", "key-1", now)
	if err != nil || record == nil {
		t.Fatalf("lookup: %+v %v", record, err)
	}
	if record.PaymentURL == nil || *record.PaymentURL != "https://pay.example/cs_1" {
		t.Fatalf("expected payment url on record, got %v", record.PaymentURL)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"ord-a", "ord-b", "ord-c"} {
		if err := reg.Orders().Create(ctx, newCreation(id, "key-"+id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	first, err := reg.Orders().List(ctx, repositories.OrderListFilter{TenantID: "tenant-1", Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "ord-c" || first.Items[1].ID != "ord-b" {
		t.Fatalf("unexpected first page: %+v", first.Items)
	}
	if first.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	second, err := reg.Orders().List(ctx, repositories.OrderListFilter{
		TenantID:   "tenant-1",
		Pagination: domain.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list second: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "ord-a" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v", second)
	}
}

func TestOutboxLeaseAndFailure(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := reg.Orders().Create(ctx, newCreation("ord-1", "key-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := reg.Outbox().ClaimForOrder(ctx, "ord-1", now, 30*time.Second)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim for order: %v %d", err, len(claimed))
	}
	due, err := reg.Outbox().ClaimDue(ctx, now, 30*time.Second, 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("expected leased entry to be skipped, got %d %v", len(due), err)
	}

	retryAt := now.Add(5 * time.Second)
	if err := reg.Outbox().MarkFailed(ctx, claimed[0].ID, repositories.OutboxFailure{Attempts: 1, NextAttemptAt: retryAt, LastError: "boom"}, now); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if due, _ := reg.Outbox().ClaimDue(ctx, now, 30*time.Second, 10); len(due) != 0 {
		t.Fatalf("expected entry to wait for backoff, got %d", len(due))
	}
	due, err = reg.Outbox().ClaimDue(ctx, retryAt, 30*time.Second, 10)
	if err != nil || len(due) != 1 || due[0].Attempts != 1 {
		t.Fatalf("expected entry after backoff, got %+v %v", due, err)
	}

	if err := reg.Outbox().MarkFailed(ctx, due[0].ID, repositories.OutboxFailure{Attempts: 2, NextAttemptAt: retryAt, Dead: true}, retryAt); err != nil {
		t.Fatalf("mark dead: %v", err)
	}
	entries := reg.OutboxEntries("ord-1")
	if entries[0].Status != domain.OutboxStatusDead {
		t.Fatalf("expected dead entry, got %s", entries[0].Status)
	}
}
