package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/repositories"
	"github.com/foodcourt/orders-api/internal/repositories/memory"
)

type stubDeadLetters struct {
	mu      sync.Mutex
	entries []domain.OutboxEntry
	orders  []*domain.Order
}

func (s *stubDeadLetters) Archive(_ context.Context, entry domain.OutboxEntry, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	s.orders = append(s.orders, order)
	return nil
}

type stubOpener struct {
	fn func(req PaymentRequest) (*domain.PaymentSession, error)
}

func (s stubOpener) OpenSession(_ context.Context, req PaymentRequest) (*domain.PaymentSession, error) {
	return s.fn(req)
}

func seedOrder(t *testing.T, reg *memory.Registry, mode domain.PaymentMode, now time.Time) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:             "ord_1",
		TenantID:       "tenant-1",
		CustomerID:     "cust-1",
		PaymentMode:    mode,
		Currency:       "inr",
		Totals:         domain.OrderTotals{FinalTotal: 336},
		OrderStatus:    domain.OrderStatusReceived,
		IdempotencyKey: "key-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entries := []domain.OutboxEntry{{
		ID: "obx_2", OrderID: order.ID, TenantID: order.TenantID, Kind: domain.OutboxKindLifecycleEvent,
		EventType: domain.EventTypeOrderCreate, NewStatus: domain.OrderStatusReceived,
		Status: domain.OutboxStatusPending, NextAttemptAt: now, CreatedAt: now,
	}}
	if mode == domain.PaymentModeCard {
		entries = append(entries, domain.OutboxEntry{
			ID: "obx_1", OrderID: order.ID, TenantID: order.TenantID, Kind: domain.OutboxKindPaymentSession,
			IdempotencyKey: "key-1", Status: domain.OutboxStatusPending, NextAttemptAt: now, CreatedAt: now,
		})
	}
	creation := repositories.OrderCreation{
		Order:  order,
		Outbox: entries,
		Idempotency: domain.IdempotencyRecord{
			Key: "key-1", TenantID: "tenant-1", OrderID: order.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		},
	}
	if err := reg.Orders().Create(context.Background(), creation); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return order
}

func TestDriveOrderRunsPaymentBeforeEvent(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	reg := memory.NewRegistry(nil)
	reg.PutCustomer(domain.Customer{ID: "cust-1", TenantID: "tenant-1", Email: "a@example.com"})
	seedOrder(t, reg, domain.PaymentModeCard, now)

	publisher := &recordingPublisher{}
	var gotReq PaymentRequest
	dispatcher, err := NewOutboxDispatcher(OutboxDispatcherDeps{
		Outbox:    reg.Outbox(),
		Orders:    reg.Orders(),
		Customers: reg.Customers(),
		Events:    publisher,
		Payments: stubOpener{fn: func(req PaymentRequest) (*domain.PaymentSession, error) {
			gotReq = req
			return &domain.PaymentSession{ID: "cs_1", Provider: "stripe", PaymentURL: "https://pay.example/cs_1"}, nil
		}},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOutboxDispatcher: %v", err)
	}

	result, err := dispatcher.DriveOrder(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("DriveOrder: %v", err)
	}
	if !result.PaymentDone || result.PaymentURL != "https://pay.example/cs_1" || result.EventsIssued != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotReq.Amount != 336 || gotReq.IdempotencyKey != "key-1" || gotReq.CustomerEmail != "a@example.com" {
		t.Fatalf("unexpected payment request: %+v", gotReq)
	}
	events := publisher.published()
	if len(events) != 1 || events[0].Order.PaymentURL != "https://pay.example/cs_1" {
		t.Fatalf("expected event after payment with url, got %+v", events)
	}

	again, err := dispatcher.DriveOrder(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("second DriveOrder: %v", err)
	}
	if again.PaymentDone || again.EventsIssued != 0 {
		t.Fatalf("completed intents must not rerun, got %+v", again)
	}
}

func TestDispatchDueReportsStatusOfQueuingTransition(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	reg := memory.NewRegistry(nil)
	seedOrder(t, reg, domain.PaymentModeCash, now)

	accepted := domain.OutboxEntry{
		ID: "obx_3", OrderID: "ord_1", TenantID: "tenant-1", Kind: domain.OutboxKindLifecycleEvent,
		EventType: domain.EventTypeOrderStatusUpdate, PreviousStatus: domain.OrderStatusReceived, NewStatus: domain.OrderStatusAccepted,
		Status: domain.OutboxStatusPending, NextAttemptAt: now, CreatedAt: now,
	}
	if _, err := reg.Orders().UpdateStatus(context.Background(), "ord_1", domain.OrderStatusReceived, domain.OrderStatusAccepted, accepted, now); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	preparing := accepted
	preparing.ID = "obx_4"
	preparing.PreviousStatus = domain.OrderStatusAccepted
	preparing.NewStatus = domain.OrderStatusPreparing
	if _, err := reg.Orders().UpdateStatus(context.Background(), "ord_1", domain.OrderStatusAccepted, domain.OrderStatusPreparing, preparing, now); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	publisher := &recordingPublisher{}
	dispatcher, err := NewOutboxDispatcher(OutboxDispatcherDeps{
		Outbox: reg.Outbox(),
		Orders: reg.Orders(),
		Events: publisher,
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOutboxDispatcher: %v", err)
	}
	report, err := dispatcher.DispatchDue(context.Background())
	if err != nil || report.Done != 3 {
		t.Fatalf("expected three events delivered, got %+v err=%v", report, err)
	}

	want := map[domain.EventType]map[domain.OrderStatus]domain.OrderStatus{
		domain.EventTypeOrderCreate:       {"": domain.OrderStatusReceived},
		domain.EventTypeOrderStatusUpdate: {domain.OrderStatusReceived: domain.OrderStatusAccepted, domain.OrderStatusAccepted: domain.OrderStatusPreparing},
	}
	for _, event := range publisher.published() {
		if got, exp := event.Order.OrderStatus, want[event.EventType][event.PreviousStatus]; got != exp {
			t.Fatalf("%s from %q embeds %s, want %s", event.EventType, event.PreviousStatus, got, exp)
		}
	}
}

func TestDispatchDueBacksOffThenArchivesDeadEntries(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	current := now
	reg := memory.NewRegistry(nil)
	seedOrder(t, reg, domain.PaymentModeCash, now)

	publisher := &recordingPublisher{err: errors.New("broker offline")}
	dead := &stubDeadLetters{}
	dispatcher, err := NewOutboxDispatcher(OutboxDispatcherDeps{
		Outbox:      reg.Outbox(),
		Orders:      reg.Orders(),
		Events:      publisher,
		DeadLetters: dead,
		Clock:       func() time.Time { return current },
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	})
	if err != nil {
		t.Fatalf("NewOutboxDispatcher: %v", err)
	}
	ctx := context.Background()

	report, err := dispatcher.DispatchDue(ctx)
	if err != nil || report.Claimed != 1 || report.Retried != 1 {
		t.Fatalf("first pass: %+v %v", report, err)
	}
	entry := reg.OutboxEntries("ord_1")[0]
	if entry.Attempts != 1 || !entry.NextAttemptAt.Equal(now.Add(time.Second)) || entry.LastError == "" {
		t.Fatalf("unexpected entry after first failure: %+v", entry)
	}

	if report, _ := dispatcher.DispatchDue(ctx); report.Claimed != 0 {
		t.Fatalf("entry must wait for backoff, claimed %d", report.Claimed)
	}

	current = now.Add(time.Second)
	if report, _ := dispatcher.DispatchDue(ctx); report.Retried != 1 {
		t.Fatalf("second pass: %+v", report)
	}
	if got := reg.OutboxEntries("ord_1")[0].NextAttemptAt; !got.Equal(current.Add(2 * time.Second)) {
		t.Fatalf("expected doubled backoff, next attempt %s", got)
	}

	current = current.Add(2 * time.Second)
	report, _ = dispatcher.DispatchDue(ctx)
	if report.Dead != 1 {
		t.Fatalf("third pass: %+v", report)
	}
	if status := reg.OutboxEntries("ord_1")[0].Status; status != domain.OutboxStatusDead {
		t.Fatalf("expected dead entry, got %s", status)
	}
	if len(dead.entries) != 1 || dead.entries[0].Attempts != 3 || dead.orders[0] == nil || dead.orders[0].ID != "ord_1" {
		t.Fatalf("expected archived entry with order snapshot, got %+v", dead.entries)
	}

	publisher.setErr(nil)
	current = current.Add(time.Hour)
	if report, _ := dispatcher.DispatchDue(ctx); report.Claimed != 0 {
		t.Fatalf("dead entries must not be claimed again")
	}
}

func TestOutboxBackoffIsCapped(t *testing.T) {
	dispatcher, err := NewOutboxDispatcher(OutboxDispatcherDeps{
		Outbox:      memory.NewRegistry(nil).Outbox(),
		Orders:      memory.NewRegistry(nil).Orders(),
		Events:      &recordingPublisher{},
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewOutboxDispatcher: %v", err)
	}
	cases := map[int]time.Duration{1: 5 * time.Second, 2: 10 * time.Second, 3: 20 * time.Second, 4: 30 * time.Second, 40: 30 * time.Second}
	for attempts, want := range cases {
		if got := dispatcher.backoff(attempts); got != want {
			t.Fatalf("backoff(%d) = %s, want %s", attempts, got, want)
		}
	}
}

func TestNewOutboxDispatcherRequiresDependencies(t *testing.T) {
	if _, err := NewOutboxDispatcher(OutboxDispatcherDeps{}); err == nil {
		t.Fatalf("expected error without repositories")
	}
}
