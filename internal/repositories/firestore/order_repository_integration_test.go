//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
	pconfig "github.com/foodcourt/orders-api/internal/platform/config"
	pfirestore "github.com/foodcourt/orders-api/internal/platform/firestore"
	"github.com/foodcourt/orders-api/internal/platform/idempotency"
	"github.com/foodcourt/orders-api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: endpoint,
	})
	registry, err := NewRegistry(provider, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	order := domain.Order{
		ID:             "ord_1",
		TenantID:       "tenant-1",
		CustomerID:     "cust-1",
		Items:          []domain.CartItem{{ProductID: "p1", Quantity: 2, Configuration: map[string]string{"size": "large"}}},
		Totals:         domain.OrderTotals{Total: 200, FinalTotal: 336},
		Currency:       "inr",
		PaymentMode:    domain.PaymentModeCard,
		PaymentStatus:  domain.PaymentStatusPending,
		OrderStatus:    domain.OrderStatusReceived,
		IdempotencyKey: "key-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	record := idempotency.NewRecord(order.TenantID, "key-1", order.ID, "fp", now, time.Hour)
	entry := domain.OutboxEntry{
		ID:             "obx_1",
		OrderID:        order.ID,
		TenantID:       order.TenantID,
		Kind:           domain.OutboxKindPaymentSession,
		IdempotencyKey: "key-1",
		Status:         domain.OutboxStatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	creation := repositories.OrderCreation{Order: order, Idempotency: record, Outbox: []domain.OutboxEntry{entry}}
	if err := registry.Orders().Create(ctx, creation); err != nil {
		t.Fatalf("create order: %v", err)
	}

	dup := creation
	dup.Order.ID = "ord_2"
	dup.Outbox = nil
	if err := registry.Orders().Create(ctx, dup); !repositories.IsAlreadyExists(err) {
		t.Fatalf("expected already exists for reused key, got %v", err)
	}
	if _, err := registry.Orders().FindByID(ctx, "ord_2"); !repositories.IsNotFound(err) {
		t.Fatalf("expected duplicate order to be absent, got %v", err)
	}

	// The order and record writes are buffered before the outbox create collides at commit.
	partial := creation
	partial.Order.ID = "ord_3"
	partial.Order.IdempotencyKey = "key-3"
	partial.Idempotency = idempotency.NewRecord(order.TenantID, "key-3", "ord_3", "fp-3", now, time.Hour)
	partial.Outbox = []domain.OutboxEntry{entry}
	if err := registry.Orders().Create(ctx, partial); err == nil {
		t.Fatalf("expected colliding outbox entry to fail the transaction")
	}
	if _, err := registry.Orders().FindByID(ctx, "ord_3"); !repositories.IsNotFound(err) {
		t.Fatalf("expected no order after failed transaction, got %v", err)
	}
	if rec, err := registry.Idempotency().Lookup(ctx, order.TenantID, "key-3", now); err != nil || rec != nil {
		t.Fatalf("expected no idempotency record after failed transaction, got %+v %v", rec, err)
	}

	found, err := registry.Idempotency().Lookup(ctx, order.TenantID, "key-1", now)
	if err != nil || found == nil || found.OrderID != order.ID {
		t.Fatalf("unexpected idempotency lookup: %+v %v", found, err)
	}

	claimed, err := registry.Outbox().ClaimForOrder(ctx, order.ID, now, 30*time.Second)
	if err != nil {
		t.Fatalf("claim for order: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != entry.ID {
		t.Fatalf("expected one claimed entry, got %+v", claimed)
	}
	again, err := registry.Outbox().ClaimDue(ctx, now, 30*time.Second, 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected leased entry to be skipped, got %d", len(again))
	}

	updated, err := registry.Orders().AttachPaymentSession(ctx, order.ID, domain.PaymentSession{ID: "cs_1", PaymentURL: "https://pay.example/cs_1"}, now)
	if err != nil {
		t.Fatalf("attach payment session: %v", err)
	}
	if updated.PaymentURL != "https://pay.example/cs_1" {
		t.Fatalf("expected payment url, got %q", updated.PaymentURL)
	}
	if err := registry.Outbox().MarkDone(ctx, entry.ID, now); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	found, err = registry.Idempotency().Lookup(ctx, order.TenantID, "key-1", now)
	if err != nil || found.PaymentURL == nil || *found.PaymentURL != updated.PaymentURL {
		t.Fatalf("expected payment url on record, got %+v %v", found, err)
	}

	statusEntry := domain.OutboxEntry{
		ID:             "obx_2",
		OrderID:        order.ID,
		TenantID:       order.TenantID,
		Kind:           domain.OutboxKindLifecycleEvent,
		EventType:      domain.EventTypeOrderStatusUpdate,
		PreviousStatus: domain.OrderStatusReceived,
		Status:         domain.OutboxStatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	moved, err := registry.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusReceived, domain.OrderStatusAccepted, statusEntry, now)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if moved.OrderStatus != domain.OrderStatusAccepted {
		t.Fatalf("expected accepted, got %s", moved.OrderStatus)
	}
	statusEntry.ID = "obx_3"
	if _, err := registry.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusReceived, domain.OrderStatusPreparing, statusEntry, now); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict for stale status, got %v", err)
	}

	page, err := registry.Orders().List(ctx, repositories.OrderListFilter{
		TenantID:   order.TenantID,
		Pagination: domain.Pagination{PageSize: 10},
	})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
