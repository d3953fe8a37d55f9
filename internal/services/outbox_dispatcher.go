package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/foodcourt/orders-api/internal/domain"
	"github.com/foodcourt/orders-api/internal/repositories"
)

const (
	outboxEventDone     = "outbox.entry.done"
	outboxEventRetry    = "outbox.entry.deferred"
	outboxEventDead     = "outbox.entry.dead"
	outboxEventArchive  = "outbox.archive.failed"
	outboxEventCustomer = "outbox.customer.lookup.failed"

	defaultOutboxBatch       = 50
	defaultOutboxLease       = 30 * time.Second
	defaultOutboxMaxAttempts = 8
	defaultOutboxBaseBackoff = 5 * time.Second
	defaultOutboxMaxBackoff  = 10 * time.Minute

	outboxMeterName = "github.com/foodcourt/orders-api/outbox"
)

// PaymentSessionOpener opens gateway sessions. *PaymentOrchestrator satisfies it.
type PaymentSessionOpener interface {
	OpenSession(ctx context.Context, req PaymentRequest) (*domain.PaymentSession, error)
}

// DeadLetterSink keeps entries that exhausted their retries.
type DeadLetterSink interface {
	Archive(ctx context.Context, entry domain.OutboxEntry, order *domain.Order) error
}

// DriveResult reports what an inline drive achieved.
type DriveResult struct {
	PaymentURL   string
	PaymentErr   error
	EventErr     error
	PaymentDone  bool
	EventsIssued int
}

// DispatchReport summarises one dispatcher pass.
type DispatchReport struct {
	Claimed int
	Done    int
	Retried int
	Dead    int
}

// OutboxDispatcherDeps bundles collaborators for the dispatcher.
type OutboxDispatcherDeps struct {
	Outbox      repositories.OutboxRepository
	Orders      repositories.OrderRepository
	Customers   repositories.CustomerRepository
	Payments    PaymentSessionOpener
	Events      EventPublisher
	DeadLetters DeadLetterSink
	Meter       metric.Meter
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)

	BatchSize   int
	Lease       time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// OutboxDispatcher drives persisted side-effect intents to completion.
type OutboxDispatcher struct {
	outbox      repositories.OutboxRepository
	orders      repositories.OrderRepository
	customers   repositories.CustomerRepository
	payments    PaymentSessionOpener
	events      EventPublisher
	deadLetters DeadLetterSink
	outcomes    metric.Int64Counter
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)

	batchSize   int
	lease       time.Duration
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

var _ IntentDriver = (*OutboxDispatcher)(nil)

// NewOutboxDispatcher constructs an OutboxDispatcher. Payments may be nil when card payments are disabled.
func NewOutboxDispatcher(deps OutboxDispatcherDeps) (*OutboxDispatcher, error) {
	if deps.Outbox == nil {
		return nil, errors.New("outbox dispatcher: outbox repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("outbox dispatcher: order repository is required")
	}
	if deps.Events == nil {
		return nil, errors.New("outbox dispatcher: event publisher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(outboxMeterName)
	}
	outcomes, err := meter.Int64Counter("outbox.entries.processed",
		metric.WithDescription("Outbox entries processed, by kind and outcome"))
	if err != nil {
		return nil, fmt.Errorf("outbox dispatcher: counter: %w", err)
	}

	return &OutboxDispatcher{
		outbox:      deps.Outbox,
		orders:      deps.Orders,
		customers:   deps.Customers,
		payments:    deps.Payments,
		events:      deps.Events,
		deadLetters: deps.DeadLetters,
		outcomes:    outcomes,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		batchSize:   positiveOr(deps.BatchSize, defaultOutboxBatch),
		lease:       durationOr(deps.Lease, defaultOutboxLease),
		maxAttempts: positiveOr(deps.MaxAttempts, defaultOutboxMaxAttempts),
		baseBackoff: durationOr(deps.BaseBackoff, defaultOutboxBaseBackoff),
		maxBackoff:  durationOr(deps.MaxBackoff, defaultOutboxMaxBackoff),
	}, nil
}

// DriveOrder claims the order's pending entries and runs them, payment first.
func (d *OutboxDispatcher) DriveOrder(ctx context.Context, orderID string) (DriveResult, error) {
	entries, err := d.outbox.ClaimForOrder(ctx, orderID, d.clock(), d.lease)
	if err != nil {
		return DriveResult{}, fmt.Errorf("outbox dispatcher: claim %s: %w", orderID, err)
	}
	sortForDrive(entries)

	var result DriveResult
	for _, entry := range entries {
		url, execErr := d.process(ctx, entry)
		switch entry.Kind {
		case domain.OutboxKindPaymentSession:
			result.PaymentErr = execErr
			if execErr == nil {
				result.PaymentDone = true
				result.PaymentURL = url
			}
		case domain.OutboxKindLifecycleEvent:
			if execErr != nil {
				result.EventErr = execErr
			} else {
				result.EventsIssued++
			}
		}
	}
	return result, nil
}

// DispatchDue runs one batch of due entries.
func (d *OutboxDispatcher) DispatchDue(ctx context.Context) (DispatchReport, error) {
	entries, err := d.outbox.ClaimDue(ctx, d.clock(), d.lease, d.batchSize)
	report := DispatchReport{Claimed: len(entries)}
	if err != nil && len(entries) == 0 {
		return report, fmt.Errorf("outbox dispatcher: claim due: %w", err)
	}
	sortForDrive(entries)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		before := entry.Attempts
		if _, execErr := d.process(ctx, entry); execErr == nil {
			report.Done++
		} else if before+1 >= d.maxAttempts {
			report.Dead++
		} else {
			report.Retried++
		}
	}
	return report, err
}

// Run dispatches due entries every interval until ctx ends.
func (d *OutboxDispatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := d.DispatchDue(ctx)
			if err != nil {
				d.logger(ctx, "outbox.dispatch.failed", map[string]any{"error": err.Error()})
				continue
			}
			if report.Claimed > 0 {
				d.logger(ctx, "outbox.dispatch.completed", map[string]any{
					"claimed": report.Claimed,
					"done":    report.Done,
					"retried": report.Retried,
					"dead":    report.Dead,
				})
			}
		}
	}
}

// process executes a claimed entry and settles it. The returned error is the execution error.
func (d *OutboxDispatcher) process(ctx context.Context, entry domain.OutboxEntry) (string, error) {
	order, err := d.orders.FindByID(ctx, entry.OrderID)
	var url string
	if err == nil {
		url, err = d.execute(ctx, entry, order)
	}

	now := d.clock()
	if err == nil {
		if markErr := d.outbox.MarkDone(ctx, entry.ID, now); markErr != nil {
			// The lease lapses and the entry is retried; both side effects are idempotent.
			d.logger(ctx, "outbox.mark_done.failed", map[string]any{"entryId": entry.ID, "error": markErr.Error()})
		}
		d.record(ctx, entry.Kind, "done")
		d.logger(ctx, outboxEventDone, map[string]any{"entryId": entry.ID, "orderId": entry.OrderID, "kind": string(entry.Kind)})
		return url, nil
	}

	attempts := entry.Attempts + 1
	failure := repositories.OutboxFailure{
		Attempts:      attempts,
		NextAttemptAt: now.Add(d.backoff(attempts)),
		LastError:     truncateError(err.Error(), 512),
		Dead:          attempts >= d.maxAttempts,
	}
	if markErr := d.outbox.MarkFailed(ctx, entry.ID, failure, now); markErr != nil {
		d.logger(ctx, "outbox.mark_failed.failed", map[string]any{"entryId": entry.ID, "error": markErr.Error()})
	}

	fields := map[string]any{
		"entryId":  entry.ID,
		"orderId":  entry.OrderID,
		"kind":     string(entry.Kind),
		"attempts": attempts,
		"error":    err.Error(),
	}
	if failure.Dead {
		d.record(ctx, entry.Kind, "dead")
		d.logger(ctx, outboxEventDead, fields)
		d.archive(ctx, entry, failure, now)
	} else {
		d.record(ctx, entry.Kind, "retry")
		fields["nextAttemptAt"] = failure.NextAttemptAt
		d.logger(ctx, outboxEventRetry, fields)
	}
	return "", err
}

func (d *OutboxDispatcher) execute(ctx context.Context, entry domain.OutboxEntry, order domain.Order) (string, error) {
	switch entry.Kind {
	case domain.OutboxKindPaymentSession:
		return d.openPayment(ctx, entry, order)
	case domain.OutboxKindLifecycleEvent:
		return "", d.publish(ctx, entry, order)
	default:
		return "", fmt.Errorf("outbox dispatcher: unknown entry kind %q", entry.Kind)
	}
}

func (d *OutboxDispatcher) openPayment(ctx context.Context, entry domain.OutboxEntry, order domain.Order) (string, error) {
	// A session attached by an earlier attempt is reused.
	if order.PaymentSessionID != "" && order.PaymentURL != "" {
		return order.PaymentURL, nil
	}
	if d.payments == nil {
		return "", fmt.Errorf("%w: payments are not configured", ErrPaymentUnavailable)
	}
	var email string
	if customer := d.lookupCustomer(ctx, order); customer != nil {
		email = customer.Email
	}
	session, err := d.payments.OpenSession(ctx, PaymentRequest{
		Amount:         order.Totals.FinalTotal,
		OrderID:        order.ID,
		TenantID:       order.TenantID,
		Currency:       order.Currency,
		IdempotencyKey: entry.IdempotencyKey,
		Mode:           order.PaymentMode,
		CustomerEmail:  email,
	})
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	updated, err := d.orders.AttachPaymentSession(ctx, order.ID, *session, d.clock())
	if err != nil {
		return "", fmt.Errorf("outbox dispatcher: attach payment session: %w", err)
	}
	return updated.PaymentURL, nil
}

// publish reports the order as of the transition that queued entry, not as it is now.
func (d *OutboxDispatcher) publish(ctx context.Context, entry domain.OutboxEntry, order domain.Order) error {
	if entry.NewStatus != "" {
		order.OrderStatus = entry.NewStatus
		order.UpdatedAt = entry.CreatedAt
	}
	return d.events.Publish(ctx, LifecycleEvent{
		EventType:      entry.EventType,
		OrderID:        order.ID,
		TenantID:       order.TenantID,
		PreviousStatus: entry.PreviousStatus,
		Order:          order,
		Customer:       d.lookupCustomer(ctx, order),
		OccurredAt:     entry.CreatedAt,
	})
}

// lookupCustomer returns nil when the profile cannot be read; events go out without it.
func (d *OutboxDispatcher) lookupCustomer(ctx context.Context, order domain.Order) *domain.Customer {
	if d.customers == nil || order.CustomerID == "" {
		return nil
	}
	customer, err := d.customers.FindByID(ctx, order.CustomerID)
	if err != nil {
		d.logger(ctx, outboxEventCustomer, map[string]any{"orderId": order.ID, "customerId": order.CustomerID, "error": err.Error()})
		return nil
	}
	return &customer
}

func (d *OutboxDispatcher) archive(ctx context.Context, entry domain.OutboxEntry, failure repositories.OutboxFailure, now time.Time) {
	if d.deadLetters == nil {
		return
	}
	entry.Status = domain.OutboxStatusDead
	entry.Attempts = failure.Attempts
	entry.LastError = failure.LastError
	entry.UpdatedAt = now
	var snapshot *domain.Order
	if order, err := d.orders.FindByID(ctx, entry.OrderID); err == nil {
		snapshot = &order
	}
	if err := d.deadLetters.Archive(ctx, entry, snapshot); err != nil {
		d.logger(ctx, outboxEventArchive, map[string]any{"entryId": entry.ID, "error": err.Error()})
	}
}

// backoff doubles from the base per attempt and is capped at the maximum.
func (d *OutboxDispatcher) backoff(attempts int) time.Duration {
	delay := d.baseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.maxBackoff || delay <= 0 {
			return d.maxBackoff
		}
	}
	if delay > d.maxBackoff {
		return d.maxBackoff
	}
	return delay
}

func (d *OutboxDispatcher) record(ctx context.Context, kind domain.OutboxKind, outcome string) {
	d.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}

// sortForDrive puts payment sessions ahead of events, then oldest first.
func sortForDrive(entries []domain.OutboxEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := entries[i].Kind == domain.OutboxKindPaymentSession, entries[j].Kind == domain.OutboxKindPaymentSession
		if pi != pj {
			return pi
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func truncateError(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	return msg[:limit]
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
