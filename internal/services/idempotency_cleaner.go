package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foodcourt/orders-api/internal/repositories"
)

const defaultCleanupBatch = 200

// IdempotencyCleanerDeps bundles collaborators for the cleaner.
type IdempotencyCleanerDeps struct {
	Records   repositories.IdempotencyRepository
	BatchSize int
	// MaxBatches bounds one Cleanup call. Zero means 10.
	MaxBatches int
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// IdempotencyCleaner removes records whose replay window has closed.
type IdempotencyCleaner struct {
	records    repositories.IdempotencyRepository
	batchSize  int
	maxBatches int
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewIdempotencyCleaner constructs an IdempotencyCleaner.
func NewIdempotencyCleaner(deps IdempotencyCleanerDeps) (*IdempotencyCleaner, error) {
	if deps.Records == nil {
		return nil, errors.New("idempotency cleaner: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &IdempotencyCleaner{
		records:    deps.Records,
		batchSize:  positiveOr(deps.BatchSize, defaultCleanupBatch),
		maxBatches: positiveOr(deps.MaxBatches, 10),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Cleanup deletes expired records batch by batch and returns how many were removed.
func (c *IdempotencyCleaner) Cleanup(ctx context.Context) (int, error) {
	now := c.clock()
	total := 0
	for i := 0; i < c.maxBatches; i++ {
		removed, err := c.records.CleanupExpired(ctx, now, c.batchSize)
		total += removed
		if err != nil {
			c.logger(ctx, "idempotency.cleanup.failed", map[string]any{"removed": total, "error": err.Error()})
			return total, fmt.Errorf("idempotency cleaner: %w", err)
		}
		if removed < c.batchSize {
			break
		}
	}
	if total > 0 {
		c.logger(ctx, "idempotency.cleanup.completed", map[string]any{"removed": total})
	}
	return total, nil
}

// Run cleans up every interval until ctx ends.
func (c *IdempotencyCleaner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = c.Cleanup(ctx)
		}
	}
}
