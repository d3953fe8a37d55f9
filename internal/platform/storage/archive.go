package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/foodcourt/orders-api/internal/domain"
)

// ObjectSink opens object writers. *gcs.Client is adapted by NewGCSSink.
type ObjectSink interface {
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
}

type gcsSink struct {
	client *gcs.Client
}

// NewGCSSink writes objects through a Cloud Storage client. Existing objects are never overwritten.
func NewGCSSink(client *gcs.Client) ObjectSink {
	return gcsSink{client: client}
}

func (s gcsSink) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	w := s.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	return w
}

// DeadLetterArchive keeps outbox entries that exhausted their retries for manual replay.
type DeadLetterArchive struct {
	sink   ObjectSink
	bucket string
	now    func() time.Time
}

// NewDeadLetterArchive returns nil when bucket is empty; a nil archive discards entries.
func NewDeadLetterArchive(sink ObjectSink, bucket string, now func() time.Time) *DeadLetterArchive {
	bucket = strings.TrimSpace(bucket)
	if sink == nil || bucket == "" {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &DeadLetterArchive{sink: sink, bucket: bucket, now: now}
}

type deadLetterRecord struct {
	Entry      domain.OutboxEntry `json:"entry"`
	ArchivedAt time.Time          `json:"archivedAt"`
}

// Archive writes entry and, when known, the order it belonged to.
func (a *DeadLetterArchive) Archive(ctx context.Context, entry domain.OutboxEntry, order *domain.Order) error {
	if a == nil {
		return nil
	}
	at := a.now().UTC()
	params := PathParams{TenantID: entry.TenantID, OrderID: entry.OrderID, EntryID: entry.ID, At: at}

	path, err := BuildObjectPath(PurposeDeadLetter, params)
	if err != nil {
		return err
	}
	if err := a.write(ctx, path, deadLetterRecord{Entry: entry, ArchivedAt: at}); err != nil {
		return err
	}
	if order == nil {
		return nil
	}
	path, err = BuildObjectPath(PurposeOrderSnapshot, params)
	if err != nil {
		return err
	}
	return a.write(ctx, path, order)
}

func (a *DeadLetterArchive) write(ctx context.Context, object string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", object, err)
	}
	w := a.sink.NewWriter(ctx, a.bucket, object)
	_, writeErr := w.Write(data)
	closeErr := w.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		return fmt.Errorf("storage: write gs://%s/%s: %w", a.bucket, object, err)
	}
	return nil
}
