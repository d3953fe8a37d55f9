package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/foodcourt/orders-api/internal/domain"
)

type bufferWriter struct {
	bytes.Buffer
	closeErr error
}

func (w *bufferWriter) Close() error { return w.closeErr }

type memorySink struct {
	objects  map[string]*bufferWriter
	closeErr error
}

func (s *memorySink) NewWriter(_ context.Context, bucket, object string) io.WriteCloser {
	if s.objects == nil {
		s.objects = make(map[string]*bufferWriter)
	}
	w := &bufferWriter{closeErr: s.closeErr}
	s.objects[bucket+"/"+object] = w
	return w
}

func TestDeadLetterArchiveWritesEntryAndOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	sink := &memorySink{}
	archive := NewDeadLetterArchive(sink, "dead-letters", func() time.Time { return now })

	entry := domain.OutboxEntry{ID: "obx_1", OrderID: "ord_1", TenantID: "t1", Kind: domain.OutboxKindLifecycleEvent, LastError: "broker down"}
	order := &domain.Order{ID: "ord_1", TenantID: "t1"}
	if err := archive.Archive(context.Background(), entry, order); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	obj, ok := sink.objects["dead-letters/outbox/dead/t1/2025/06/01/obx_1.json"]
	if !ok {
		t.Fatalf("expected entry object, got %v", keys(sink.objects))
	}
	var record deadLetterRecord
	if err := json.Unmarshal(obj.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.Entry.LastError != "broker down" || !record.ArchivedAt.Equal(now) {
		t.Fatalf("unexpected record: %+v", record)
	}
	if _, ok := sink.objects["dead-letters/outbox/dead/t1/2025/06/01/obx_1.order-ord_1.json"]; !ok {
		t.Fatalf("expected order snapshot, got %v", keys(sink.objects))
	}
}

func TestDeadLetterArchiveSurfacesCloseError(t *testing.T) {
	boom := errors.New("precondition failed")
	archive := NewDeadLetterArchive(&memorySink{closeErr: boom}, "b", nil)

	err := archive.Archive(context.Background(), domain.OutboxEntry{ID: "obx_1", TenantID: "t1"}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected close error, got %v", err)
	}
}

func TestNilDeadLetterArchiveDiscards(t *testing.T) {
	archive := NewDeadLetterArchive(&memorySink{}, "  ", nil)
	if archive != nil {
		t.Fatal("expected nil archive without bucket")
	}
	if err := archive.Archive(context.Background(), domain.OutboxEntry{}, nil); err != nil {
		t.Fatalf("expected nil archive to discard, got %v", err)
	}
}

func keys(m map[string]*bufferWriter) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
