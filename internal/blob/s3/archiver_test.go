package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/store/memory"
)

// fakeBucket keeps objects in memory and can be told to drop writes.
type fakeBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	dropPuts  bool
	multipart int
}

func newFakeBucket() *fakeBucket { return &fakeBucket{objects: make(map[string][]byte)} }

func (b *fakeBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dropPuts {
		b.objects[path] = body
	}
	return nil
}

func (b *fakeBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	b.mu.Lock()
	b.multipart++
	b.mu.Unlock()
	return b.Put(ctx, path, data, "")
}

func (b *fakeBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (b *fakeBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for p, body := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(body))})
		}
	}
	return out, nil
}

func (b *fakeBucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func seedReceipts(t *testing.T, store *memory.ReceiptStore, at ...time.Time) {
	t.Helper()
	for i, ts := range at {
		err := store.Insert(context.Background(), domain.SettlementReceipt{
			ID:        string(rune('a' + i)),
			Price:     uint64(1000 * (i + 1)),
			SettledAt: ts,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestArchiveReceiptsUploadsThenPrunes(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	receipts := memory.NewReceiptStore()
	audit := memory.NewAuditStore()

	cutoff := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedReceipts(t, receipts,
		cutoff.Add(-48*time.Hour),
		cutoff.Add(-time.Hour),
		cutoff.Add(time.Hour),
	)

	a := NewArchiver(bucket, bucket, receipts, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC) }

	n, err := a.ArchiveReceipts(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchiveReceipts: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d, want 2", n)
	}

	path := "archive/receipts/2025-01/20250201T030000Z.jsonl"
	got, err := a.ReadArchive(ctx, path)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("archive holds %d receipts, want 2", len(got))
	}

	left, err := receipts.ListBefore(ctx, cutoff.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || !left[0].SettledAt.After(cutoff) {
		t.Fatalf("store after archive = %+v, want only the newer receipt", left)
	}

	entries, err := audit.List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Event != "archive.receipts" {
		t.Fatalf("audit = %+v, want one archive.receipts entry", entries)
	}
	if bucket.multipart != 0 {
		t.Fatalf("small archive used multipart upload")
	}
}

func TestArchiveReceiptsNothingToDo(t *testing.T) {
	bucket := newFakeBucket()
	a := NewArchiver(bucket, bucket, memory.NewReceiptStore(), memory.NewAuditStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchiveReceipts(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("ArchiveReceipts on empty store = %d, %v", n, err)
	}
	if len(bucket.objects) != 0 {
		t.Fatalf("empty run uploaded %d objects", len(bucket.objects))
	}
}

func TestArchiveReceiptsKeepsRowsWhenUploadMissing(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	bucket.dropPuts = true
	receipts := memory.NewReceiptStore()
	cutoff := time.Now().UTC()
	seedReceipts(t, receipts, cutoff.Add(-time.Hour))

	a := NewArchiver(bucket, bucket, receipts, memory.NewAuditStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := a.ArchiveReceipts(ctx, cutoff); err == nil {
		t.Fatal("expected verification failure")
	}
	left, _ := receipts.ListBefore(ctx, cutoff)
	if len(left) != 1 {
		t.Fatalf("unverified archive pruned rows: %d left", len(left))
	}
}

func TestReadArchiveMissing(t *testing.T) {
	bucket := newFakeBucket()
	a := NewArchiver(bucket, bucket, memory.NewReceiptStore(), memory.NewAuditStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := a.ReadArchive(context.Background(), "archive/none.jsonl"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ReadArchive missing = %v, want ErrNotFound", err)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		ssl    bool
		expect string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"e2.example.com", true, "https://e2.example.com"},
		{"https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, tc := range cases {
		if got := normaliseEndpoint(tc.in, tc.ssl); got != tc.expect {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tc.in, tc.ssl, got, tc.expect)
		}
	}
}
