package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/custodex/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 16 * 1024 * 1024
)

var _ domain.Archiver = (*ReceiptArchiver)(nil)

// ReceiptArchiver moves settlement receipts older than a cutoff into the
// bucket as one JSONL object per run, then removes them from the primary
// store. Rows are only deleted after the object is confirmed present with the
// expected size.
type ReceiptArchiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	receipts domain.ReceiptStore
	audit    domain.AuditStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates a ReceiptArchiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	receipts domain.ReceiptStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ReceiptArchiver {
	return &ReceiptArchiver{
		writer:   writer,
		reader:   reader,
		receipts: receipts,
		audit:    audit,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// ArchiveReceipts uploads every receipt settled before the cutoff and
// returns how many were archived.
func (a *ReceiptArchiver) ArchiveReceipts(ctx context.Context, before time.Time) (int64, error) {
	receipts, err := a.receipts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts query: %w", err)
	}
	if len(receipts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(receipts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts marshal: %w", err)
	}

	path := archivePath("receipts", before, a.now())
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts upload: %w", err)
	}

	if err := a.verify(ctx, path, int64(len(buf))); err != nil {
		return 0, err
	}

	deleted, err := a.receipts.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts prune: %w", err)
	}
	count := int64(len(receipts))
	if deleted != count {
		a.logger.Warn("archived and pruned counts differ",
			slog.Int64("archived", count),
			slog.Int64("pruned", deleted),
		)
	}

	if err := a.audit.Log(ctx, "archive.receipts", map[string]any{
		"path":   path,
		"count":  count,
		"bytes":  len(buf),
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive receipts audit log: %w", err)
	}

	a.logger.Info("archived receipts",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

func (a *ReceiptArchiver) verify(ctx context.Context, path string, size int64) error {
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive receipts verify: %w", err)
	}
	if !ok {
		return fmt.Errorf("s3blob: archive receipts verify: %s missing after upload", path)
	}
	infos, err := a.reader.List(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive receipts verify: %w", err)
	}
	for _, info := range infos {
		if info.Path == path {
			if info.Size != size {
				return fmt.Errorf("s3blob: archive receipts verify: %s is %d bytes, wrote %d", path, info.Size, size)
			}
			return nil
		}
	}
	return fmt.Errorf("s3blob: archive receipts verify: %s not listed", path)
}

// ReadArchive decodes a receipts object written by ArchiveReceipts.
func (a *ReceiptArchiver) ReadArchive(ctx context.Context, path string) ([]domain.SettlementReceipt, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []domain.SettlementReceipt
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var r domain.SettlementReceipt
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("s3blob: read archive %s line %d: %w", path, len(out)+1, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read archive %s: %w", path, err)
	}
	return out, nil
}

// Run archives receipts older than retention every interval until ctx ends.
func (a *ReceiptArchiver) Run(ctx context.Context, interval, retention time.Duration) error {
	a.logger.Info("archiver started",
		slog.Duration("interval", interval),
		slog.Duration("retention", retention),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			cutoff := a.now().UTC().Add(-retention)
			if _, err := a.ArchiveReceipts(ctx, cutoff); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath keys an archive object by cutoff month and run time so that
// repeated runs never overwrite each other.
//
//	archive/receipts/2025-01/20250131T030000Z.jsonl
func archivePath(kind string, before, runAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.UTC().Format("2006-01"), runAt.UTC().Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
