package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Xenovative/PMBot/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the time-ranged query methods it actually calls,
// not the full domain store interfaces. The Postgres stores satisfy these
// implicitly.
// ---------------------------------------------------------------------------

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
}

// MergeArchiveStore provides read access to merge history for archival
// purposes.
type MergeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.MergeRecord, error)
}

// ScanArchiveStore provides read access to scan observations for archival
// purposes.
type ScanArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ScanRow, error)
}

// ---------------------------------------------------------------------------
// Archiver
// ---------------------------------------------------------------------------

// Archiver queries the stores for records older than a cutoff, serializes
// them to JSONL, and uploads the result to S3 under a monthly key.
//
// Deletion of the archived rows from Postgres is intentionally NOT performed
// here. The retention job deletes rows in a separate, explicit step after
// the upload has succeeded.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	merges MergeArchiveStore
	scans  ScanArchiveStore
	logger *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	trades TradeArchiveStore,
	merges MergeArchiveStore,
	scans ScanArchiveStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		merges: merges,
		scans:  scans,
		logger: logger,
	}
}

// ArchiveTrades uploads all trades before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the number of archived records.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return upload(ctx, a, "trades", before, records)
}

// ArchiveMerges uploads all merge records before the cutoff to
// archive/merges/YYYY-MM.jsonl and returns the number of archived records.
func (a *Archiver) ArchiveMerges(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.merges.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive merges query: %w", err)
	}
	return upload(ctx, a, "merges", before, records)
}

// ArchiveScans uploads all scan observations before the cutoff to
// archive/scans/YYYY-MM.jsonl and returns the number of archived records.
func (a *Archiver) ArchiveScans(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.scans.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive scans query: %w", err)
	}
	return upload(ctx, a, "scans", before, rows)
}

// upload serializes records to JSONL and writes them to the archive key for
// the given kind. Empty record sets are skipped without an upload.
func upload[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	a.logger.Info("archived records",
		"kind", kind,
		"path", path,
		"count", count,
		"before", before.Format(time.RFC3339),
	)
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/merges/2025-01.jsonl
//	archive/scans/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
