package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Xenovative/PMBot/internal/domain"
)

type stubWriter struct {
	paths        []string
	contentTypes []string
	bodies       [][]byte
	err          error
}

func (w *stubWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.paths = append(w.paths, path)
	w.contentTypes = append(w.contentTypes, contentType)
	w.bodies = append(w.bodies, body)
	return nil
}

type stubTradeStore struct {
	records []domain.TradeRecord
	err     error
}

func (s *stubTradeStore) ListBefore(context.Context, time.Time) ([]domain.TradeRecord, error) {
	return s.records, s.err
}

type stubMergeStore struct {
	records []domain.MergeRecord
}

func (s *stubMergeStore) ListBefore(context.Context, time.Time) ([]domain.MergeRecord, error) {
	return s.records, nil
}

type stubScanStore struct {
	rows []domain.ScanRow
}

func (s *stubScanStore) ListBefore(context.Context, time.Time) ([]domain.ScanRow, error) {
	return s.rows, nil
}

func newTestArchiver(w *stubWriter, trades *stubTradeStore, merges *stubMergeStore, scans *stubScanStore) *Archiver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(w, trades, merges, scans, logger)
}

func TestArchiveTrades(t *testing.T) {
	cutoff := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	trades := &stubTradeStore{records: []domain.TradeRecord{
		{ID: "t1", MarketSlug: "btc-up-or-down", Status: domain.TradeStatusExecuted},
		{ID: "t2", MarketSlug: "eth-up-or-down", Status: domain.TradeStatusSimulated},
	}}
	writer := &stubWriter{}
	arch := newTestArchiver(writer, trades, &stubMergeStore{}, &stubScanStore{})

	count, err := arch.ArchiveTrades(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if len(writer.paths) != 1 || writer.paths[0] != "archive/trades/2025-03.jsonl" {
		t.Fatalf("paths = %v", writer.paths)
	}
	if writer.contentTypes[0] != "application/x-ndjson" {
		t.Fatalf("content type = %q", writer.contentTypes[0])
	}

	lines := strings.Split(strings.TrimRight(string(writer.bodies[0]), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var first domain.TradeRecord
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 not valid JSON: %v", err)
	}
	if first.ID != "t1" {
		t.Fatalf("first archived trade = %q, want t1", first.ID)
	}
}

func TestArchiveSkipsEmpty(t *testing.T) {
	writer := &stubWriter{}
	arch := newTestArchiver(writer, &stubTradeStore{}, &stubMergeStore{}, &stubScanStore{})

	count, err := arch.ArchiveTrades(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
	if len(writer.paths) != 0 {
		t.Fatalf("upload happened for empty record set: %v", writer.paths)
	}
}

func TestArchiveQueryFailure(t *testing.T) {
	wantErr := errors.New("connection refused")
	writer := &stubWriter{}
	arch := newTestArchiver(writer, &stubTradeStore{err: wantErr}, &stubMergeStore{}, &stubScanStore{})

	_, err := arch.ArchiveTrades(context.Background(), time.Now())
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
	if len(writer.paths) != 0 {
		t.Fatalf("upload happened after query failure: %v", writer.paths)
	}
}

func TestArchiveUploadFailure(t *testing.T) {
	wantErr := errors.New("access denied")
	writer := &stubWriter{err: wantErr}
	trades := &stubTradeStore{records: []domain.TradeRecord{{ID: "t1"}}}
	arch := newTestArchiver(writer, trades, &stubMergeStore{}, &stubScanStore{})

	_, err := arch.ArchiveTrades(context.Background(), time.Now())
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestArchiveMergesAndScansPaths(t *testing.T) {
	cutoff := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	merges := &stubMergeStore{records: []domain.MergeRecord{{ConditionID: "0xabc", Amount: 50}}}
	scans := &stubScanStore{rows: []domain.ScanRow{{MarketSlug: "sol-up-or-down", Viable: true}}}
	writer := &stubWriter{}
	arch := newTestArchiver(writer, &stubTradeStore{}, merges, scans)

	if _, err := arch.ArchiveMerges(context.Background(), cutoff); err != nil {
		t.Fatalf("ArchiveMerges: %v", err)
	}
	if _, err := arch.ArchiveScans(context.Background(), cutoff); err != nil {
		t.Fatalf("ArchiveScans: %v", err)
	}

	want := []string{"archive/merges/2025-07.jsonl", "archive/scans/2025-07.jsonl"}
	for i, p := range want {
		if writer.paths[i] != p {
			t.Fatalf("paths[%d] = %q, want %q", i, writer.paths[i], p)
		}
	}
}

func TestMarshalJSONLDoesNotEscapeHTML(t *testing.T) {
	buf, err := marshalJSONL([]domain.TradeRecord{{Details: "cost < 0.99 & spread > 0"}})
	if err != nil {
		t.Fatalf("marshalJSONL: %v", err)
	}
	if !bytes.Contains(buf, []byte("cost < 0.99 & spread > 0")) {
		t.Fatalf("HTML characters were escaped: %s", buf)
	}
}
