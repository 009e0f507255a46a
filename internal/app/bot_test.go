package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	s3blob "github.com/Xenovative/PMBot/internal/blob/s3"
	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/domain"
	"github.com/Xenovative/PMBot/internal/engine"
	"github.com/Xenovative/PMBot/internal/notify"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type stubTradeStore struct {
	inserted []domain.TradeRecord
	old      []domain.TradeRecord
	deleted  int64
}

func (s *stubTradeStore) Insert(_ context.Context, rec domain.TradeRecord) error {
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *stubTradeStore) ListRecent(context.Context, int) ([]domain.TradeRecord, error) {
	return s.inserted, nil
}

func (s *stubTradeStore) ListBefore(context.Context, time.Time) ([]domain.TradeRecord, error) {
	return s.old, nil
}

func (s *stubTradeStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	s.deleted = int64(len(s.old))
	return s.deleted, nil
}

type stubMergeStore struct {
	inserted []domain.MergeRecord
	deleted  int64
}

func (s *stubMergeStore) Insert(_ context.Context, rec domain.MergeRecord) error {
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *stubMergeStore) ListRecent(context.Context, int) ([]domain.MergeRecord, error) {
	return s.inserted, nil
}

func (s *stubMergeStore) ListBefore(context.Context, time.Time) ([]domain.MergeRecord, error) {
	return nil, nil
}

func (s *stubMergeStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	s.deleted++
	return 0, nil
}

type stubScanStore struct {
	batches [][]domain.ScanRow
	deleted int64
}

func (s *stubScanStore) InsertBatch(_ context.Context, rows []domain.ScanRow) error {
	s.batches = append(s.batches, rows)
	return nil
}

func (s *stubScanStore) ListBefore(context.Context, time.Time) ([]domain.ScanRow, error) {
	return nil, nil
}

func (s *stubScanStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	s.deleted++
	return 0, nil
}

func (s *stubScanStore) DailySummary(context.Context, time.Time) (domain.DailySummary, error) {
	return domain.DailySummary{}, nil
}

type stubBlobWriter struct {
	paths []string
	err   error
}

func (s *stubBlobWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if s.err != nil {
		return s.err
	}
	if _, err := io.ReadAll(data); err != nil {
		return err
	}
	s.paths = append(s.paths, path)
	return nil
}

type captureSender struct {
	titles []string
}

func (s *captureSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return nil
}

func (s *captureSender) Name() string { return "capture" }

func newTestBot(t *testing.T, cfg config.Config, deps *Dependencies) (*Bot, *captureSender) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sender := &captureSender{}
	deps.Notifier = notify.NewNotifier([]notify.Sender{sender}, nil, logger)

	eng := engine.New(&cfg, nil, nil, nil, domain.NewEngineStatus(), logger)
	b := NewBot(eng, deps, nil, logger)
	b.now = func() time.Time { return testNow }
	return b, sender
}

func TestFlushTradesPersistsNewRecordsOnce(t *testing.T) {
	trades := &stubTradeStore{}
	b, sender := newTestBot(t, config.Defaults(), &Dependencies{TradeStore: trades})

	status := b.eng.Status()
	status.Lock()
	status.TradeHistory = append(status.TradeHistory,
		domain.TradeRecord{ID: "t1", TradeType: "arbitrage", MarketSlug: "btc-updown", Status: domain.TradeStatusSimulated},
		domain.TradeRecord{ID: "t2", TradeType: "stop_loss", MarketSlug: "eth-updown", Status: domain.TradeStatusExecuted},
	)
	status.Unlock()

	b.flushTrades(context.Background())
	if len(trades.inserted) != 2 {
		t.Fatalf("inserted %d records, want 2", len(trades.inserted))
	}

	// A second flush with no new history is a no-op.
	b.flushTrades(context.Background())
	if len(trades.inserted) != 2 {
		t.Fatalf("re-flush inserted %d records, want 2", len(trades.inserted))
	}

	// Stop-loss records get their own notification shape.
	if len(sender.titles) != 2 {
		t.Fatalf("notifications = %d, want 2", len(sender.titles))
	}
	if !strings.HasPrefix(sender.titles[1], "Stop loss") {
		t.Fatalf("second title = %q, want stop-loss notification", sender.titles[1])
	}

	// New history after the watermark flushes incrementally.
	status.Lock()
	status.TradeHistory = append(status.TradeHistory,
		domain.TradeRecord{ID: "t3", TradeType: "bargain", Status: domain.TradeStatusExecuted})
	status.Unlock()
	b.flushTrades(context.Background())
	if len(trades.inserted) != 3 || trades.inserted[2].ID != "t3" {
		t.Fatalf("incremental flush failed: %+v", trades.inserted)
	}
}

func TestFlushTradesWithoutStoreStillNotifies(t *testing.T) {
	b, sender := newTestBot(t, config.Defaults(), &Dependencies{})

	status := b.eng.Status()
	status.Lock()
	status.TradeHistory = append(status.TradeHistory,
		domain.TradeRecord{ID: "t1", TradeType: "arbitrage", Status: domain.TradeStatusSimulated})
	status.Unlock()

	b.flushTrades(context.Background())
	if len(sender.titles) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sender.titles))
	}
}

func TestRunRetentionArchivesThenDeletes(t *testing.T) {
	trades := &stubTradeStore{old: []domain.TradeRecord{{ID: "old1"}, {ID: "old2"}}}
	merges := &stubMergeStore{}
	scans := &stubScanStore{}
	writer := &stubBlobWriter{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := &Dependencies{
		TradeStore: trades,
		MergeStore: merges,
		ScanStore:  scans,
		Archiver:   s3blob.NewArchiver(writer, trades, merges, scans, logger),
	}

	cfg := config.Defaults()
	cfg.S3.RetentionDays = 30
	b, _ := newTestBot(t, cfg, deps)

	b.runRetention(context.Background())

	if len(writer.paths) != 1 || writer.paths[0] != "archive/trades/2025-05.jsonl" {
		t.Fatalf("archive paths = %v", writer.paths)
	}
	if trades.deleted != 2 {
		t.Fatalf("deleted %d trade rows, want 2", trades.deleted)
	}
	// Kinds with nothing to archive are never pruned.
	if merges.deleted != 0 || scans.deleted != 0 {
		t.Fatalf("empty kinds were pruned: merges=%d scans=%d", merges.deleted, scans.deleted)
	}
}

func TestRunRetentionSkipsDeleteWhenUploadFails(t *testing.T) {
	trades := &stubTradeStore{old: []domain.TradeRecord{{ID: "old1"}}}
	writer := &stubBlobWriter{err: errors.New("bucket gone")}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := &Dependencies{
		TradeStore: trades,
		MergeStore: &stubMergeStore{},
		ScanStore:  &stubScanStore{},
		Archiver:   s3blob.NewArchiver(writer, trades, &stubMergeStore{}, &stubScanStore{}, logger),
	}

	cfg := config.Defaults()
	cfg.S3.RetentionDays = 30
	b, _ := newTestBot(t, cfg, deps)

	b.runRetention(context.Background())
	if trades.deleted != 0 {
		t.Fatal("rows deleted despite failed archive upload")
	}
}

func TestRunRetentionDisabledWithoutArchiver(t *testing.T) {
	trades := &stubTradeStore{old: []domain.TradeRecord{{ID: "old1"}}}
	cfg := config.Defaults()
	cfg.S3.RetentionDays = 30
	b, _ := newTestBot(t, cfg, &Dependencies{TradeStore: trades})

	b.runRetention(context.Background())
	if trades.deleted != 0 {
		t.Fatal("retention ran without an archiver")
	}
}

func TestStartStopToggleAndGuard(t *testing.T) {
	b, sender := newTestBot(t, config.Defaults(), &Dependencies{})

	if b.Running() {
		t.Fatal("bot should start paused")
	}
	if err := b.StartBot(); err != nil {
		t.Fatalf("StartBot: %v", err)
	}
	if !b.Running() {
		t.Fatal("bot should be running after start")
	}
	if err := b.StartBot(); err == nil {
		t.Fatal("double start should fail")
	}

	snap := b.eng.Status().Snapshot()
	if !snap.Running || snap.Mode != "simulated" {
		t.Fatalf("status snapshot = running=%v mode=%q", snap.Running, snap.Mode)
	}

	if err := b.StopBot(); err != nil {
		t.Fatalf("StopBot: %v", err)
	}
	if err := b.StopBot(); err == nil {
		t.Fatal("double stop should fail")
	}

	if len(sender.titles) != 2 {
		t.Fatalf("lifecycle notifications = %d, want 2", len(sender.titles))
	}
}

func TestMergeRecorderPersistsAndAnnounces(t *testing.T) {
	store := &stubMergeStore{}
	sender := &captureSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := notify.NewNotifier([]notify.Sender{sender}, nil, logger)

	var published []string
	publish := func(_ context.Context, channel string, _ any) {
		published = append(published, channel)
	}

	r := newMergeRecorder(nil, store, notifier, publish, logger)
	r.record(context.Background(), domain.MergeRecord{
		MarketSlug: "btc-updown",
		Status:     domain.MergeStatusSimulated,
	})

	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d merge records, want 1", len(store.inserted))
	}
	if len(sender.titles) != 1 || !strings.HasPrefix(sender.titles[0], "Merge") {
		t.Fatalf("titles = %v", sender.titles)
	}
	if len(published) != 1 || published[0] != "merges" {
		t.Fatalf("published channels = %v", published)
	}
}
