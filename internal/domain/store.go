package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts carries pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ScanRow is one persisted market scan observation, used for analytics.
type ScanRow struct {
	ID            int64
	Timestamp     time.Time
	MarketSlug    string
	UpPrice       float64
	DownPrice     float64
	TotalCost     float64
	Spread        float64
	UpLiquidity   float64
	DownLiquidity float64
	Viable        bool
}

// TradeStore persists trade records. DeleteBefore backs the retention job
// and runs only after the rows were archived.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// MergeStore persists merge records.
type MergeStore interface {
	Insert(ctx context.Context, rec MergeRecord) error
	ListRecent(ctx context.Context, limit int) ([]MergeRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]MergeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ScanStore persists scan observations in batches.
type ScanStore interface {
	InsertBatch(ctx context.Context, rows []ScanRow) error
	ListBefore(ctx context.Context, before time.Time) ([]ScanRow, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	DailySummary(ctx context.Context, day time.Time) (DailySummary, error)
}

// DailySummary aggregates one UTC day of trading activity.
type DailySummary struct {
	Date        time.Time
	TotalTrades int
	Successful  int
	Failed      int
	TotalProfit float64
	ScanCount   int
	ViableScans int
}

// SnapshotCache caches the latest per-market price snapshot for the
// presentation layer and publishes status events for push delivery.
type SnapshotCache interface {
	SetSnapshot(ctx context.Context, slug string, snap PriceSnapshot) error
	GetSnapshot(ctx context.Context, slug string) (PriceSnapshot, error)
	PublishEvent(ctx context.Context, channel string, payload any) error
}

// EventBus carries push events from the bot loop to the WebSocket hub via
// Redis pub/sub, so every bot replica's events reach every connected client.
type EventBus interface {
	PublishEvent(ctx context.Context, channel string, payload any) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads an object to blob storage. Implemented by the S3 layer.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo is object metadata returned by blob listings.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobReader retrieves and lists archived objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
