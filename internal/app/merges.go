package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/Xenovative/PMBot/internal/domain"
	"github.com/Xenovative/PMBot/internal/merger"
	"github.com/Xenovative/PMBot/internal/notify"
	"github.com/Xenovative/PMBot/internal/server/ws"
)

// mergeRecorder wraps the position merger so every merge record, whether
// triggered by the trade coordinator's auto-merge or an operator request,
// gets persisted, announced, and pushed to dashboard clients on its way
// out. It is the PositionTracker the engine sees and the MergeService the
// HTTP handlers see.
type mergeRecorder struct {
	merger   *merger.Merger
	store    domain.MergeStore // nil when Postgres is disabled
	notifier *notify.Notifier
	publish  func(ctx context.Context, channel string, payload any)
	logger   *slog.Logger
}

func newMergeRecorder(m *merger.Merger, store domain.MergeStore, notifier *notify.Notifier, publish func(context.Context, string, any), logger *slog.Logger) *mergeRecorder {
	return &mergeRecorder{
		merger:   m,
		store:    store,
		notifier: notifier,
		publish:  publish,
		logger:   logger.With(slog.String("component", "merges")),
	}
}

func (r *mergeRecorder) TrackTrade(pos domain.MergedPosition) {
	r.merger.TrackTrade(pos)
}

func (r *mergeRecorder) AutoMergeEnabled() bool {
	return r.merger.AutoMergeEnabled()
}

func (r *mergeRecorder) SetAutoMerge(enabled bool) {
	r.merger.SetAutoMerge(enabled)
}

func (r *mergeRecorder) Status() merger.StatusView {
	return r.merger.Status()
}

func (r *mergeRecorder) AutoMergeAll(ctx context.Context) []domain.MergeRecord {
	records := r.merger.AutoMergeAll(ctx)
	for i := range records {
		r.record(ctx, records[i])
	}
	return records
}

func (r *mergeRecorder) Merge(ctx context.Context, conditionID string, amount float64) (*domain.MergeRecord, error) {
	rec, err := r.merger.Merge(ctx, conditionID, amount)
	if rec != nil {
		r.record(ctx, *rec)
	}
	return rec, err
}

// record fans one merge record out to the store, the notifier, and the
// event stream. The coordinator calls AutoMergeAll inline after a trade,
// so this must never block on a slow sink longer than its own timeout.
func (r *mergeRecorder) record(ctx context.Context, rec domain.MergeRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if r.store != nil {
		if err := r.store.Insert(ctx, rec); err != nil {
			r.logger.Warn("merge persistence failed",
				slog.String("market", rec.MarketSlug), slog.Any("error", err))
		}
	}
	if err := r.notifier.MergeSettled(ctx, rec); err != nil {
		r.logger.Warn("merge notification failed",
			slog.String("market", rec.MarketSlug), slog.Any("error", err))
	}
	r.publish(ctx, ws.ChannelMerges, rec)
}
