package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Xenovative/PMBot/internal/domain"
)

// snapTTL keeps snapshots slightly longer than a scan cycle so consumers
// always see the latest observation but stale markets age out on their own.
const snapTTL = 2 * time.Minute

// SnapshotCache implements domain.SnapshotCache: the latest per-market
// price snapshot as a JSON value at "snap:{slug}", and status events
// published over Pub/Sub for push delivery.
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying()}
}

func snapKey(slug string) string {
	return "snap:" + slug
}

// SetSnapshot stores the latest snapshot for a market.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, slug string, snap domain.PriceSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", slug, err)
	}
	if err := sc.rdb.Set(ctx, snapKey(slug), data, snapTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", slug, err)
	}
	return nil
}

// GetSnapshot retrieves the latest snapshot for a market. It returns
// domain.ErrNoSnapshot when none is cached.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, slug string) (domain.PriceSnapshot, error) {
	data, err := sc.rdb.Get(ctx, snapKey(slug)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceSnapshot{}, domain.ErrNoSnapshot
		}
		return domain.PriceSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", slug, err)
	}

	var snap domain.PriceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", slug, err)
	}
	return snap, nil
}

// PublishEvent sends a JSON-encoded payload to a Pub/Sub channel.
func (sc *SnapshotCache) PublishEvent(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis: marshal event for %s: %w", channel, err)
	}
	if err := sc.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on a Pub/Sub channel and forwards message payloads. The
// returned channel closes when the context is cancelled or the subscription
// drops; go-redis reconnects transient failures internally.
func (sc *SnapshotCache) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := sc.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.SnapshotCache = (*SnapshotCache)(nil)
	_ domain.EventBus      = (*SnapshotCache)(nil)
)
