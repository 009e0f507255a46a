package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/Xenovative/PMBot/internal/domain"
)

func TestSafeOrderSizeBounds(t *testing.T) {
	tests := []struct {
		name    string
		upLiq   float64
		downLiq float64
		desired float64
		want    float64
		wantErr error
	}{
		{"plenty of depth", 500, 500, 50, 50, nil},
		{"up depth binds", 40, 500, 50, 32, nil}, // 0.8*40
		{"down depth binds", 500, 30, 50, 24, nil},
		{"desired caps even with depth", 10000, 10000, 50, 50, nil},
		{"under one share", 1, 500, 50, 0, domain.ErrInsufficientDepth},
		{"zero depth", 0, 500, 50, 0, domain.ErrInsufficientDepth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := domain.PriceSnapshot{
				UpPrice:       0.48,
				DownPrice:     0.49,
				UpLiquidity:   tt.upLiq,
				DownLiquidity: tt.downLiq,
			}
			got, err := SafeOrderSize(snap, tt.desired)
			if got != tt.want {
				t.Errorf("SafeOrderSize = %v, want %v", got, tt.want)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SafeOrderSize error = %v, want %v", err, tt.wantErr)
			}
			bound := math.Min(tt.desired, math.Min(0.8*tt.upLiq, 0.8*tt.downLiq))
			if got > bound {
				t.Errorf("SafeOrderSize = %v exceeds bound %v", got, bound)
			}
		})
	}
}

func TestSafeOrderSizeNotionalFloor(t *testing.T) {
	snap := domain.PriceSnapshot{
		UpPrice:       0.05,
		DownPrice:     0.94,
		UpLiquidity:   500,
		DownLiquidity: 500,
	}
	// 10 shares x 0.05 = $0.50 on the UP leg.
	got, err := SafeOrderSize(snap, 10)
	if got != 0 || !errors.Is(err, domain.ErrBelowMinNotional) {
		t.Errorf("SafeOrderSize = (%v, %v), want (0, ErrBelowMinNotional) when a leg is under $1", got, err)
	}
	// 30 shares x 0.05 = $1.50 clears the floor.
	got, err = SafeOrderSize(snap, 30)
	if got != 30 || err != nil {
		t.Errorf("SafeOrderSize = (%v, %v), want (30, nil)", got, err)
	}
}

func TestSweepPrice(t *testing.T) {
	// Levels deliberately unsorted.
	asks := []domain.PriceLevel{
		{Price: 0.50, Size: 100},
		{Price: 0.48, Size: 50},
	}

	worst, cost := SweepPrice(asks, 50)
	if worst != 0.48 || cost != 24 {
		t.Errorf("SweepPrice(50) = (%v, %v), want (0.48, 24)", worst, cost)
	}

	worst, cost = SweepPrice(asks, 100)
	if worst != 0.50 || cost != 49 {
		// 50 @ 0.48 + 50 @ 0.50
		t.Errorf("SweepPrice(100) = (%v, %v), want (0.50, 49)", worst, cost)
	}

	worst, cost = SweepPrice(asks, 200)
	if worst != 0 || cost != 0 {
		t.Errorf("SweepPrice(200) = (%v, %v), want (0, 0) on insufficient depth", worst, cost)
	}
}
