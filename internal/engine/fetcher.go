package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Xenovative/PMBot/internal/domain"
)

const (
	// liquidityLevels is how many top ask levels count toward depth.
	liquidityLevels = 5
	// retainedLevels is how many raw ask levels the snapshot keeps.
	retainedLevels = 10
)

// FetchSnapshot reads reference prices and orderbook asks for both legs of
// a market and derives the snapshot. Sub-requests run concurrently; any
// single failure leaves a zero default for its field so the evaluator's
// checks reject the market naturally. Missing token ids fail fast; a market
// without both legs can never be traded.
func (e *Engine) FetchSnapshot(ctx context.Context, market domain.Market) (*domain.PriceSnapshot, error) {
	upID, downID := market.UpTokenID, market.DownTokenID
	if upID == "" || downID == "" {
		return nil, fmt.Errorf("engine: fetch %s: %w", market.Slug, domain.ErrMissingTokenIDs)
	}

	var (
		mu       sync.Mutex
		snap     domain.PriceSnapshot
		failures int
		lastErr  error
	)

	fail := func(what string, err error) {
		mu.Lock()
		failures++
		lastErr = err
		mu.Unlock()
		e.logger.Debug("partial fetch failure",
			slog.String("market", market.Slug),
			slog.String("request", what),
			slog.Any("error", err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := e.quotes.GetPrice(gctx, upID, "buy")
		if err != nil {
			fail("up price", err)
			return nil
		}
		mu.Lock()
		snap.UpPrice = p
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		p, err := e.quotes.GetPrice(gctx, downID, "buy")
		if err != nil {
			fail("down price", err)
			return nil
		}
		mu.Lock()
		snap.DownPrice = p
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		asks, err := e.quotes.GetOrderBook(gctx, upID)
		if err != nil {
			fail("up book", err)
			return nil
		}
		best, liq, top := summarizeAsks(asks)
		mu.Lock()
		snap.UpBestAsk, snap.UpLiquidity, snap.UpAsks = best, liq, top
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		asks, err := e.quotes.GetOrderBook(gctx, downID)
		if err != nil {
			fail("down book", err)
			return nil
		}
		best, liq, top := summarizeAsks(asks)
		mu.Lock()
		snap.DownBestAsk, snap.DownLiquidity, snap.DownAsks = best, liq, top
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("engine: fetch %s: %w", market.Slug, err)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("engine: fetch %s: %w", market.Slug, ctx.Err())
	}
	if failures == 4 {
		return nil, fmt.Errorf("engine: fetch %s: all requests failed: %w", market.Slug, lastErr)
	}

	out := domain.NewPriceSnapshot(snap)
	return &out, nil
}

// summarizeAsks derives best ask (minimum over all levels; books may
// arrive unsorted), top-5 depth, and the retained top-10 levels.
func summarizeAsks(asks []domain.PriceLevel) (best, liquidity float64, top []domain.PriceLevel) {
	if len(asks) == 0 {
		return 0, 0, nil
	}
	for _, lvl := range asks {
		if lvl.Price <= 0 {
			continue
		}
		if best == 0 || lvl.Price < best {
			best = lvl.Price
		}
	}
	for i, lvl := range asks {
		if i >= liquidityLevels {
			break
		}
		liquidity += lvl.Size
	}
	n := len(asks)
	if n > retainedLevels {
		n = retainedLevels
	}
	top = append([]domain.PriceLevel(nil), asks[:n]...)
	return best, liquidity, top
}
