package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Xenovative/PMBot/internal/domain"
)

// cryptoSlugNames maps ticker symbols to the spelled-out names Polymarket
// uses in daily up-or-down market slugs.
var cryptoSlugNames = map[string]string{
	"btc": "bitcoin",
	"eth": "ethereum",
	"sol": "solana",
	"xrp": "xrp",
}

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery, metadata, and search.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetMarketsBySlug returns the markets matching an exact slug. The Gamma
// API returns either a list or a single object depending on the endpoint
// version, so both forms are accepted.
func (g *GammaClient) GetMarketsBySlug(ctx context.Context, slug string) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: markets by slug %s: %w", slug, err)
	}

	return decodeMarkets(body)
}

// SearchMarkets returns active open markets whose slug contains pattern.
func (g *GammaClient) SearchMarkets(ctx context.Context, pattern string) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", "50")
	params.Set("slug_contains", pattern)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: search markets %s: %w", pattern, err)
	}

	markets, err := decodeMarkets(body)
	if err != nil {
		return nil, err
	}

	filtered := markets[:0]
	for _, m := range markets {
		if strings.Contains(m.Slug, pattern) {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

// GetEventMarkets returns the markets attached to events matching a slug.
// Daily up-or-down markets are indexed under their event slug, so the
// direct market lookup misses them.
func (g *GammaClient) GetEventMarkets(ctx context.Context, slug string) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("slug", slug)
	params.Set("limit", "5")

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: event markets %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	var markets []domain.Market
	for _, ev := range events {
		if ev.Slug != slug {
			continue
		}
		for i := range ev.Markets {
			markets = append(markets, ev.Markets[i].ToDomainMarket())
		}
	}
	return markets, nil
}

// IntradaySlugs returns candidate slugs for 15-minute up/down markets
// around now. Slugs embed the window's end timestamp aligned to a
// 15-minute UTC boundary: {sym}-updown-15m-{unix}.
func IntradaySlugs(symbol string, now time.Time) []string {
	utc := now.UTC()
	boundary := utc.Truncate(15 * time.Minute)

	offsets := []time.Duration{-15, 0, 15, 30, 45, 60}
	slugs := make([]string, 0, len(offsets))
	for _, m := range offsets {
		ts := boundary.Add(m * time.Minute).Unix()
		slugs = append(slugs, fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(symbol), ts))
	}
	return slugs
}

// DailySlugs returns candidate slugs for daily up-or-down markets for
// today and the next two days: {name}-up-or-down-on-{month}-{day}.
func DailySlugs(symbol string, now time.Time) []string {
	sym := strings.ToLower(symbol)
	name, ok := cryptoSlugNames[sym]
	if !ok {
		name = sym
	}

	utc := now.UTC()
	slugs := make([]string, 0, 3)
	for offset := 0; offset < 3; offset++ {
		d := utc.AddDate(0, 0, offset)
		month := strings.ToLower(d.Month().String())
		slugs = append(slugs, fmt.Sprintf("%s-up-or-down-on-%s-%d", name, month, d.Day()))
	}
	return slugs
}

// FindIntradayMarkets discovers open 15-minute up/down markets for one
// symbol, trying exact slug lookups first and falling back to a
// slug-contains search.
func (g *GammaClient) FindIntradayMarkets(ctx context.Context, symbol string, now time.Time) ([]domain.Market, error) {
	var found []domain.Market

	for _, slug := range IntradaySlugs(symbol, now) {
		markets, err := g.GetMarketsBySlug(ctx, slug)
		if err != nil {
			continue
		}
		for _, m := range markets {
			if m.Active && !m.Closed {
				found = append(found, m)
			}
		}
	}

	if len(found) == 0 {
		pattern := fmt.Sprintf("%s-updown-15m", strings.ToLower(symbol))
		markets, err := g.SearchMarkets(ctx, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range markets {
			if m.Active && !m.Closed {
				found = append(found, m)
			}
		}
	}

	return found, nil
}

// FindDailyMarkets discovers open daily up-or-down markets for one
// symbol via the events index, falling back to direct market lookup.
func (g *GammaClient) FindDailyMarkets(ctx context.Context, symbol string, now time.Time) ([]domain.Market, error) {
	var found []domain.Market

	for _, slug := range DailySlugs(symbol, now) {
		markets, err := g.GetEventMarkets(ctx, slug)
		if err != nil || len(markets) == 0 {
			markets, err = g.GetMarketsBySlug(ctx, slug)
			if err != nil {
				continue
			}
		}
		for _, m := range markets {
			if m.Active && !m.Closed {
				found = append(found, m)
			}
		}
	}

	return found, nil
}

// FindUpDownMarkets discovers all open up/down markets for the given
// symbols, 15-minute and daily, deduplicated by market ID, markets whose
// window already ended dropped, sorted soonest-ending first.
func (g *GammaClient) FindUpDownMarkets(ctx context.Context, symbols []string, now time.Time) ([]domain.Market, error) {
	seen := make(map[string]bool)
	var all []domain.Market

	add := func(markets []domain.Market) {
		for _, m := range markets {
			if m.ID == "" || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			all = append(all, m)
		}
	}

	for _, symbol := range symbols {
		symbol = strings.ToLower(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}

		intraday, err := g.FindIntradayMarkets(ctx, symbol, now)
		if err == nil {
			add(intraday)
		}
		daily, err := g.FindDailyMarkets(ctx, symbol, now)
		if err == nil {
			add(daily)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("polymarket/gamma: discovery: %w", ctx.Err())
		}
	}

	live := all[:0]
	for _, m := range all {
		if m.TimeRemaining(now) > 0 {
			live = append(live, m)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].TimeRemaining(now) < live[j].TimeRemaining(now)
	})

	return live, nil
}

// GetMarkets returns a paginated list of markets.
func (g *GammaClient) GetMarkets(ctx context.Context, limit, offset int) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	return decodeMarkets(body)
}

// GetMarket returns a single market by its ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(id))

	body, err := g.doGet(ctx, path)
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}

	return apiMarket.ToDomainMarket(), nil
}

// decodeMarkets handles both response shapes the /markets endpoint
// produces: a JSON array, or a single market object.
func decodeMarkets(body []byte) ([]domain.Market, error) {
	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err == nil {
		markets := make([]domain.Market, 0, len(apiMarkets))
		for i := range apiMarkets {
			markets = append(markets, apiMarkets[i].ToDomainMarket())
		}
		return markets, nil
	}

	var single APIMarket
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if single.ID == "" {
		return nil, nil
	}
	return []domain.Market{single.ToDomainMarket()}, nil
}

func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
