package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Xenovative/PMBot/internal/crypto"
	"github.com/Xenovative/PMBot/internal/domain"
)

const (
	sideBuy  = 0
	sideSell = 1

	zeroAddress = "0x0000000000000000000000000000000000000000"

	// usdcScale converts human USDC/share amounts to on-chain 6-decimal units.
	usdcScale = 1_000_000
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles price/orderbook queries and order placement.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	funder     string // address holding the USDC balance (maker of all orders)
	sigType    int    // 0 = EOA, 1 = email/magic proxy, 2 = browser proxy
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for order signatures and auth messages;
// it may be nil for quote-only (dry-run) use. funder is the proxy wallet
// address that holds funds; if empty the signer's own address is used.
func NewClobClient(baseURL string, signer *crypto.Signer, funder string) *ClobClient {
	c := &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
		funder: funder,
	}
	if signer != nil && funder == "" {
		c.funder = signer.Address().Hex()
	}
	if signer != nil && !strings.EqualFold(c.funder, signer.Address().Hex()) {
		c.sigType = 2
	}
	return c
}

// SetAPICredentials installs pre-derived HMAC API credentials, skipping
// the DeriveAPIKey round trip.
func (c *ClobClient) SetAPICredentials(key, secret, passphrase string) {
	c.hmacAuth = &crypto.HMACAuth{
		Key:        key,
		Secret:     secret,
		Passphrase: passphrase,
	}
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. Per Polymarket docs, L1 requires POLY_ADDRESS,
// POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE. On success it populates the
// client's hmacAuth field.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrMissingCredential)
	}

	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// GetPrice returns the reference price for a token on one side of the
// book ("buy" or "sell"). A price of 0 means the side is empty.
func (c *ClobClient) GetPrice(ctx context.Context, tokenID, side string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	params.Set("side", side)

	body, err := c.doRequest(ctx, http.MethodGet, "/price?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get price: %w", err)
	}

	var priceResp APIPriceResponse
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode price: %w", err)
	}

	return float64(priceResp.Price), nil
}

// GetOrderBook returns the ask side of a token's orderbook, best (lowest)
// price first.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) ([]domain.PriceLevel, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := c.doRequest(ctx, http.MethodGet, "/book?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: get orderbook: %w", err)
	}

	var bookResp APIBookResponse
	if err := json.Unmarshal(body, &bookResp); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode orderbook: %w", err)
	}

	return bookResp.ToDomainAsks(), nil
}

// MarketBuy places a fill-or-kill market buy spending amountUSD. The
// marginal price is computed by sweeping the current ask book; if the book
// cannot absorb the notional the call fails with domain.ErrInsufficientDepth
// before any order is sent.
func (c *ClobClient) MarketBuy(ctx context.Context, tokenID string, amountUSD float64) (domain.Fill, error) {
	if c.signer == nil || c.hmacAuth == nil {
		return domain.Fill{}, fmt.Errorf("polymarket/clob: market buy: %w", domain.ErrMissingCredential)
	}

	asks, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return domain.Fill{}, err
	}

	price, err := marginalPrice(asks, amountUSD)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("polymarket/clob: market buy: %w", err)
	}

	shares := amountUSD / price
	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", time.Now().UnixNano()),
		Maker:         c.funder,
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   scaleAmount(amountUSD),
		TakerAmount:   scaleAmount(shares),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideBuy,
		SignatureType: c.sigType,
	}

	result, err := c.postOrder(ctx, payload, domain.FillOrKill)
	if err != nil {
		return domain.Fill{}, err
	}

	fill := domain.Fill{OrderID: result.OrderID}
	fill.Shares = float64(result.TakingAmount)
	if fill.Shares > 0 {
		fill.Price = float64(result.MakingAmount) / fill.Shares
	}
	if fill.Shares == 0 {
		// Some gateway versions omit fill amounts on FOK success; fall
		// back to the swept estimate.
		fill.Shares = shares
		fill.Price = price
	}
	return fill, nil
}

// LimitSell places a sell order for shares at limitPrice with the given
// time-in-force. FOK sells fail with domain.ErrInsufficientDepth when no
// matching bid volume exists; GTC sells rest on the book.
func (c *ClobClient) LimitSell(ctx context.Context, tokenID string, shares, limitPrice float64, tif domain.TimeInForce) (domain.Fill, error) {
	if c.signer == nil || c.hmacAuth == nil {
		return domain.Fill{}, fmt.Errorf("polymarket/clob: limit sell: %w", domain.ErrMissingCredential)
	}

	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", time.Now().UnixNano()),
		Maker:         c.funder,
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   scaleAmount(shares),
		TakerAmount:   scaleAmount(shares * limitPrice),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideSell,
		SignatureType: c.sigType,
	}

	result, err := c.postOrder(ctx, payload, tif)
	if err != nil {
		return domain.Fill{}, err
	}

	fill := domain.Fill{
		OrderID: result.OrderID,
		Shares:  float64(result.MakingAmount),
	}
	if fill.Shares > 0 {
		fill.Price = float64(result.TakingAmount) / fill.Shares
	}
	return fill, nil
}

// CancelOrder cancels a single resting order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{
		"orderID": orderID,
	}

	respBody, err := c.doRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// postOrder signs and submits an order payload. Rejections whose error
// message indicates a matching failure are wrapped in
// domain.ErrInsufficientDepth; every other rejection wraps
// domain.ErrOrderRejected so callers can tell "no liquidity, retry later"
// from "order is wrong, stop".
func (c *ClobClient) postOrder(ctx context.Context, payload crypto.OrderPayload, tif domain.TimeInForce) (APIOrderResult, error) {
	if c.signer == nil || c.hmacAuth == nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", domain.ErrMissingCredential)
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideName(payload.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.hmacAuth.Key,
		"orderType": string(tif),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	if !result.Success {
		if isDepthError(result.ErrorMsg) {
			return result, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrInsufficientDepth, result.ErrorMsg)
		}
		return result, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrOrderRejected, result.ErrorMsg)
	}

	return result, nil
}

// isDepthError reports whether a CLOB rejection message means the FOK
// order could not be matched against resting liquidity.
func isDepthError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not enough") ||
		strings.Contains(m, "no match") ||
		strings.Contains(m, "couldn't be fully filled") ||
		strings.Contains(m, "insufficient")
}

// marginalPrice sweeps asks (best first) until accumulated notional covers
// amountUSD and returns the price of the last level consumed.
func marginalPrice(asks []domain.PriceLevel, amountUSD float64) (float64, error) {
	remaining := amountUSD
	for _, lvl := range asks {
		if lvl.Price <= 0 {
			continue
		}
		remaining -= lvl.Price * lvl.Size
		if remaining <= 0 {
			return lvl.Price, nil
		}
	}
	return 0, domain.ErrInsufficientDepth
}

// scaleAmount converts a human amount to 6-decimal on-chain units,
// truncating sub-unit dust.
func scaleAmount(amount float64) string {
	return fmt.Sprintf("%d", int64(math.Floor(amount*usdcScale)))
}

// sideName maps the numeric EIP-712 side to the REST API string form.
func sideName(side int) string {
	if side == sideSell {
		return "SELL"
	}
	return "BUY"
}

// doRequest builds, signs (HMAC), sends, and reads an HTTP request against
// the CLOB API. It returns the raw response body.
func (c *ClobClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// L2 HMAC headers are only available (and only required) once an API
	// key has been derived; quote endpoints work unauthenticated.
	if c.hmacAuth != nil && c.signer != nil {
		address := c.signer.Address().Hex()
		// Signature covers the path without query parameters.
		sigPath := path
		if i := strings.IndexByte(sigPath, '?'); i >= 0 {
			sigPath = sigPath[:i]
		}
		headers := c.hmacAuth.L2Headers(address, method, sigPath, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
