// Package oracle implements domain.PriceOracle against the price oracle's
// HTTP API. The oracle aggregates exchange rates for the collateral asset in
// stable-token units; its own consensus mechanism is opaque to this client.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// Client queries the price oracle over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an oracle client. baseURL is the oracle endpoint, e.g.
// "https://oracle.internal:8443". timeout bounds every request.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// priceResponse is the oracle's price envelope. The price is transported as a
// string to avoid float truncation.
type priceResponse struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// GetPrice fetches the current price for the asset. A non-positive or
// unparseable price is an error, never a fallback value: callers treat oracle
// failure as "cannot proceed".
func (c *Client) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if asset == "" {
		return decimal.Zero, fmt.Errorf("oracle: %w: asset must not be empty", domain.ErrInvalidInput)
	}

	endpoint := c.baseURL + "/v1/prices/" + url.PathEscape(asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: get price %s: %w", asset, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("oracle: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return decimal.Zero, fmt.Errorf("oracle: decode price: %w", err)
	}

	price, err := decimal.NewFromString(pr.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: parse price %q: %w", pr.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("oracle: non-positive price %s for %s", price, asset)
	}

	return price, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*Client)(nil)
