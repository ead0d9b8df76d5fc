// Package collateral implements domain.CollateralLedger and domain.YieldVault
// against the collateral chain's custody gateway. The gateway escrows, frees
// and seizes collateral; this client only drives its HTTP API and never holds
// keys itself.
package collateral

import (
	"bytes"
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

// ClientConfig holds connection and polling parameters for the custody
// gateway.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// RequestTimeout bounds each HTTP call.
	RequestTimeout time.Duration
	// ConfirmPollInterval is the delay between confirmation polls.
	ConfirmPollInterval time.Duration
}

// Client drives the collateral-chain custody gateway.
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewClient creates a collateral ledger client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	poll := cfg.ConfirmPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		pollInterval: poll,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type lockRequest struct {
	Amount           string `json:"amount"`
	DestinationChain string `json:"destination_chain"`
	Address          string `json:"address"`
}

type releaseRequest struct {
	Amount  string `json:"amount"`
	Address string `json:"address"`
}

type seizeRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type deployRequest struct {
	PositionID string `json:"position_id"`
	Amount     string `json:"amount"`
	Strategy   string `json:"strategy"`
}

type refResponse struct {
	Ref string `json:"ref"`
}

type statusResponse struct {
	Ref    string `json:"ref"`
	Status string `json:"status"` // pending | confirmed | failed
	Detail string `json:"detail,omitempty"`
}

// Lock escrows amount held at address for use on the destination chain and
// returns the lock reference.
func (c *Client) Lock(ctx context.Context, amount decimal.Decimal, destinationChain, address string) (string, error) {
	var out refResponse
	err := c.post(ctx, "/v1/locks", lockRequest{
		Amount:           amount.String(),
		DestinationChain: destinationChain,
		Address:          address,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("collateral: lock %s from %s: %w", amount, address, err)
	}
	return out.Ref, nil
}

// Release returns amount of the referenced lock's collateral to address.
func (c *Client) Release(ctx context.Context, lockRef string, amount decimal.Decimal, address string) (string, error) {
	var out refResponse
	path := "/v1/locks/" + url.PathEscape(lockRef) + "/release"
	err := c.post(ctx, path, releaseRequest{
		Amount:  amount.String(),
		Address: address,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("collateral: release %s of lock %s: %w", amount, lockRef, err)
	}
	return out.Ref, nil
}

// Seize forcibly claims amount of collateral held at address. Used only by
// the liquidation path.
func (c *Client) Seize(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	var out refResponse
	err := c.post(ctx, "/v1/seizures", seizeRequest{
		Address: address,
		Amount:  amount.String(),
	}, &out)
	if err != nil {
		return "", fmt.Errorf("collateral: seize %s from %s: %w", amount, address, err)
	}
	return out.Ref, nil
}

// WaitConfirmation polls the referenced operation until the gateway reports
// it confirmed, it reports failure, or ctx expires. Callers bound the wait
// through the context deadline.
func (c *Client) WaitConfirmation(ctx context.Context, ref string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var st statusResponse
		if err := c.get(ctx, "/v1/locks/"+url.PathEscape(ref), &st); err != nil {
			return fmt.Errorf("collateral: poll %s: %w", ref, err)
		}
		switch st.Status {
		case "confirmed":
			return nil
		case "failed":
			return fmt.Errorf("collateral: operation %s failed on chain: %s", ref, st.Detail)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("collateral: confirmation of %s: %w", ref, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Deploy notionally places the position's collateral into a yield strategy.
// The collateral stays escrowed and keeps backing the debt.
func (c *Client) Deploy(ctx context.Context, positionID string, amount decimal.Decimal, strategy domain.YieldStrategy) (string, error) {
	var out refResponse
	err := c.post(ctx, "/v1/yield/deployments", deployRequest{
		PositionID: positionID,
		Amount:     amount.String(),
		Strategy:   string(strategy),
	}, &out)
	if err != nil {
		return "", fmt.Errorf("collateral: deploy %s for %s: %w", amount, positionID, err)
	}
	return out.Ref, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.CollateralLedger = (*Client)(nil)
	_ domain.YieldVault       = (*Client)(nil)
)
