// Package stablecoin implements domain.StablecoinLedger against the
// stable-token chain's issuance gateway.
package stablecoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// Client drives the stablecoin-chain issuance gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a stablecoin ledger client. timeout bounds every request.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type mintRequest struct {
	Address       string `json:"address"`
	Amount        string `json:"amount"`
	CollateralRef string `json:"collateral_ref"`
	AuditKey      string `json:"audit_key,omitempty"`
}

type burnRequest struct {
	Address    string `json:"address"`
	Amount     string `json:"amount"`
	PositionID string `json:"position_id"`
}

type refResponse struct {
	Ref string `json:"ref"`
}

// Mint issues amount of stable tokens to address, referencing the collateral
// lock backing the issuance.
func (c *Client) Mint(ctx context.Context, address string, amount decimal.Decimal, collateralRef, auditKey string) (string, error) {
	var out refResponse
	err := c.post(ctx, "/v1/mint", mintRequest{
		Address:       address,
		Amount:        amount.String(),
		CollateralRef: collateralRef,
		AuditKey:      auditKey,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("stablecoin: mint %s to %s: %w", amount, address, err)
	}
	return out.Ref, nil
}

// Burn destroys amount of stable tokens held at address on behalf of the
// position.
func (c *Client) Burn(ctx context.Context, address string, amount decimal.Decimal, positionID string) (string, error) {
	var out refResponse
	err := c.post(ctx, "/v1/burn", burnRequest{
		Address:    address,
		Amount:     amount.String(),
		PositionID: positionID,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("stablecoin: burn %s at %s: %w", amount, address, err)
	}
	return out.Ref, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
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

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.StablecoinLedger = (*Client)(nil)
