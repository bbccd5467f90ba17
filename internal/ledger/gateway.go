package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/academicchain/issuance-be/internal/config"
	"github.com/academicchain/issuance-be/internal/worker/domain"
)

const defaultGatewayTimeout = 30 * time.Second

// GatewayClient talks to a ledger gateway over HTTP. The gateway exposes the
// chain-specific SDK behind a small JSON API, so the worker stays chain-agnostic.
type GatewayClient struct {
	name       string
	baseURL    string
	apiKey     string
	network    string
	httpClient *http.Client
}

// NewGatewayClient creates a client for one configured ledger gateway
func NewGatewayClient(cfg config.LedgerConfig) *GatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &GatewayClient{
		name:       cfg.Name,
		baseURL:    cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		network:    cfg.Network,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the configured ledger name
func (c *GatewayClient) Name() string {
	return c.name
}

type mintRequest struct {
	UniqueHash  string `json:"unique_hash"`
	MetadataURI string `json:"metadata_uri"`
	Network     string `json:"network,omitempty"`
}

type transferRequest struct {
	TokenID            string `json:"token_id"`
	SerialNumber       int64  `json:"serial_number"`
	RecipientAccountID string `json:"recipient_account_id"`
	Network            string `json:"network,omitempty"`
}

type anchorRequest struct {
	UniqueHash string `json:"unique_hash"`
	Network    string `json:"network,omitempty"`
}

type gatewayError struct {
	Error string `json:"error"`
}

// Mint creates a credential token for the hash and returns its identity
func (c *GatewayClient) Mint(ctx context.Context, uniqueHash, metadataURI string) (*MintResult, error) {
	var result MintResult
	err := c.post(ctx, "/v1/tokens/mint", mintRequest{
		UniqueHash:  uniqueHash,
		MetadataURI: metadataURI,
		Network:     c.network,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.TokenID == "" {
		return nil, domain.NewAdapterError(c.name, fmt.Errorf("gateway returned empty token_id"))
	}
	return &result, nil
}

// Transfer moves a minted token to the recipient account
func (c *GatewayClient) Transfer(ctx context.Context, tokenID string, serialNumber int64, recipientAccountID string) error {
	return c.post(ctx, "/v1/tokens/transfer", transferRequest{
		TokenID:            tokenID,
		SerialNumber:       serialNumber,
		RecipientAccountID: recipientAccountID,
		Network:            c.network,
	}, nil)
}

// Anchor writes the credential hash to this ledger and returns the transaction id
func (c *GatewayClient) Anchor(ctx context.Context, uniqueHash string) (*AnchorResult, error) {
	var result AnchorResult
	err := c.post(ctx, "/v1/anchors", anchorRequest{
		UniqueHash: uniqueHash,
		Network:    c.network,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.TxID == "" {
		return nil, domain.NewAdapterError(c.name, fmt.Errorf("gateway returned empty tx_id"))
	}
	return &result, nil
}

// post sends a JSON request and classifies failures. Transport errors and
// gateway-side failures (5xx, 401/403) are adapter errors: every other item
// in the batch would fail the same way. A 4xx tied to this request's data
// (422, 400, 409) is an item error and only sinks the current item.
func (c *GatewayClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.NewItemError(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.NewAdapterError(c.name, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewAdapterError(c.name, fmt.Errorf("gateway request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewAdapterError(c.name, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return domain.NewAdapterError(c.name, fmt.Errorf("decode response: %w", err))
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.NewAdapterError(c.name, fmt.Errorf("gateway rejected credentials: status %d", resp.StatusCode))

	case resp.StatusCode >= 500:
		return domain.NewAdapterError(c.name, fmt.Errorf("gateway error: status %d: %s", resp.StatusCode, gatewayMessage(respBody)))

	default:
		return domain.NewItemError(fmt.Errorf("%s rejected request: status %d: %s", c.name, resp.StatusCode, gatewayMessage(respBody)))
	}
}

func gatewayMessage(body []byte) string {
	var ge gatewayError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error != "" {
		return ge.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
