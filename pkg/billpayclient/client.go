/**
 * @description
 * This package provides a client for the bill-payment provider. The provider
 * contract is a single opaque vend call per bill type; the core only carries
 * the payload and records the acknowledgement.
 */
package billpayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the bill vending API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new bill-payment client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// VendRequest is the opaque vend payload sent to the provider.
type VendRequest struct {
	BillType     string `json:"bill_type"`
	ProviderCode string `json:"provider_code"`
	PackageCode  string `json:"package_code,omitempty"`
	CustomerRef  string `json:"customer_ref"`
	Amount       int64  `json:"amount"` // in kobo
	Reference    string `json:"reference"`
}

// VendResponse is the provider's acknowledgement. Token is only present for
// bill types that vend one (e.g. prepaid electricity).
type VendResponse struct {
	Status      string  `json:"status"`
	ProviderRef string  `json:"provider_ref"`
	Token       *string `json:"token,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// Vend submits a bill payment to the provider.
func (c *Client) Vend(ctx context.Context, vend VendRequest) (*VendResponse, error) {
	payload, err := json.Marshal(vend)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/vend", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bill vend returned %d: %s", resp.StatusCode, string(body))
	}

	var ack VendResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to decode vend response: %w", err)
	}
	return &ack, nil
}
