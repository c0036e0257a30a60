/**
 * @description
 * This package provides a client for the bank ledger/balance collaborator.
 * It encapsulates authenticated HTTP access to the two contracts the core
 * needs: real-time available balance lookup and charge execution.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the ledger API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new ledger API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BalanceResponse is the ledger's answer to a balance query.
type BalanceResponse struct {
	CustomerRef      string `json:"customer_ref"`
	Account          string `json:"account"`
	AvailableBalance int64  `json:"available_balance"` // in kobo
	LedgerBalance    int64  `json:"ledger_balance"`    // in kobo
}

// ChargeRequest is the payload for a charge execution.
type ChargeRequest struct {
	Account         string `json:"account"`
	DestinationBank string `json:"destination_bank,omitempty"`
	Destination     string `json:"destination,omitempty"`
	Amount          int64  `json:"amount"` // in kobo
	Reference       string `json:"reference"`
	Narration       string `json:"narration"`
}

// ChargeResponse is the ledger's acknowledgement of a charge.
type ChargeResponse struct {
	Reference string `json:"reference"`
	LedgerRef string `json:"ledger_ref"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// GetAvailableBalance fetches the real-time available balance for an account.
func (c *Client) GetAvailableBalance(ctx context.Context, customerRef, account string) (*BalanceResponse, error) {
	url := fmt.Sprintf("%s/v1/customers/%s/accounts/%s/balance", c.BaseURL, customerRef, account)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("balance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ledger balance query returned %d: %s", resp.StatusCode, string(body))
	}

	var balance BalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return &balance, nil
}

// Charge asks the ledger to move money. The caller supplies a unique
// reference so the ledger can deduplicate replays.
func (c *Client) Charge(ctx context.Context, charge ChargeRequest) (*ChargeResponse, error) {
	payload, err := json.Marshal(charge)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/transfers", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("charge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ledger charge returned %d: %s", resp.StatusCode, string(body))
	}

	var ack ChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to decode charge response: %w", err)
	}
	return &ack, nil
}
