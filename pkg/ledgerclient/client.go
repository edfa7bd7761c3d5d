/**
 * @description
 * This package provides a client for the asset ledger API. It encapsulates the
 * logic for making authenticated HTTP requests to the ledger's endpoints for
 * reserving, releasing, burning, and transferring assets, and for parsing
 * responses.
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
	"log"
	"net/http"
	"time"
)

// Client is a client for the asset ledger API.
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

// ReserveRequest is the payload for reserving assets on an account.
type ReserveRequest struct {
	AccountID string `json:"account_id"`
	Amount    uint64 `json:"amount"`
	Reason    string `json:"reason"`
}

// TransferRequest is the payload for moving assets between two accounts.
type TransferRequest struct {
	SourceAccountID      string `json:"source_account_id"`
	DestinationAccountID string `json:"destination_account_id"`
	Amount               uint64 `json:"amount"`
	Reason               string `json:"reason"`
}

// OperationResponse is the expected response from the ledger's mutation endpoints.
type OperationResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// BalanceResponse is the balance snapshot for a single account.
type BalanceResponse struct {
	Data struct {
		Free     uint64 `json:"free"`
		Reserved uint64 `json:"reserved"`
	} `json:"data"`
}

// ErrorResponse represents an error from the ledger API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("ledger api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown ledger api error"
}

func firstErrorTitle(e ErrorResponse) string {
	if len(e.Errors) > 0 {
		return e.Errors[0].Title
	}
	return ""
}

func firstErrorDetail(e ErrorResponse) string {
	if len(e.Errors) > 0 {
		return e.Errors[0].Detail
	}
	return ""
}

// Reserve places a hold on `amount` of an account's free assets.
func (c *Client) Reserve(ctx context.Context, accountID string, amount uint64, reason string) error {
	payload := ReserveRequest{AccountID: accountID, Amount: amount, Reason: reason}
	_, err := c.do(ctx, "POST", "/api/v1/reserves", payload)
	return err
}

// Unreserve releases a previously placed hold back to the free balance.
func (c *Client) Unreserve(ctx context.Context, accountID string, amount uint64, reason string) error {
	payload := ReserveRequest{AccountID: accountID, Amount: amount, Reason: reason}
	_, err := c.do(ctx, "POST", "/api/v1/reserves/release", payload)
	return err
}

// BurnReserved destroys `amount` of an account's reserved assets.
func (c *Client) BurnReserved(ctx context.Context, accountID string, amount uint64, reason string) error {
	payload := ReserveRequest{AccountID: accountID, Amount: amount, Reason: reason}
	_, err := c.do(ctx, "POST", "/api/v1/reserves/burn", payload)
	return err
}

// Transfer moves free assets from one account to another.
func (c *Client) Transfer(ctx context.Context, sourceAccountID, destAccountID string, amount uint64, reason string) error {
	payload := TransferRequest{
		SourceAccountID:      sourceAccountID,
		DestinationAccountID: destAccountID,
		Amount:               amount,
		Reason:               reason,
	}
	_, err := c.do(ctx, "POST", "/api/v1/transfers", payload)
	return err
}

// do is a generic helper to execute a mutation request against the ledger API.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*OperationResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ledger-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute ledger request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=ledger_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=ledger_client path=%s status=%d title=%q detail=%q", path, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp OperationResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &successResp, nil
}

// GetBalance fetches the free and reserved balance for a single account.
func (c *Client) GetBalance(ctx context.Context, accountID string) (*BalanceResponse, error) {
	url := c.BaseURL + "/api/v1/accounts/balance/" + accountID

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ledger-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=ledger_client op=get_balance account_id=%s status=%d msg=\"non-2xx response (unparsable error body)\"", accountID, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=ledger_client op=get_balance account_id=%s status=%d title=%q detail=%q", accountID, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var balanceResp BalanceResponse
	if err := json.Unmarshal(bodyBytes, &balanceResp); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}

	return &balanceResp, nil
}
