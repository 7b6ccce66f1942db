package lnbits

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Second

// APIError is returned for any non-2xx response from the ledger API. It
// carries no partial data; a failed call leaves the caller's state untouched
// and the next poll tick is the retry mechanism.
type APIError struct {
	Status int
	Path   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lnbits %s failed: status=%d", e.Path, e.Status)
}

// Client talks to one LNbits wallet using its invoice/read key. It performs
// no retries of its own.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient constructs a client for the wallet behind the given base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// WalletInfo fetches the wallet identity and balance. Used as the startup
// connectivity probe.
func (c *Client) WalletInfo(ctx context.Context) (*Wallet, error) {
	var wallet Wallet
	if err := c.get(ctx, "/api/v1/wallet", &wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ListPayments fetches the full payment history of the wallet. The Paid flag
// on the returned records is advisory; see GetPayment for the authoritative
// status.
func (c *Client) ListPayments(ctx context.Context) ([]Payment, error) {
	var payments []Payment
	if err := c.get(ctx, "/api/v1/payments", &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// GetPayment fetches a single payment by hash. This endpoint is the authority
// on whether the payment settled.
func (c *Client) GetPayment(ctx context.Context, hash string) (*Payment, error) {
	var payment Payment
	if err := c.get(ctx, "/api/v1/payments/"+url.PathEscape(hash), &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Path: path}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
