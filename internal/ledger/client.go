package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/terminal-bench/ledgerboard/pkg/circuit"
)

// operationsPageLimit bounds how many operations one verification will ever
// read from the ledger.
const operationsPageLimit = 200

// Transaction is a transaction record as reported by the ledger query service
type Transaction struct {
	Hash       string    `json:"hash"`
	Successful bool      `json:"successful"`
	MemoType   string    `json:"memo_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// Operation is a single operation inside a transaction
type Operation struct {
	Type        string `json:"type"`
	From        string `json:"from"`
	To          string `json:"to"`
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code"`
	AssetIssuer string `json:"asset_issuer"`
	Amount      string `json:"amount"`
}

type operationsPage struct {
	Embedded struct {
		Records []Operation `json:"records"`
	} `json:"_embedded"`
}

// UnavailableError reports that the ledger could not answer. Status is the
// HTTP status code, or 0 for transport failures and timeouts.
type UnavailableError struct {
	Status int
	cause  error
}

func (e *UnavailableError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ledger unavailable: %v", e.cause)
	}
	return fmt.Sprintf("ledger unavailable: status %d", e.Status)
}

func (e *UnavailableError) Unwrap() error { return e.cause }

// Client queries an external ledger service for transaction records. Calls
// are read-only and carry an explicit timeout; repeated failures trip a
// circuit breaker so a dead ledger fails fast instead of holding every
// submission open.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuit.Breaker
}

// Config holds ledger client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new ledger query client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: circuit.NewBreaker(circuit.Config{
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		}),
	}
}

// Transaction fetches a single transaction record by reference
func (c *Client) Transaction(ctx context.Context, txRef string) (*Transaction, error) {
	var tx Transaction
	u := fmt.Sprintf("%s/transactions/%s", c.baseURL, url.PathEscape(txRef))
	if err := c.getJSON(ctx, u, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Operations fetches the operations of a transaction, oldest first
func (c *Client) Operations(ctx context.Context, txRef string) ([]Operation, error) {
	var page operationsPage
	u := fmt.Sprintf("%s/transactions/%s/operations?limit=%d&order=asc",
		c.baseURL, url.PathEscape(txRef), operationsPageLimit)
	if err := c.getJSON(ctx, u, &page); err != nil {
		return nil, err
	}
	return page.Embedded.Records, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	err := c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return &UnavailableError{cause: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			return &UnavailableError{Status: resp.StatusCode}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &UnavailableError{cause: fmt.Errorf("failed to decode response: %w", err)}
		}
		return nil
	})
	if errors.Is(err, circuit.ErrCircuitOpen) {
		return &UnavailableError{cause: err}
	}
	return err
}
