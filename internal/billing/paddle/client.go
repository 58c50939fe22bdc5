// Package paddle is the Paddle Billing provider.
//
// Paddle has no official Go SDK, so checkout is a plain JSON call to the
// Transactions API and webhook verification is done here by hand.
package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sakif/resize-credits/internal/billing"
)

const (
	SandboxURL    = "https://sandbox-api.paddle.com"
	ProductionURL = "https://api.paddle.com"

	name = "paddle"

	// DefaultSignatureTolerance is how far a signed ts may be from our clock.
	DefaultSignatureTolerance = 5 * time.Minute
)

type Config struct {
	APIKey        string
	WebhookSecret string
	Sandbox       bool

	// BaseURL overrides the API host picked from Sandbox. Tests point it at
	// an httptest server.
	BaseURL    string
	HTTPClient *http.Client

	// SignatureTolerance bounds the age of a signed ts. Zero means
	// DefaultSignatureTolerance.
	SignatureTolerance time.Duration
}

type Client struct {
	apiKey        string
	webhookSecret []byte
	baseURL       string
	http          *http.Client
	tolerance     time.Duration
	now           func() time.Time
}

var _ billing.Provider = (*Client)(nil)

// New creates a Paddle client. Both the API key and the webhook secret are
// required, a provider that cannot verify webhooks must not run.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle: API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle: webhook secret is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ProductionURL
		if cfg.Sandbox {
			baseURL = SandboxURL
		}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	tolerance := cfg.SignatureTolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	return &Client{
		apiKey:        cfg.APIKey,
		webhookSecret: []byte(cfg.WebhookSecret),
		baseURL:       baseURL,
		http:          httpClient,
		tolerance:     tolerance,
		now:           time.Now,
	}, nil
}

func (c *Client) Name() string { return name }

type transactionItem struct {
	PriceID  string `json:"price_id"`
	Quantity int    `json:"quantity"`
}

type transactionRequest struct {
	Items         []transactionItem `json:"items"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	CustomData    customData        `json:"custom_data"`
	Checkout      *checkoutSettings `json:"checkout,omitempty"`
}

type customData struct {
	UserID string `json:"user_id"`
}

type checkoutSettings struct {
	URL string `json:"url"`
}

type transactionResponse struct {
	Data struct {
		ID       string `json:"id"`
		Checkout struct {
			URL string `json:"url"`
		} `json:"checkout"`
	} `json:"data"`
}

// CreateCheckout creates a transaction for one unit of the price and returns
// its hosted checkout URL. The user id rides along as custom data and comes
// back on the subscription webhooks.
func (c *Client) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	body := transactionRequest{
		Items:         []transactionItem{{PriceID: req.PriceID, Quantity: 1}},
		CustomerEmail: req.Email,
		CustomData:    customData{UserID: req.UserID},
	}
	if req.SuccessURL != "" {
		body.Checkout = &checkoutSettings{URL: req.SuccessURL}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("paddle: encoding transaction: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("paddle: building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("paddle: creating transaction: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("paddle: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paddle: creating transaction: status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var tr transactionResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("paddle: decoding transaction: %w", err)
	}
	if tr.Data.Checkout.URL == "" {
		return "", fmt.Errorf("paddle: transaction %s has no checkout url", tr.Data.ID)
	}
	return tr.Data.Checkout.URL, nil
}
