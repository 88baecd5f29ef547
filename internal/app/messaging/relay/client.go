// Package relay implements the messaging gateway against an HTTP relayer.
// The relayer fronts the interchain transport: it carries purchase calls and
// token transfers between domains and verifies sender identity on delivery.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/R3E-Network/liquidity_layer/internal/app/services/aggregator"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// Client talks to a relayer over HTTP.
type Client struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	origin   string
	log      *logger.Logger
}

var _ aggregator.Gateway = (*Client)(nil)

// NewClient constructs a relay client bound to the local origin domain.
func NewClient(client *http.Client, endpoint, apiKey, origin string, log *logger.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("relay endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse relay endpoint: %w", err)
	}
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, fmt.Errorf("origin domain required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("relay")
	}
	return &Client{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		origin:   origin,
		log:      log,
	}, nil
}

// QuoteGasPayment asks the relayer for the delivery fee to a destination.
func (c *Client) QuoteGasPayment(ctx context.Context, destination string) (int64, error) {
	quoteURL := *c.endpoint
	quoteURL.Path = strings.TrimRight(quoteURL.Path, "/") + "/quote"
	q := quoteURL.Query()
	q.Set("destination", destination)
	quoteURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, quoteURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build quote request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("quote status %d", resp.StatusCode)
	}

	var payload struct {
		Fee int64 `json:"fee"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode quote response: %w", err)
	}
	if payload.Fee < 0 {
		return 0, fmt.Errorf("negative fee quoted")
	}
	return payload.Fee, nil
}

// DispatchPurchase submits a purchase call for delivery to the destination
// coordinator.
func (c *Client) DispatchPurchase(ctx context.Context, d aggregator.Dispatch) (string, error) {
	body := map[string]interface{}{
		"origin":      c.origin,
		"destination": d.Destination,
		"recipient":   d.Recipient,
		"gas_fee":     d.GasFee,
		"call": map[string]interface{}{
			"token":      d.Call.Token,
			"amount":     d.Call.Amount,
			"buyer":      d.Call.Buyer,
			"request_id": d.Call.RequestID,
			"fund_index": d.Call.FundIndex,
		},
	}
	return c.post(ctx, "/dispatch", body)
}

// TransferRemote submits a token transfer with attached callback payload.
func (c *Client) TransferRemote(ctx context.Context, t aggregator.Transfer) (string, error) {
	body := map[string]interface{}{
		"origin":      c.origin,
		"destination": t.Destination,
		"recipient":   t.Recipient,
		"token":       t.Token,
		"amount":      t.Amount,
		"callback":    t.Callback,
		"gas_fee":     t.GasFee,
	}
	return c.post(ctx, "/transfer", body)
}

func (c *Client) post(ctx context.Context, path string, body map[string]interface{}) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode relay request: %w", err)
	}

	postURL := *c.endpoint
	postURL.Path = strings.TrimRight(postURL.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL.String(), bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("relay status %d", resp.StatusCode)
	}

	var payload struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode relay response: %w", err)
	}
	if payload.MessageID == "" {
		return "", fmt.Errorf("relay returned no message id")
	}
	return payload.MessageID, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
