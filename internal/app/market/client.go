// Package market implements the escrow adapter against the NFT market
// service holding listed items.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
	"github.com/R3E-Network/liquidity_layer/internal/app/services/aggregator"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// Client releases escrowed items over the market's HTTP API.
type Client struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ aggregator.Escrow = (*Client)(nil)

// NewClient constructs a market escrow client.
func NewClient(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("market endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse market endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("market")
	}
	return &Client{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

// ReleaseItem transfers an escrowed item to the recipient. The market
// rejects a second release of the same item with 409.
func (c *Client) ReleaseItem(ctx context.Context, item request.Item, recipient string) error {
	body, err := json.Marshal(map[string]string{
		"collection": item.Collection,
		"token_id":   item.TokenID,
		"recipient":  recipient,
	})
	if err != nil {
		return fmt.Errorf("encode release request: %w", err)
	}

	releaseURL := *c.endpoint
	releaseURL.Path = strings.TrimRight(releaseURL.Path, "/") + "/releases"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, releaseURL.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("release request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("item %s/%s already released", item.Collection, item.TokenID)
	default:
		return fmt.Errorf("release status %d", resp.StatusCode)
	}
}
