// Package local provides an in-process messaging gateway that delivers
// directly between coordinators registered on it. It backs single-binary
// multi-domain simulations and the protocol tests; production deployments
// use the HTTP relay client instead.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
	"github.com/R3E-Network/liquidity_layer/internal/app/services/aggregator"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// Endpoint is the inbound surface of a coordinator reachable through the
// router.
type Endpoint interface {
	GetUserTokens(ctx context.Context, origin, sender string, call aggregator.PurchaseCall) (string, error)
	HandleWithTokens(ctx context.Context, origin, sender, token string, amount int64, payload []byte) (request.Request, error)
}

// Router connects coordinators by domain and delivers messages synchronously.
type Router struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	addresses map[string]string
	quote     int64
	log       *logger.Logger
}

// New creates a router quoting a flat gas fee per message.
func New(quote int64, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewDefault("local-router")
	}
	return &Router{
		endpoints: make(map[string]Endpoint),
		addresses: make(map[string]string),
		quote:     quote,
		log:       log,
	}
}

// Register attaches a coordinator under its domain and address.
func (r *Router) Register(domain, address string, ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[domain] = ep
	r.addresses[domain] = address
}

// Gateway returns the gateway bound to the given origin domain. Outbound
// messages carry the origin's registered address as the sender identity.
func (r *Router) Gateway(origin string) aggregator.Gateway {
	return &gateway{router: r, origin: origin}
}

type gateway struct {
	router *Router
	origin string
}

var _ aggregator.Gateway = (*gateway)(nil)

func (g *gateway) QuoteGasPayment(_ context.Context, _ string) (int64, error) {
	return g.router.quote, nil
}

func (g *gateway) DispatchPurchase(ctx context.Context, d aggregator.Dispatch) (string, error) {
	ep, sender, err := g.router.route(g.origin, d.Destination)
	if err != nil {
		return "", err
	}
	messageID := uuid.NewString()
	if _, err := ep.GetUserTokens(ctx, g.origin, sender, d.Call); err != nil {
		return "", fmt.Errorf("deliver purchase call to %s: %w", d.Destination, err)
	}
	g.router.log.WithField("origin", g.origin).
		WithField("destination", d.Destination).
		WithField("message_id", messageID).
		Debug("purchase call delivered")
	return messageID, nil
}

func (g *gateway) TransferRemote(ctx context.Context, t aggregator.Transfer) (string, error) {
	ep, sender, err := g.router.route(g.origin, t.Destination)
	if err != nil {
		return "", err
	}
	messageID := uuid.NewString()
	if _, err := ep.HandleWithTokens(ctx, g.origin, sender, t.Token, t.Amount, t.Callback); err != nil {
		return "", fmt.Errorf("deliver transfer to %s: %w", t.Destination, err)
	}
	g.router.log.WithField("origin", g.origin).
		WithField("destination", t.Destination).
		WithField("message_id", messageID).
		Debug("transfer delivered")
	return messageID, nil
}

func (r *Router) route(origin, destination string) (Endpoint, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[destination]
	if !ok {
		return nil, "", fmt.Errorf("no endpoint registered for domain %s", destination)
	}
	sender, ok := r.addresses[origin]
	if !ok {
		return nil, "", fmt.Errorf("origin domain %s is not registered", origin)
	}
	return ep, sender, nil
}
