package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
	"github.com/R3E-Network/liquidity_layer/internal/app/metrics"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// Service is the local purchase coordinator for one domain. It aggregates
// funds from remote domains into a single NFT purchase: Buy opens a request
// and dispatches funding calls to peer coordinators, GetUserTokens serves
// those calls on the remote side, and HandleWithTokens credits returning
// transfers until the request is fully settled.
type Service struct {
	domain  string
	store   storage.RequestStore
	peers   storage.PeerStore
	gateway Gateway
	vault   TokenVault
	escrow  Escrow
	fees    FeePayer
	log     *logger.Logger
}

// New constructs a coordinator for the given local domain.
func New(domain string, store storage.RequestStore, peers storage.PeerStore, gateway Gateway, vault TokenVault, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("aggregator")
	}
	return &Service{
		domain:  strings.TrimSpace(domain),
		store:   store,
		peers:   peers,
		gateway: gateway,
		vault:   vault,
		log:     log,
	}
}

// AttachEscrow wires the escrow used at finalization. Without an escrow the
// coordinator only records fulfillment.
func (s *Service) AttachEscrow(escrow Escrow) { s.escrow = escrow }

// AttachFeePayer wires the gas bank that covers gateway delivery fees.
func (s *Service) AttachFeePayer(fees FeePayer) { s.fees = fees }

// Domain returns the local domain identifier.
func (s *Service) Domain() string { return s.domain }

// Buy opens a purchase request. Funds on the local domain are debited from
// the buyer and settled immediately; each remote fund results in a purchase
// call dispatched to that domain's peer coordinator. Validation failures and
// unknown peers abort before any state changes.
func (s *Service) Buy(ctx context.Context, buyer string, item request.Item, funds []request.FundInput) (request.Request, error) {
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return request.Request{}, fmt.Errorf("%w: buyer is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(item.Collection) == "" || strings.TrimSpace(item.TokenID) == "" {
		return request.Request{}, fmt.Errorf("%w: item collection and token id are required", ErrInvalidRequest)
	}
	if len(funds) == 0 {
		return request.Request{}, fmt.Errorf("%w: at least one fund is required", ErrInvalidRequest)
	}

	seen := make(map[string]struct{}, len(funds))
	for i, f := range funds {
		if strings.TrimSpace(f.Domain) == "" || strings.TrimSpace(f.Token) == "" {
			return request.Request{}, fmt.Errorf("%w: fund %d needs a domain and token", ErrInvalidRequest, i)
		}
		if f.Amount <= 0 {
			return request.Request{}, fmt.Errorf("%w: fund %d amount must be positive", ErrInvalidRequest, i)
		}
		if _, dup := seen[f.Domain]; dup {
			return request.Request{}, fmt.Errorf("%w: duplicate fund domain %s", ErrInvalidRequest, f.Domain)
		}
		seen[f.Domain] = struct{}{}
	}

	// Resolve peers and quote fees before touching any state.
	type remoteLeg struct {
		index   int
		address string
		fee     int64
	}
	var remotes []remoteLeg
	for i, f := range funds {
		if f.Domain == s.domain {
			continue
		}
		p, err := s.peers.GetPeer(ctx, f.Domain)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return request.Request{}, fmt.Errorf("%w: no coordinator registered for domain %s", ErrUnknownPeer, f.Domain)
			}
			return request.Request{}, err
		}
		fee, err := s.gateway.QuoteGasPayment(ctx, f.Domain)
		if err != nil {
			return request.Request{}, fmt.Errorf("quote gas payment for %s: %w", f.Domain, err)
		}
		remotes = append(remotes, remoteLeg{index: i, address: p.Address, fee: fee})
	}

	// Debit local legs from the buyer. All debits are rolled back if any
	// leg cannot be covered.
	var debited []request.FundInput
	for _, f := range funds {
		if f.Domain != s.domain {
			continue
		}
		if err := s.vault.Debit(ctx, f.Token, buyer, f.Amount); err != nil {
			for _, d := range debited {
				if cerr := s.vault.Credit(ctx, d.Token, buyer, d.Amount); cerr != nil {
					s.log.WithError(cerr).Warnf("rollback credit of %d %s to %s failed", d.Amount, d.Token, buyer)
				}
			}
			return request.Request{}, fmt.Errorf("%w: debit %d %s from %s: %v", ErrInsufficientFunds, f.Amount, f.Token, buyer, err)
		}
		debited = append(debited, f)
	}

	req := request.Request{Buyer: buyer, Item: item}
	for _, f := range funds {
		req.Funds = append(req.Funds, request.Fund{
			Domain:  f.Domain,
			Token:   f.Token,
			Amount:  f.Amount,
			Settled: f.Domain == s.domain,
		})
	}

	req, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		for _, d := range debited {
			if cerr := s.vault.Credit(ctx, d.Token, buyer, d.Amount); cerr != nil {
				s.log.WithError(cerr).Warnf("rollback credit of %d %s to %s failed", d.Amount, d.Token, buyer)
			}
		}
		return request.Request{}, err
	}
	metrics.RecordRequestCreated(len(funds))

	s.log.WithField("request_id", req.ID).
		WithField("buyer", buyer).
		WithField("funds", len(req.Funds)).
		Info("purchase request created")

	for _, leg := range remotes {
		f := req.Funds[leg.index]
		d := Dispatch{
			Destination: f.Domain,
			Recipient:   leg.address,
			Call: PurchaseCall{
				Token:     f.Token,
				Amount:    f.Amount,
				Buyer:     buyer,
				RequestID: req.ID,
				FundIndex: leg.index,
			},
			GasFee: leg.fee,
		}
		if err := s.payFee(ctx, leg.fee, fmt.Sprintf("dispatch request %d fund %d", req.ID, leg.index)); err != nil {
			return req, err
		}
		messageID, err := s.gateway.DispatchPurchase(ctx, d)
		if err != nil {
			s.log.WithError(err).
				WithField("request_id", req.ID).
				WithField("destination", f.Domain).
				Error("purchase dispatch failed; fund remains pending")
			return req, fmt.Errorf("dispatch to %s: %w", f.Domain, err)
		}
		metrics.RecordDispatch("purchase")
		s.log.WithField("request_id", req.ID).
			WithField("destination", f.Domain).
			WithField("message_id", messageID).
			Info("purchase call dispatched")
	}

	if req.Fulfilled {
		s.finalize(ctx, req)
	}
	return req, nil
}

// GetUserTokens serves a purchase call dispatched by the origin coordinator:
// it debits the buyer on this domain and transfers the tokens back with a
// settlement callback attached. The sender must be the registered peer of the
// origin domain.
func (s *Service) GetUserTokens(ctx context.Context, origin, sender string, call PurchaseCall) (string, error) {
	if err := s.verifySender(ctx, origin, sender); err != nil {
		return "", err
	}
	if strings.TrimSpace(call.Token) == "" || strings.TrimSpace(call.Buyer) == "" {
		return "", fmt.Errorf("%w: purchase call needs a token and buyer", ErrInvalidRequest)
	}
	if call.Amount <= 0 {
		return "", fmt.Errorf("%w: purchase call amount must be positive", ErrInvalidRequest)
	}
	if call.FundIndex < 0 {
		return "", fmt.Errorf("%w: negative fund index", ErrInvalidRequest)
	}

	if err := s.vault.Debit(ctx, call.Token, call.Buyer, call.Amount); err != nil {
		return "", fmt.Errorf("%w: debit %d %s from %s: %v", ErrInsufficientFunds, call.Amount, call.Token, call.Buyer, err)
	}

	refund := func() {
		if err := s.vault.Credit(ctx, call.Token, call.Buyer, call.Amount); err != nil {
			s.log.WithError(err).Warnf("refund of %d %s to %s failed", call.Amount, call.Token, call.Buyer)
		}
	}

	payload, err := request.EncodeCallback(call.RequestID, call.FundIndex)
	if err != nil {
		refund()
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	fee, err := s.gateway.QuoteGasPayment(ctx, origin)
	if err != nil {
		refund()
		return "", fmt.Errorf("quote gas payment for %s: %w", origin, err)
	}
	if err := s.payFee(ctx, fee, fmt.Sprintf("transfer request %d fund %d", call.RequestID, call.FundIndex)); err != nil {
		refund()
		return "", err
	}

	messageID, err := s.gateway.TransferRemote(ctx, Transfer{
		Destination: origin,
		Recipient:   sender,
		Token:       call.Token,
		Amount:      call.Amount,
		Callback:    payload,
		GasFee:      fee,
	})
	if err != nil {
		refund()
		return "", fmt.Errorf("transfer to %s: %w", origin, err)
	}
	metrics.RecordDispatch("transfer")

	s.log.WithField("request_id", call.RequestID).
		WithField("fund_index", call.FundIndex).
		WithField("origin", origin).
		WithField("message_id", messageID).
		Info("user tokens sent to origin coordinator")
	return messageID, nil
}

// HandleWithTokens processes a verified token delivery carrying a settlement
// callback. Duplicate deliveries are no-ops; the delivery that settles the
// last outstanding fund triggers finalization exactly once.
func (s *Service) HandleWithTokens(ctx context.Context, origin, sender, token string, amount int64, payload []byte) (request.Request, error) {
	if err := s.verifySender(ctx, origin, sender); err != nil {
		return request.Request{}, err
	}

	cb, err := request.DecodeCallback(payload)
	if err != nil {
		return request.Request{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	req, err := s.store.GetRequest(ctx, cb.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return request.Request{}, fmt.Errorf("%w: unknown request %d", ErrMalformedCallback, cb.RequestID)
		}
		return request.Request{}, err
	}
	if cb.FundIndex >= len(req.Funds) {
		return request.Request{}, fmt.Errorf("%w: request %d has no fund %d", ErrMalformedCallback, cb.RequestID, cb.FundIndex)
	}

	fund := req.Funds[cb.FundIndex]
	if fund.Domain != origin {
		return request.Request{}, fmt.Errorf("%w: fund %d belongs to domain %s, delivery came from %s", ErrMalformedCallback, cb.FundIndex, fund.Domain, origin)
	}
	if fund.Token != token {
		return request.Request{}, fmt.Errorf("%w: fund %d expects token %s, got %s", ErrMalformedCallback, cb.FundIndex, fund.Token, token)
	}
	if fund.Amount != amount {
		return request.Request{}, fmt.Errorf("%w: fund %d expects amount %d, got %d", ErrMalformedCallback, cb.FundIndex, fund.Amount, amount)
	}

	req, outcome, err := s.store.SettleFund(ctx, cb.RequestID, cb.FundIndex, amount)
	if err != nil {
		return request.Request{}, err
	}

	if outcome.AlreadySettled {
		s.log.WithField("request_id", cb.RequestID).
			WithField("fund_index", cb.FundIndex).
			Info("duplicate delivery ignored")
		return req, nil
	}

	metrics.RecordFundSettled(origin)
	s.log.WithField("request_id", cb.RequestID).
		WithField("fund_index", cb.FundIndex).
		WithField("origin", origin).
		WithField("received_total", req.ReceivedTotal).
		Info("fund settled")

	if outcome.BecameFulfilled {
		s.finalize(ctx, req)
	}
	return req, nil
}

// GetRequest returns a purchase request with its fund ledger.
func (s *Service) GetRequest(ctx context.Context, id uint64) (request.Request, error) {
	return s.store.GetRequest(ctx, id)
}

// ListRequests returns all purchase requests ordered by id.
func (s *Service) ListRequests(ctx context.Context) ([]request.Request, error) {
	return s.store.ListRequests(ctx)
}

func (s *Service) verifySender(ctx context.Context, origin, sender string) error {
	p, err := s.peers.GetPeer(ctx, origin)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: no peer registered for domain %s", ErrUnauthorized, origin)
		}
		return err
	}
	if p.Address != sender {
		return fmt.Errorf("%w: sender %s is not the registered coordinator for %s", ErrUnauthorized, sender, origin)
	}
	return nil
}

func (s *Service) payFee(ctx context.Context, amount int64, ref string) error {
	if s.fees == nil || amount <= 0 {
		return nil
	}
	if err := s.fees.Pay(ctx, amount, ref); err != nil {
		return fmt.Errorf("%w: gas payment of %d for %s: %v", ErrInsufficientFunds, amount, ref, err)
	}
	return nil
}

// finalize runs once per request, on the transition into fully settled. An
// escrow failure is reported but the fund ledger is never rolled back.
func (s *Service) finalize(ctx context.Context, req request.Request) {
	metrics.RecordFinalization(time.Since(req.CreatedAt))
	s.log.WithField("request_id", req.ID).
		WithField("buyer", req.Buyer).
		WithField("received_total", req.ReceivedTotal).
		Info("purchase fully settled")

	if s.escrow == nil {
		s.log.WithField("request_id", req.ID).Warn("no escrow attached; item not released")
		return
	}
	if err := s.escrow.ReleaseItem(ctx, req.Item, req.Buyer); err != nil {
		metrics.RecordEscrowReleaseFailure()
		s.log.WithError(err).
			WithField("request_id", req.ID).
			WithField("collection", req.Item.Collection).
			WithField("token_id", req.Item.TokenID).
			Error("escrow release failed")
		return
	}
	s.log.WithField("request_id", req.ID).
		WithField("collection", req.Item.Collection).
		WithField("token_id", req.Item.TokenID).
		WithField("recipient", req.Buyer).
		Info("item released to buyer")
}
