package peers

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/peer"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// Service manages the trusted coordinator registry. Writes are privileged;
// the HTTP layer enforces admin authentication before they reach here.
type Service struct {
	localDomain string
	store       storage.PeerStore
	log         *logger.Logger
}

// New constructs a peer registry service for the given local domain.
func New(localDomain string, store storage.PeerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("peers")
	}
	return &Service{localDomain: strings.TrimSpace(localDomain), store: store, log: log}
}

// SetPeer registers or replaces the trusted coordinator for a remote domain.
func (s *Service) SetPeer(ctx context.Context, domain, address string) (peer.Peer, error) {
	domain = strings.TrimSpace(domain)
	address = strings.TrimSpace(address)
	if domain == "" {
		return peer.Peer{}, fmt.Errorf("domain is required")
	}
	if address == "" {
		return peer.Peer{}, fmt.Errorf("address is required")
	}
	if domain == s.localDomain {
		return peer.Peer{}, fmt.Errorf("cannot register a peer for the local domain %s", domain)
	}

	p, err := s.store.SetPeer(ctx, peer.Peer{Domain: domain, Address: address})
	if err != nil {
		return peer.Peer{}, err
	}
	s.log.WithField("domain", domain).
		WithField("address", address).
		Info("peer registered")
	return p, nil
}

// GetPeer returns the registered coordinator for a domain.
func (s *Service) GetPeer(ctx context.Context, domain string) (peer.Peer, error) {
	return s.store.GetPeer(ctx, strings.TrimSpace(domain))
}

// ListPeers returns all registered peers ordered by domain.
func (s *Service) ListPeers(ctx context.Context) ([]peer.Peer, error) {
	return s.store.ListPeers(ctx)
}

// RemovePeer deletes a peer registration.
func (s *Service) RemovePeer(ctx context.Context, domain string) error {
	domain = strings.TrimSpace(domain)
	if err := s.store.DeletePeer(ctx, domain); err != nil {
		return err
	}
	s.log.WithField("domain", domain).Info("peer removed")
	return nil
}
