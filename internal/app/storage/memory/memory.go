package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/gasbank"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/peer"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu         sync.RWMutex
	nextID     uint64
	requests   map[uint64]request.Request
	peers      map[string]peer.Peer
	gasLedger  []gasbank.Transaction
	gasBalance int64
}

var _ storage.RequestStore = (*Store)(nil)
var _ storage.PeerStore = (*Store)(nil)
var _ storage.GasBankStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:   1,
		requests: make(map[uint64]request.Request),
		peers:    make(map[string]peer.Peer),
	}
}

// RequestStore implementation -------------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req request.Request) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.ID = s.nextID
	s.nextID++

	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	req.Funds = cloneFunds(req.Funds)

	// Locally settled funds never count toward the received total; it only
	// accumulates amounts delivered through verified peer transfers.
	req.ReceivedTotal = 0
	for i := range req.Funds {
		if req.Funds[i].Settled {
			req.Funds[i].SettledAt = now
		}
	}
	req.Fulfilled = req.FullySettled()
	if req.Fulfilled {
		req.FulfilledAt = now
	}

	s.requests[req.ID] = req
	return cloneRequest(req), nil
}

func (s *Store) GetRequest(_ context.Context, id uint64) (request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return request.Request{}, fmt.Errorf("request %d: %w", id, storage.ErrNotFound)
	}
	return cloneRequest(req), nil
}

func (s *Store) ListRequests(_ context.Context) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]request.Request, 0, len(s.requests))
	for _, req := range s.requests {
		result = append(result, cloneRequest(req))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) ListOpenRequests(_ context.Context) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]request.Request, 0)
	for _, req := range s.requests {
		if !req.Fulfilled {
			result = append(result, cloneRequest(req))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SettleFund(_ context.Context, requestID uint64, fundIndex int, amount int64) (request.Request, storage.SettleOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return request.Request{}, storage.SettleOutcome{}, fmt.Errorf("request %d: %w", requestID, storage.ErrNotFound)
	}
	if fundIndex < 0 || fundIndex >= len(req.Funds) {
		return request.Request{}, storage.SettleOutcome{}, fmt.Errorf("request %d has no fund %d: %w", requestID, fundIndex, storage.ErrNotFound)
	}

	req = cloneRequest(req)
	if req.Funds[fundIndex].Settled {
		return req, storage.SettleOutcome{AlreadySettled: true}, nil
	}

	now := time.Now().UTC()
	req.Funds[fundIndex].Settled = true
	req.Funds[fundIndex].SettledAt = now
	req.ReceivedTotal += amount
	req.UpdatedAt = now

	var outcome storage.SettleOutcome
	if req.FullySettled() {
		req.Fulfilled = true
		req.FulfilledAt = now
		outcome.BecameFulfilled = true
	}

	s.requests[requestID] = req
	return cloneRequest(req), outcome, nil
}

// PeerStore implementation ----------------------------------------------------

func (s *Store) SetPeer(_ context.Context, p peer.Peer) (peer.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.peers[p.Domain]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	s.peers[p.Domain] = p
	return p, nil
}

func (s *Store) GetPeer(_ context.Context, domain string) (peer.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.peers[domain]
	if !ok {
		return peer.Peer{}, fmt.Errorf("peer for domain %s: %w", domain, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListPeers(_ context.Context) ([]peer.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]peer.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Domain < result[j].Domain })
	return result, nil
}

func (s *Store) DeletePeer(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[domain]; !ok {
		return fmt.Errorf("peer for domain %s: %w", domain, storage.ErrNotFound)
	}
	delete(s.peers, domain)
	return nil
}

// GasBankStore implementation -------------------------------------------------

func (s *Store) CreateGasTransaction(_ context.Context, tx gasbank.Transaction) (gasbank.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Amount <= 0 {
		return gasbank.Transaction{}, fmt.Errorf("gas transaction amount must be positive")
	}

	switch tx.Kind {
	case gasbank.KindDeposit:
	case gasbank.KindPayment:
		if s.gasBalance < tx.Amount {
			return gasbank.Transaction{}, storage.ErrGasBalanceExceeded
		}
	default:
		return gasbank.Transaction{}, fmt.Errorf("unknown gas transaction kind %q", tx.Kind)
	}

	if strings.TrimSpace(tx.ID) == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	if tx.Kind == gasbank.KindDeposit {
		s.gasBalance += tx.Amount
	} else {
		s.gasBalance -= tx.Amount
	}
	s.gasLedger = append(s.gasLedger, tx)
	return tx, nil
}

func (s *Store) GasBalance(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gasBalance, nil
}

func (s *Store) ListGasTransactions(_ context.Context) ([]gasbank.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gasbank.Transaction(nil), s.gasLedger...), nil
}

func cloneRequest(req request.Request) request.Request {
	req.Funds = cloneFunds(req.Funds)
	return req
}

func cloneFunds(funds []request.Fund) []request.Fund {
	return append([]request.Fund(nil), funds...)
}
