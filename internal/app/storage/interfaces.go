package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/gasbank"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/peer"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrGasBalanceExceeded is returned when a payment would drive the gas
// balance below zero.
var ErrGasBalanceExceeded = errors.New("gas balance exceeded")

// SettleOutcome reports the effect of a SettleFund call. AlreadySettled and
// BecameFulfilled are mutually exclusive: a duplicate settlement leaves the
// ledger untouched.
type SettleOutcome struct {
	AlreadySettled  bool
	BecameFulfilled bool
}

// RequestStore persists purchase requests and their fund ledgers.
type RequestStore interface {
	// CreateRequest assigns the next request id in a strictly increasing
	// sequence and stores the request.
	CreateRequest(ctx context.Context, req request.Request) (request.Request, error)
	GetRequest(ctx context.Context, id uint64) (request.Request, error)
	ListRequests(ctx context.Context) ([]request.Request, error)
	ListOpenRequests(ctx context.Context) ([]request.Request, error)
	// SettleFund marks one fund as settled and adds amount to the request's
	// received total. Settling an already-settled fund is a no-op reported
	// through the outcome; the received total is never double-counted.
	// BecameFulfilled is true only on the call that settles the last
	// outstanding fund.
	SettleFund(ctx context.Context, requestID uint64, fundIndex int, amount int64) (request.Request, SettleOutcome, error)
}

// PeerStore persists the trusted coordinator registry.
type PeerStore interface {
	SetPeer(ctx context.Context, p peer.Peer) (peer.Peer, error)
	GetPeer(ctx context.Context, domain string) (peer.Peer, error)
	ListPeers(ctx context.Context) ([]peer.Peer, error)
	DeletePeer(ctx context.Context, domain string) error
}

// GasBankStore persists the gas ledger. Implementations must reject payments
// that would drive the balance negative.
type GasBankStore interface {
	CreateGasTransaction(ctx context.Context, tx gasbank.Transaction) (gasbank.Transaction, error)
	GasBalance(ctx context.Context) (int64, error)
	ListGasTransactions(ctx context.Context) ([]gasbank.Transaction, error)
}
