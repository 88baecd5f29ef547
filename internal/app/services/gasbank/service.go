package gasbank

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/gasbank"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage"
	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// Service manages the operator-funded gas balance that covers gateway
// delivery fees.
type Service struct {
	store storage.GasBankStore
	log   *logger.Logger
}

// New constructs a gas bank service.
func New(store storage.GasBankStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("gasbank")
	}
	return &Service{store: store, log: log}
}

// Deposit credits the gas balance with operator funds.
func (s *Service) Deposit(ctx context.Context, amount int64, reference string) (gasbank.Transaction, error) {
	if amount <= 0 {
		return gasbank.Transaction{}, fmt.Errorf("deposit amount must be positive")
	}
	tx, err := s.store.CreateGasTransaction(ctx, gasbank.Transaction{
		Kind:      gasbank.KindDeposit,
		Amount:    amount,
		Reference: strings.TrimSpace(reference),
	})
	if err != nil {
		return gasbank.Transaction{}, err
	}
	s.log.WithField("tx_id", tx.ID).
		WithField("amount", amount).
		Info("gas deposit recorded")
	return tx, nil
}

// Pay debits a delivery fee. Failure leaves the balance untouched and aborts
// the dispatch the fee would have funded.
func (s *Service) Pay(ctx context.Context, amount int64, messageRef string) error {
	if amount <= 0 {
		return nil
	}
	tx, err := s.store.CreateGasTransaction(ctx, gasbank.Transaction{
		Kind:      gasbank.KindPayment,
		Amount:    amount,
		MessageID: strings.TrimSpace(messageRef),
	})
	if err != nil {
		return fmt.Errorf("gas payment of %d: %w", amount, err)
	}
	s.log.WithField("tx_id", tx.ID).
		WithField("amount", amount).
		WithField("message", messageRef).
		Info("gas payment recorded")
	return nil
}

// Balance returns the current gas balance.
func (s *Service) Balance(ctx context.Context) (int64, error) {
	return s.store.GasBalance(ctx)
}

// History returns all gas ledger entries in order.
func (s *Service) History(ctx context.Context) ([]gasbank.Transaction, error) {
	return s.store.ListGasTransactions(ctx)
}
