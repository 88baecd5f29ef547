// Package vault tracks user token balances on the local domain. It is the
// accounting layer behind buy-side debits and remote purchase calls; the
// actual token custody sits with the bridge contracts the gateway fronts.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/liquidity_layer/pkg/logger"
)

// ErrInsufficientBalance is returned when a debit exceeds the owner's balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Balance is one owner's holding of one token.
type Balance struct {
	Token  string
	Owner  string
	Amount int64
}

// Memory is an in-memory token vault safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	balances map[string]int64
	log      *logger.Logger
}

// NewMemory creates an empty vault.
func NewMemory(log *logger.Logger) *Memory {
	if log == nil {
		log = logger.NewDefault("vault")
	}
	return &Memory{balances: make(map[string]int64), log: log}
}

// Deposit credits an owner's balance. Used to fund accounts in local and
// test deployments.
func (m *Memory) Deposit(ctx context.Context, token, owner string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	return m.Credit(ctx, token, owner, amount)
}

// Credit adds amount to the owner's balance of token.
func (m *Memory) Credit(_ context.Context, token, owner string, amount int64) error {
	token = strings.TrimSpace(token)
	owner = strings.TrimSpace(owner)
	if token == "" || owner == "" {
		return fmt.Errorf("token and owner are required")
	}
	if amount < 0 {
		return fmt.Errorf("credit amount must not be negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[key(token, owner)] += amount
	return nil
}

// Debit removes amount from the owner's balance of token. The balance is
// never driven below zero.
func (m *Memory) Debit(_ context.Context, token, owner string, amount int64) error {
	token = strings.TrimSpace(token)
	owner = strings.TrimSpace(owner)
	if token == "" || owner == "" {
		return fmt.Errorf("token and owner are required")
	}
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(token, owner)
	if m.balances[k] < amount {
		return fmt.Errorf("%w: %s holds %d %s, need %d", ErrInsufficientBalance, owner, m.balances[k], token, amount)
	}
	m.balances[k] -= amount
	return nil
}

// BalanceOf returns the owner's balance of token.
func (m *Memory) BalanceOf(_ context.Context, token, owner string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[key(token, owner)]
}

// Balances returns all non-zero balances, ordered for stable output.
func (m *Memory) Balances(_ context.Context) []Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Balance, 0, len(m.balances))
	for k, amount := range m.balances {
		if amount == 0 {
			continue
		}
		token, owner, _ := strings.Cut(k, "|")
		result = append(result, Balance{Token: token, Owner: owner, Amount: amount})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Token != result[j].Token {
			return result[i].Token < result[j].Token
		}
		return result[i].Owner < result[j].Owner
	})
	return result
}

func key(token, owner string) string {
	return token + "|" + owner
}
