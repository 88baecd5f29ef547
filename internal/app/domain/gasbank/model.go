// Package gasbank models the operator-funded balance that pays message
// delivery fees quoted by the gateway.
package gasbank

import "time"

// Kind classifies a gas bank ledger entry.
type Kind string

const (
	// KindDeposit credits the balance with operator funds.
	KindDeposit Kind = "deposit"
	// KindPayment debits the balance for a dispatched message.
	KindPayment Kind = "payment"
)

// Transaction is one gas bank ledger entry. Amount is always positive; the
// kind determines the sign applied to the balance.
type Transaction struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Amount    int64     `json:"amount"`
	MessageID string    `json:"message_id,omitempty"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
