package request

import "time"

// Status describes the lifecycle of a purchase request.
type Status string

const (
	// StatusOpen means at least one fund is still awaiting settlement.
	StatusOpen Status = "open"
	// StatusFulfilled means every fund has settled and finalization ran.
	StatusFulfilled Status = "fulfilled"
)

// Item identifies the NFT being purchased.
type Item struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
}

// Fund is a single funding leg of a purchase request. Funds are ordered;
// their position in the request is the fund index carried by callbacks.
type Fund struct {
	Domain    string    `json:"domain"`
	Token     string    `json:"token"`
	Amount    int64     `json:"amount"`
	Settled   bool      `json:"settled"`
	SettledAt time.Time `json:"settled_at,omitempty"`
}

// FundInput is the caller-supplied description of a funding leg.
type FundInput struct {
	Domain string `json:"domain"`
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

// Request is a purchase request tracked by the fund ledger. ReceivedTotal
// accumulates the amounts delivered by verified peer transfers and never
// decreases; funds settled locally at creation do not contribute to it.
type Request struct {
	ID            uint64    `json:"id"`
	Buyer         string    `json:"buyer"`
	Item          Item      `json:"item"`
	Funds         []Fund    `json:"funds"`
	ReceivedTotal int64     `json:"received_total"`
	Fulfilled     bool      `json:"fulfilled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	FulfilledAt   time.Time `json:"fulfilled_at,omitempty"`
}

// FullySettled reports whether every fund of the request has settled.
func (r Request) FullySettled() bool {
	for _, f := range r.Funds {
		if !f.Settled {
			return false
		}
	}
	return true
}

// Status derives the lifecycle state from the fulfilled flag.
func (r Request) Status() Status {
	if r.Fulfilled {
		return StatusFulfilled
	}
	return StatusOpen
}

// PendingFunds returns the indexes of funds still awaiting settlement.
func (r Request) PendingFunds() []int {
	var pending []int
	for i, f := range r.Funds {
		if !f.Settled {
			pending = append(pending, i)
		}
	}
	return pending
}

// TotalAmount is the sum of all fund amounts, the full purchase price.
func (r Request) TotalAmount() int64 {
	var total int64
	for _, f := range r.Funds {
		total += f.Amount
	}
	return total
}
