package aggregator

import (
	"context"
	"errors"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
)

// Sentinel errors surfaced by the coordinator. Callers match with errors.Is.
var (
	// ErrInvalidRequest covers structural problems with a buy call: no
	// funds, duplicate domains, non-positive amounts, missing fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownPeer means a remote fund names a domain without a
	// registered peer coordinator.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrUnauthorized means an inbound message did not come from the
	// registered peer of its origin domain.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMalformedCallback means an inbound settlement callback could not
	// be decoded or is inconsistent with the ledger.
	ErrMalformedCallback = errors.New("malformed callback")
	// ErrInsufficientFunds means a buyer balance or the gas bank cannot
	// cover the required amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// PurchaseCall describes a remote funding leg: the destination coordinator
// debits the buyer and transfers the tokens back to the origin.
type PurchaseCall struct {
	Token     string
	Amount    int64
	Buyer     string
	RequestID uint64
	FundIndex int
}

// Dispatch is an outbound purchase call routed to a peer coordinator.
type Dispatch struct {
	Destination string
	Recipient   string
	Call        PurchaseCall
	GasFee      int64
}

// Transfer moves tokens to a peer coordinator together with a settlement
// callback payload.
type Transfer struct {
	Destination string
	Recipient   string
	Token       string
	Amount      int64
	Callback    []byte
	GasFee      int64
}

// Gateway is the messaging layer the coordinator sends through. The gateway
// guarantees at-least-once delivery and authenticates the sender on the
// receiving side; ordering is not guaranteed.
type Gateway interface {
	QuoteGasPayment(ctx context.Context, destination string) (int64, error)
	DispatchPurchase(ctx context.Context, d Dispatch) (messageID string, err error)
	TransferRemote(ctx context.Context, t Transfer) (messageID string, err error)
}

// Escrow releases a held NFT to the buyer once a request is fully settled.
// Implementations reject a second release of the same item.
type Escrow interface {
	ReleaseItem(ctx context.Context, item request.Item, recipient string) error
}

// TokenVault debits and credits user token balances on the local domain.
type TokenVault interface {
	Debit(ctx context.Context, token, owner string, amount int64) error
	Credit(ctx context.Context, token, owner string, amount int64) error
}

// FeePayer settles gateway delivery fees. A payment failure aborts the
// dispatch it would have funded.
type FeePayer interface {
	Pay(ctx context.Context, amount int64, messageRef string) error
}
